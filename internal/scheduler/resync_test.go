package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

type countingLoader struct {
	calls atomic.Int32
	err   error
	seen  chan struct{}
}

func newCountingLoader() *countingLoader {
	return &countingLoader{seen: make(chan struct{}, 64)}
}

func (c *countingLoader) Load() error {
	c.calls.Add(1)
	c.seen <- struct{}{}
	return c.err
}

func waitCall(t *testing.T, c *countingLoader) {
	t.Helper()
	select {
	case <-c.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("Load was not called")
	}
}

func TestResyncer_Periodic(t *testing.T) {
	loader := newCountingLoader()
	r := NewResyncer(loader, logger.NewNop(), 10*time.Millisecond, make(chan struct{}, 1))
	r.Start(context.Background())
	defer r.Stop()

	waitCall(t, loader)
	waitCall(t, loader)
	if got := loader.calls.Load(); got < 2 {
		t.Errorf("Load calls = %d, want >= 2", got)
	}
}

func TestResyncer_ManualTrigger(t *testing.T) {
	loader := newCountingLoader()
	trigger := make(chan struct{}, 1)
	r := NewResyncer(loader, logger.NewNop(), 0, trigger)
	r.Start(context.Background())
	defer r.Stop()

	trigger <- struct{}{}
	waitCall(t, loader)

	time.Sleep(30 * time.Millisecond)
	if got := loader.calls.Load(); got != 1 {
		t.Errorf("Load calls = %d, want 1 with the ticker disabled", got)
	}
}

func TestResyncer_LoadErrorKeepsRunning(t *testing.T) {
	loader := newCountingLoader()
	loader.err = errors.New("closed")
	trigger := make(chan struct{}, 1)
	r := NewResyncer(loader, logger.NewNop(), 0, trigger)
	r.Start(context.Background())
	defer r.Stop()

	trigger <- struct{}{}
	waitCall(t, loader)
	trigger <- struct{}{}
	waitCall(t, loader)
}

func TestResyncer_StopsOnContext(t *testing.T) {
	loader := newCountingLoader()
	trigger := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	r := NewResyncer(loader, logger.NewNop(), 0, trigger)
	r.Start(ctx)
	cancel()

	time.Sleep(20 * time.Millisecond)
	trigger <- struct{}{}
	time.Sleep(30 * time.Millisecond)
	if got := loader.calls.Load(); got != 0 {
		t.Errorf("Load calls = %d after cancel, want 0", got)
	}
}
