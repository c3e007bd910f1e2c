// Package identity implements domain.IdentityProvider over the OAuth2
// authorization-code flow, holding the signed-in user as a session token.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/MrSnakeDoc/marks/internal/domain"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Opener hands the authorization URL to the user (browser, log line, test).
type Opener func(ctx context.Context, authURL string) error

type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	SessionTTL   time.Duration // default 24h
	StateTTL     time.Duration // how long a started sign-in stays valid, default 10m

	Tokens     *TokenService
	Opener     Opener       // default: log the URL
	HTTPClient *http.Client // used for code exchange and userinfo, default http.DefaultClient
}

type providerConfig struct {
	oauth       *oauth2.Config
	userInfoURL string
}

type pendingSignIn struct {
	provider string
	expires  time.Time
}

// Provider is the agent's identity provider. At most one session is held.
type Provider struct {
	opts   Options
	logger logger.Logger
	http   *resty.Client
	now    func() time.Time

	mu        sync.Mutex
	providers map[string]providerConfig
	pending   map[string]pendingSignIn // state -> sign-in
	token     string
	nextSub   uint64
	listeners map[uint64]func(*domain.Identity)
}

func NewProvider(opts Options, log logger.Logger) *Provider {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 10 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	log = log.Named("identity")
	if opts.Opener == nil {
		opts.Opener = func(_ context.Context, authURL string) error {
			log.Info("open this URL to sign in", logger.String("url", authURL))
			return nil
		}
	}

	p := &Provider{
		opts:      opts,
		logger:    log,
		http:      resty.NewWithClient(opts.HTTPClient),
		now:       time.Now,
		providers: make(map[string]providerConfig),
		pending:   make(map[string]pendingSignIn),
		listeners: make(map[uint64]func(*domain.Identity)),
	}
	p.Register("google", endpoints.Google, []string{"openid", "email", "profile"},
		"https://openidconnect.googleapis.com/v1/userinfo")
	p.Register("github", endpoints.GitHub, []string{"read:user", "user:email"},
		"https://api.github.com/user")
	return p
}

// Register adds or replaces a named OAuth2 provider.
func (p *Provider) Register(name string, endpoint oauth2.Endpoint, scopes []string, userInfoURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.providers[name] = providerConfig{
		oauth: &oauth2.Config{
			ClientID:     p.opts.ClientID,
			ClientSecret: p.opts.ClientSecret,
			RedirectURL:  p.opts.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
	}
}

// CurrentIdentity returns the session's identity, or nil when signed out
// or when the session has expired.
func (p *Provider) CurrentIdentity(_ context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	if token == "" {
		return nil, nil
	}
	id, err := p.opts.Tokens.Validate(token)
	if errors.Is(err, ErrTokenExpired) {
		p.logger.Info("session expired")
		p.mu.Lock()
		if p.token == token {
			p.token = ""
		}
		p.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		return nil, domain.ProviderError("current_identity", err)
	}
	return id, nil
}

func (p *Provider) OnSessionChange(fn func(*domain.Identity)) domain.Subscription {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.listeners[id] = fn
	p.mu.Unlock()

	return domain.SubscriptionFunc(func() error {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
		return nil
	})
}

// SignInWithProvider starts the authorization-code flow and returns once
// the authorization URL has been handed to the Opener. Complete finishes it.
func (p *Provider) SignInWithProvider(ctx context.Context, name string) error {
	p.mu.Lock()
	cfg, ok := p.providers[name]
	if !ok {
		p.mu.Unlock()
		return domain.ProviderError("sign_in", fmt.Errorf("unknown provider %q", name))
	}
	state := uuid.NewString()
	now := p.now()
	p.pending[state] = pendingSignIn{provider: name, expires: now.Add(p.opts.StateTTL)}
	for s, pend := range p.pending {
		if now.After(pend.expires) {
			delete(p.pending, s)
		}
	}
	p.mu.Unlock()

	authURL := cfg.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
	if err := p.opts.Opener(ctx, authURL); err != nil {
		p.mu.Lock()
		delete(p.pending, state)
		p.mu.Unlock()
		return domain.ProviderError("sign_in", err)
	}
	return nil
}

// Complete handles the OAuth callback: it checks state, exchanges code,
// fetches the user's profile and starts the session.
func (p *Provider) Complete(ctx context.Context, state, code string) (*domain.Identity, error) {
	p.mu.Lock()
	pend, ok := p.pending[state]
	delete(p.pending, state)
	cfg := p.providers[pend.provider]
	p.mu.Unlock()

	if !ok || p.now().After(pend.expires) {
		return nil, domain.ProviderError("complete", errors.New("unknown or expired sign-in state"))
	}
	if code == "" {
		return nil, domain.ProviderError("complete", errors.New("missing authorization code"))
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.opts.HTTPClient)
	tok, err := cfg.oauth.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, domain.ProviderError("complete", fmt.Errorf("exchanging code: %w", err))
	}

	id, err := p.fetchUser(ctx, pend.provider, cfg.userInfoURL, tok.AccessToken)
	if err != nil {
		return nil, domain.ProviderError("complete", err)
	}

	session, err := p.opts.Tokens.Generate(*id, p.opts.SessionTTL)
	if err != nil {
		return nil, domain.ProviderError("complete", err)
	}

	p.mu.Lock()
	p.token = session
	p.mu.Unlock()

	p.logger.Info("signed in",
		logger.String("provider", pend.provider),
		logger.String("user_id", id.ID))
	p.notify(id)
	return id, nil
}

// SignOut drops the session and notifies listeners.
func (p *Provider) SignOut(_ context.Context) error {
	p.mu.Lock()
	had := p.token != ""
	p.token = ""
	p.mu.Unlock()

	if had {
		p.logger.Info("signed out")
	}
	p.notify(nil)
	return nil
}

func (p *Provider) notify(id *domain.Identity) {
	p.mu.Lock()
	fns := make([]func(*domain.Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		if id == nil {
			fn(nil)
			continue
		}
		cp := *id
		fn(&cp)
	}
}

// userInfo covers both OpenID Connect ("sub") and GitHub ("id", "login").
type userInfo struct {
	Sub   string      `json:"sub"`
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Login string      `json:"login"`
	Email string      `json:"email"`
}

func (p *Provider) fetchUser(ctx context.Context, provider, url, accessToken string) (*domain.Identity, error) {
	var info userInfo
	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Accept", "application/json").
		SetResult(&info).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling userinfo: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode())
	}

	subject := info.Sub
	if subject == "" {
		subject = info.ID.String()
	}
	if subject == "" || subject == "0" {
		return nil, errors.New("userinfo has no subject")
	}
	name := info.Name
	if name == "" {
		name = info.Login
	}

	return &domain.Identity{
		ID:    provider + "|" + subject,
		Name:  name,
		Email: info.Email,
	}, nil
}
