package bookmarks

import "time"

const (
	DefaultToastDuration = 2 * time.Second

	toastAdded   = "Bookmark added"
	toastDeleted = "Bookmark deleted"
)

// showToast sets msg and schedules its removal. A newer toast replaces the
// older one and its timer. Loop only.
func (l *List) showToast(msg string) {
	l.stopToast()
	l.toast = msg
	l.toastSeq++
	seq := l.toastSeq
	l.toastTimer = time.AfterFunc(l.opts.ToastDuration, func() {
		l.post(func() {
			if l.toastSeq != seq {
				return
			}
			l.toast = ""
			l.toastTimer = nil
			l.publish()
		})
	})
}

// stopToast clears the toast without publishing. Loop only.
func (l *List) stopToast() {
	if l.toastTimer != nil {
		l.toastTimer.Stop()
		l.toastTimer = nil
	}
	l.toast = ""
	l.toastSeq++
}
