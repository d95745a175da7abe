package gateway

import (
	"sync"
	"time"
)

// previewErrorWindow is the debounce window spec.md §4.1 assigns to
// preview_error: identical-looking errors arriving within this window
// collapse into a single auto-fix attempt, styled after the teacher's
// debounce.go time-window suppression (fresh types here, since that file's
// batches messages rather than rate-limiting a single recurring signal).
const previewErrorWindow = 5 * time.Second

// maxPreviewErrorAttempts bounds how many auto-fix chat turns a session's
// preview errors may trigger before the gateway stops forwarding them to the
// agent loop and instead surfaces the error to the client as-is.
const maxPreviewErrorAttempts = 3

// previewErrorLimiter tracks, per session, whether a just-received
// preview_error should be forwarded to the agent loop as an auto-fix chat
// turn, suppressed as a duplicate within the debounce window, or dropped for
// having exhausted its session-lifetime attempt budget. Unlike the attempt
// count, the window never resets: it only collapses a burst of identical
// preview errors (e.g. every keystroke during a broken hot-reload) into the
// single attempt that burst already spent.
type previewErrorLimiter struct {
	mu       sync.Mutex
	lastSeen time.Time
	attempts int
}

// Allow reports whether this preview_error should be forwarded now.
func (l *previewErrorLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.lastSeen.IsZero() && now.Sub(l.lastSeen) < previewErrorWindow {
		l.lastSeen = now
		return false
	}
	if l.attempts >= maxPreviewErrorAttempts {
		return false
	}

	l.lastSeen = now
	l.attempts++
	return true
}
