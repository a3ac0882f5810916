package automod

import (
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultSpamWindow     = 5 * time.Second
	DefaultSpamThreshold  = 5
	DefaultMaxSpamWindows = 1000
)

// SpamResult is the outcome of observing one message.
type SpamResult struct {
	Triggered bool
	// DuplicateCount is the number of adjacent-equal pairs among the
	// buffered message bodies, only computed once the window fills.
	DuplicateCount int
}

// userWindow buffers a user's recent message bodies within the sliding
// window. Windows are replaced wholesale on update, never mutated in place.
type userWindow struct {
	count       int
	windowStart time.Time
	messages    []string
}

// SpamDetector tracks a per-user sliding window of recent message content and
// flags bursts of near-duplicate text. State is process-local and never
// persisted; a restart simply forgets in-flight windows.
type SpamDetector struct {
	window     time.Duration
	threshold  int
	maxEntries int
	windows    *xsync.MapOf[string, *userWindow]
}

func NewSpamDetector(window time.Duration, threshold, maxEntries int) *SpamDetector {
	if window <= 0 {
		window = DefaultSpamWindow
	}
	if threshold <= 0 {
		threshold = DefaultSpamThreshold
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxSpamWindows
	}
	return &SpamDetector{
		window:     window,
		threshold:  threshold,
		maxEntries: maxEntries,
		windows:    xsync.NewMapOf[string, *userWindow](),
	}
}

// Window returns the configured sliding window duration.
func (d *SpamDetector) Window() time.Duration { return d.window }

// Threshold returns the configured message-count threshold.
func (d *SpamDetector) Threshold() int { return d.threshold }

// Observe records one message and reports whether it pushes the user over the
// spam threshold. An expired window resets to a fresh single-entry window and
// never triggers.
func (d *SpamDetector) Observe(userID, content string, now time.Time) SpamResult {
	var res SpamResult
	d.windows.Compute(userID, func(w *userWindow, loaded bool) (*userWindow, bool) {
		if !loaded || now.Sub(w.windowStart) > d.window {
			return &userWindow{count: 1, windowStart: now, messages: []string{content}}, false
		}
		msgs := make([]string, 0, len(w.messages)+1)
		msgs = append(msgs, w.messages...)
		msgs = append(msgs, content)
		next := &userWindow{count: w.count + 1, windowStart: w.windowStart, messages: msgs}
		if next.count >= d.threshold {
			dup := countDuplicates(next.messages)
			if dup >= d.threshold-1 {
				res = SpamResult{Triggered: true, DuplicateCount: dup}
			}
		}
		return next, false
	})
	return res
}

// countDuplicates sorts a copy of the buffered bodies and counts adjacent
// equal pairs. Literal near-duplicate matching on purpose: it catches
// copy-paste spam without any content understanding.
func countDuplicates(messages []string) int {
	sorted := make([]string, len(messages))
	copy(sorted, messages)
	sort.Strings(sorted)
	dups := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			dups++
		}
	}
	return dups
}

// Sweep drops expired windows, then enforces the entry budget by evicting the
// windows with the oldest start times. Eviction is by window start, not by
// last use.
func (d *SpamDetector) Sweep(now time.Time) {
	d.windows.Range(func(userID string, w *userWindow) bool {
		if now.Sub(w.windowStart) > d.window {
			d.windows.Delete(userID)
		}
		return true
	})

	excess := d.windows.Size() - d.maxEntries
	if excess <= 0 {
		return
	}
	type entry struct {
		userID string
		start  time.Time
	}
	entries := make([]entry, 0, d.windows.Size())
	d.windows.Range(func(userID string, w *userWindow) bool {
		entries = append(entries, entry{userID: userID, start: w.windowStart})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].start.Before(entries[j].start) })
	for i := 0; i < excess && i < len(entries); i++ {
		d.windows.Delete(entries[i].userID)
	}
}

// TrackedUsers reports how many user windows are currently held.
func (d *SpamDetector) TrackedUsers() int {
	return d.windows.Size()
}
