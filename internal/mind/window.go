package mind

import (
	"sync"

	st "github.com/keshon/sable/internal/storagetypes"
)

// channel holds one channel's lock and its in-memory window. The lock
// serialises reads and writes for that channel only.
type channel struct {
	mu      sync.Mutex
	entries []st.Entry // chronological
}

// window tracks every channel seen so far. Safe for concurrent use.
type window struct {
	limit int
	prune int

	mu       sync.RWMutex
	channels map[string]*channel
}

func newWindow(limit, prune int) *window {
	if limit <= 0 {
		limit = 1000
	}
	if prune <= 0 || prune > limit {
		prune = limit
	}
	return &window{limit: limit, prune: prune, channels: make(map[string]*channel)}
}

// channel returns the state for id, creating it on first use.
func (w *window) channel(id string) *channel {
	w.mu.RLock()
	c := w.channels[id]
	w.mu.RUnlock()
	if c != nil {
		return c
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if c = w.channels[id]; c != nil {
		return c
	}
	c = &channel{}
	w.channels[id] = c
	return c
}

// appendLocked adds e, replacing an entry with the same message id. Once
// the window passes the limit only the newest prune entries are kept.
// The caller holds c.mu.
func (w *window) appendLocked(c *channel, e st.Entry) {
	for i := range c.entries {
		if c.entries[i].MessageID == e.MessageID {
			e.Reactions = c.entries[i].Reactions
			c.entries[i] = e
			return
		}
	}
	c.entries = append(c.entries, e)
	if len(c.entries) > w.limit {
		kept := make([]st.Entry, w.prune)
		copy(kept, c.entries[len(c.entries)-w.prune:])
		c.entries = kept
	}
}

// recentLocked returns up to limit entries, newest first.
func (w *window) recentLocked(c *channel, limit int) []st.Entry {
	n := min(limit, len(c.entries))
	out := make([]st.Entry, 0, n)
	for i := len(c.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, c.entries[i])
	}
	return out
}

// reactLocked records a reaction on a windowed entry if it is still held.
func (w *window) reactLocked(c *channel, messageID, emoji string) {
	for i := range c.entries {
		if c.entries[i].MessageID == messageID {
			c.entries[i].Reactions = append(c.entries[i].Reactions, emoji)
			return
		}
	}
}

func (w *window) size(id string) int {
	c := w.channel(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
