package state

import (
	"time"

	"github.com/osa030/19stream/internal/domain/track"
)

// Recent is a bounded most-recent-first list without duplicate IDs.
type Recent struct {
	limit  int
	tracks []track.Track
}

// NewRecent creates an empty list holding at most limit tracks.
func NewRecent(limit int) *Recent {
	if limit <= 0 {
		limit = 1
	}
	return &Recent{limit: limit}
}

// Push moves t to the front, dropping an older entry with the same ID
// and the oldest entries beyond the limit.
func (r *Recent) Push(t track.Track) {
	if t.ID == "" {
		return
	}
	next := make([]track.Track, 0, r.limit)
	next = append(next, t)
	for _, existing := range r.tracks {
		if len(next) == r.limit {
			break
		}
		if existing.ID != t.ID {
			next = append(next, existing)
		}
	}
	r.tracks = next
}

// Replace resets the list to tracks, applying the same dedup and bound.
func (r *Recent) Replace(tracks []track.Track) {
	r.tracks = nil
	for i := len(tracks) - 1; i >= 0; i-- {
		r.Push(tracks[i])
	}
}

// At returns the entry at index (0 is the most recent).
func (r *Recent) At(index int) (track.Track, bool) {
	if index < 0 || index >= len(r.tracks) {
		return track.Track{}, false
	}
	return r.tracks[index], true
}

// Len returns the number of entries.
func (r *Recent) Len() int {
	return len(r.tracks)
}

// Tracks returns a copy of the entries, most recent first.
func (r *Recent) Tracks() []track.Track {
	return append([]track.Track(nil), r.tracks...)
}

// HistoryEntry is one completed play start.
type HistoryEntry struct {
	Track    track.Track `json:"track"`
	PlayedAt time.Time   `json:"played_at"`
}

// History is a bounded most-recent-first play log. Repeats are kept.
type History struct {
	limit   int
	entries []HistoryEntry
}

// NewHistory creates an empty history holding at most limit entries.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1
	}
	return &History{limit: limit}
}

// Add records a play of t at playedAt.
func (h *History) Add(t track.Track, playedAt time.Time) {
	h.entries = append([]HistoryEntry{{Track: t, PlayedAt: playedAt}}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// Replace resets the history to entries, truncated to the limit.
func (h *History) Replace(entries []HistoryEntry) {
	if len(entries) > h.limit {
		entries = entries[:h.limit]
	}
	h.entries = append([]HistoryEntry(nil), entries...)
}

// Entries returns a copy of the entries, most recent first.
func (h *History) Entries() []HistoryEntry {
	return append([]HistoryEntry(nil), h.entries...)
}
