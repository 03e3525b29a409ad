// Package registry provides the liked-songs set.
package registry

import (
	"sync"

	"github.com/osa030/19stream/internal/domain/track"
)

// LikeRegistry holds liked tracks keyed by ID, preserving like order.
type LikeRegistry struct {
	mu     sync.RWMutex
	order  []string
	tracks map[string]track.Track
}

// NewLikeRegistry creates an empty registry.
func NewLikeRegistry() *LikeRegistry {
	return &LikeRegistry{
		tracks: make(map[string]track.Track),
	}
}

// Toggle likes t, or unlikes it when already liked.
// It returns whether t is liked afterwards.
func (r *LikeRegistry) Toggle(t track.Track) bool {
	if t.ID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tracks[t.ID]; ok {
		delete(r.tracks, t.ID)
		for i, id := range r.order {
			if id == t.ID {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
		return false
	}

	r.tracks[t.ID] = t
	r.order = append(r.order, t.ID)
	return true
}

// Contains reports whether the track is liked.
func (r *LikeRegistry) Contains(trackID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tracks[trackID]
	return ok
}

// Replace resets the registry to tracks.
func (r *LikeRegistry) Replace(tracks []track.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracks = make(map[string]track.Track, len(tracks))
	r.order = r.order[:0]
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		if _, ok := r.tracks[t.ID]; ok {
			continue
		}
		r.tracks[t.ID] = t
		r.order = append(r.order, t.ID)
	}
}

// Tracks returns the liked tracks in like order.
func (r *LikeRegistry) Tracks() []track.Track {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]track.Track, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tracks[id])
	}
	return out
}

// IDs returns the liked track IDs in like order.
func (r *LikeRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of liked tracks.
func (r *LikeRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
