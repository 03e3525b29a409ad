// Package state provides the ordered track collections owned by the session.
// The types are not safe for concurrent use; the coordinator serializes access.
package state

import (
	"github.com/samber/lo/mutable"

	"github.com/osa030/19stream/internal/domain/track"
)

// Queue is the user-ordered list of upcoming tracks, consumed FIFO.
type Queue struct {
	tracks []track.Track
}

// NewQueue creates a queue holding a copy of tracks.
func NewQueue(tracks ...track.Track) *Queue {
	q := &Queue{}
	q.Append(tracks...)
	return q
}

// Len returns the number of queued tracks.
func (q *Queue) Len() int {
	return len(q.tracks)
}

// Append adds tracks to the tail. Tracks without an ID are skipped.
// It returns the number of tracks added.
func (q *Queue) Append(tracks ...track.Track) int {
	added := 0
	for _, t := range tracks {
		if t.ID == "" {
			continue
		}
		q.tracks = append(q.tracks, t)
		added++
	}
	return added
}

// PopFront removes and returns the head.
func (q *Queue) PopFront() (track.Track, bool) {
	if len(q.tracks) == 0 {
		return track.Track{}, false
	}
	head := q.tracks[0]
	q.tracks = append([]track.Track(nil), q.tracks[1:]...)
	return head, true
}

// RemoveAt removes the track at index. Out of range is a no-op returning false.
func (q *Queue) RemoveAt(index int) bool {
	if index < 0 || index >= len(q.tracks) {
		return false
	}
	q.tracks = append(q.tracks[:index:index], q.tracks[index+1:]...)
	return true
}

// Move relocates the track at from to position to.
// Either index out of range is a no-op returning false.
func (q *Queue) Move(from, to int) bool {
	n := len(q.tracks)
	if from < 0 || from >= n || to < 0 || to >= n {
		return false
	}
	if from == to {
		return true
	}
	t := q.tracks[from]
	rest := append(q.tracks[:from:from], q.tracks[from+1:]...)
	q.tracks = append(rest[:to:to], append([]track.Track{t}, rest[to:]...)...)
	return true
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.tracks = nil
}

// Shuffle applies a uniform random permutation.
func (q *Queue) Shuffle() {
	mutable.Shuffle(q.tracks)
}

// Tracks returns a copy of the queued tracks.
func (q *Queue) Tracks() []track.Track {
	return append([]track.Track(nil), q.tracks...)
}
