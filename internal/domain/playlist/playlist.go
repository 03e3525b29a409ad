// Package playlist provides the track collection domain entity.
package playlist

import (
	"time"

	"github.com/osa030/19stream/internal/domain/track"
)

// Kind identifies where a collection came from.
type Kind string

const (
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

// Playlist represents an album or playlist enqueued as a unit.
type Playlist struct {
	ID     string        // Catalog ID
	Kind   Kind          // Album or playlist
	Name   string        // Collection name
	URL    string        // External URL
	Tracks []track.Track // Tracks in catalog order
}

// TrackIDs returns all track IDs in the playlist.
func (p *Playlist) TrackIDs() []string {
	return track.IDs(p.Tracks)
}

// TotalDuration returns the total duration of all tracks.
// Tracks without a known duration count as track.DefaultDuration.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		if t.Duration <= 0 {
			total += track.DefaultDuration
			continue
		}
		total += t.Duration
	}
	return total
}

// Playable returns the tracks that carry an ID, in order.
func (p *Playlist) Playable() []track.Track {
	out := make([]track.Track, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if t.ID == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}
