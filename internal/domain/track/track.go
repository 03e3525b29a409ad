// Package track provides the Track domain entity.
package track

import (
	"strings"
	"time"
)

// DefaultDuration is used when the catalog did not report a duration.
const DefaultDuration = 180 * time.Second

// Track represents a catalog track entity.
// Contains only information retrieved from the catalog API.
type Track struct {
	ID          string        `json:"id"`                    // Catalog Track ID
	Name        string        `json:"name"`                  // Track name
	Artists     []string      `json:"artists"`               // Artist names
	ArtistIDs   []string      `json:"artist_ids,omitempty"`  // Artist IDs (same order as Artists)
	Album       string        `json:"album,omitempty"`       // Album name
	AlbumID     string        `json:"album_id,omitempty"`    // Album ID
	AlbumArtURL string        `json:"album_art_url,omitempty"`
	Duration    time.Duration `json:"duration"`              // Track duration
	URL         string        `json:"url,omitempty"`         // External URL
	Popularity  int           `json:"popularity,omitempty"`  // Popularity score (0-100)
	Explicit    bool          `json:"explicit,omitempty"`    // Explicit content flag
	Markets     []string      `json:"markets,omitempty"`     // Available markets
	IsPlayable  *bool         `json:"is_playable,omitempty"` // Playable in the specified market (nil if market not specified)
}

// VideoRef is a playable video resolved for a track.
// It is looked up per play attempt and never persisted.
type VideoRef struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	ChannelTitle string        `json:"channel_title,omitempty"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// PrimaryArtist returns the first artist name, or "" if none.
func (t *Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// PrimaryArtistID returns the first artist ID, or "" if none.
func (t *Track) PrimaryArtistID() string {
	if len(t.ArtistIDs) == 0 {
		return ""
	}
	return t.ArtistIDs[0]
}

// DurationSeconds returns the playback length in seconds,
// falling back to DefaultDuration when unknown.
func (t *Track) DurationSeconds() float64 {
	if t.Duration <= 0 {
		return DefaultDuration.Seconds()
	}
	return t.Duration.Seconds()
}

// VideoQuery builds the search query used to find a playable video.
func (t *Track) VideoQuery() string {
	parts := make([]string, 0, 3)
	if name := strings.TrimSpace(t.Name); name != "" {
		parts = append(parts, name)
	}
	if artist := strings.TrimSpace(t.PrimaryArtist()); artist != "" {
		parts = append(parts, artist)
	}
	parts = append(parts, "official audio")
	return strings.Join(parts, " ")
}

// IsAvailableInMarket checks if the track is available in the specified market.
func (t *Track) IsAvailableInMarket(market string) bool {
	// If IsPlayable is set, it takes precedence (Track Relinking support)
	if t.IsPlayable != nil {
		return *t.IsPlayable
	}

	// Fallback to checking markets list
	for _, m := range t.Markets {
		if m == market {
			return true
		}
	}
	return false
}

// IDs returns the identifiers of the given tracks in order.
func IDs(tracks []Track) []string {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}
