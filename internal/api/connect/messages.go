package connect

import (
	"github.com/osa030/19stream/internal/app/session/state"
	"github.com/osa030/19stream/internal/domain/playlist"
	"github.com/osa030/19stream/internal/domain/track"
)

// TrackRequest names a catalog track. An empty ID means the current track where allowed.
type TrackRequest struct {
	TrackID string `json:"track_id"`
}

// PlayRequest plays a track given in full, or by ID when only TrackID is set.
type PlayRequest struct {
	Track   *track.Track `json:"track,omitempty"`
	TrackID string       `json:"track_id,omitempty"`
}

// SeekRequest moves the playhead.
type SeekRequest struct {
	Seconds float64 `json:"seconds"`
}

// VolumeRequest sets the volume.
type VolumeRequest struct {
	Volume int `json:"volume"`
}

// ToggleRequest sets a boolean mode.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// EnqueueRequest appends tracks resolved by ID.
type EnqueueRequest struct {
	TrackIDs []string `json:"track_ids"`
}

// EnqueueResponse reports how many tracks were added.
type EnqueueResponse struct {
	Added int `json:"added"`
}

// IndexRequest addresses one queue position.
type IndexRequest struct {
	Index int `json:"index"`
}

// MoveRequest moves a queued track.
type MoveRequest struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// CollectionRequest names an album ID or a playlist URL.
type CollectionRequest struct {
	ID string `json:"id"`
}

// CollectionResponse describes an enqueued album or playlist.
type CollectionResponse struct {
	ID     string        `json:"id"`
	Kind   playlist.Kind `json:"kind"`
	Name   string        `json:"name"`
	Tracks int           `json:"tracks"`
}

// LikeResponse reports whether the track is liked after the toggle.
type LikeResponse struct {
	TrackID string `json:"track_id"`
	Liked   bool   `json:"liked"`
}

// IdentityRequest switches the persistence scope. An empty UserID selects the guest scope.
type IdentityRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// LikesResponse lists liked tracks.
type LikesResponse struct {
	Tracks []track.Track `json:"tracks"`
}

// HistoryResponse lists started plays, most recent first.
type HistoryResponse struct {
	Entries []state.HistoryEntry `json:"entries"`
}

func collectionResponse(pl *playlist.Playlist) *CollectionResponse {
	return &CollectionResponse{
		ID:     pl.ID,
		Kind:   pl.Kind,
		Name:   pl.Name,
		Tracks: len(pl.Tracks),
	}
}
