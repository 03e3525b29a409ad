package session

import (
	"github.com/osa030/19stream/internal/app/playback"
	"github.com/osa030/19stream/internal/domain/track"
)

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	Generation         uint64           `json:"generation"`
	CurrentTrack       *track.Track     `json:"current_track,omitempty"`
	CurrentVideo       *track.VideoRef  `json:"current_video,omitempty"`
	PlayState          playback.State   `json:"play_state"`
	Backing            playback.Backing `json:"backing"`
	ProgressSeconds    float64          `json:"progress_seconds"`
	DurationSeconds    float64          `json:"duration_seconds"`
	Queue              []track.Track    `json:"queue"`
	RelatedLookahead   []track.Track    `json:"related_lookahead"`
	RecentlyPlayed     []track.Track    `json:"recently_played"`
	LikedIDs           []string         `json:"liked_ids"`
	Shuffled           bool             `json:"shuffled"`
	Repeated           bool             `json:"repeated"`
	ContinuousPlayback bool             `json:"continuous_playback"`
	OfflineMode        bool             `json:"offline_mode"`
	ErrorCount         int              `json:"error_count"`
	Volume             int              `json:"volume"`
	Muted              bool             `json:"muted"`
	Scope              string           `json:"scope"`
	DiscardedResults   int              `json:"discarded_results"`
}

// CurrentTrackID returns the current track ID, or "" when nothing is loaded.
func (s Snapshot) CurrentTrackID() string {
	if s.CurrentTrack == nil {
		return ""
	}
	return s.CurrentTrack.ID
}

// IsLiked reports whether the track ID is among the liked IDs.
func (s Snapshot) IsLiked(trackID string) bool {
	for _, id := range s.LikedIDs {
		if id == trackID {
			return true
		}
	}
	return false
}
