// Package playback provides the playback engine adapter.
// A Controller drives either a remote video widget or a local simulator
// behind one contract and reports lifecycle events on a single channel.
package playback

import "github.com/cockroachdb/errors"

// State represents the session's playback state.
type State int

const (
	StateIdle    State = iota // Nothing to play
	StateLoading              // Track selected, backing not yet playing
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
	StateEnded                // Track reached its end
	StateError                // Engine reported an error
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Backing identifies which engine drives progress.
type Backing int

const (
	BackingNone   Backing = iota // No engine loaded
	BackingRemote                // Remote video widget
	BackingLocal                 // Local simulator
)

// String returns the string representation of the backing.
func (b Backing) String() string {
	switch b {
	case BackingNone:
		return "none"
	case BackingRemote:
		return "remote"
	case BackingLocal:
		return "local"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalText encodes the backing by name.
func (b Backing) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a state name. Unknown names are rejected.
func (s *State) UnmarshalText(text []byte) error {
	for c := StateIdle; c <= StateError; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return errors.Newf("unknown playback state: %q", text)
}

// UnmarshalText decodes a backing name. Unknown names are rejected.
func (b *Backing) UnmarshalText(text []byte) error {
	for c := BackingNone; c <= BackingLocal; c++ {
		if c.String() == string(text) {
			*b = c
			return nil
		}
	}
	return errors.Newf("unknown backing: %q", text)
}
