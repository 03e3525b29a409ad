package playback

// EventType represents an engine lifecycle event type.
type EventType int

const (
	EventReady     EventType = iota // Engine can accept commands
	EventPlaying                    // Playback started or resumed
	EventPaused                     // Playback paused
	EventEnded                      // Track finished
	EventError                      // Engine failed to play the track
	EventBuffering                  // Remote widget is buffering (informational)
	EventCued                       // Remote widget cued a video (informational)
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	case EventBuffering:
		return "buffering"
	case EventCued:
		return "cued"
	default:
		return "unknown"
	}
}

// Event represents an engine lifecycle event.
// Generation is the load generation the event belongs to; consumers drop
// events whose generation is not the one they last loaded.
type Event struct {
	Type       EventType
	Generation uint64
	Backing    Backing
	Code       int // Widget error code (EventError only)
}
