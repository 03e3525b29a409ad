package playback

// WidgetState mirrors the embed player's state codes.
type WidgetState int

const (
	WidgetUnstarted WidgetState = -1
	WidgetEnded     WidgetState = 0
	WidgetPlaying   WidgetState = 1
	WidgetPaused    WidgetState = 2
	WidgetBuffering WidgetState = 3
	WidgetCued      WidgetState = 5
)

// String returns the string representation of the widget state.
func (s WidgetState) String() string {
	switch s {
	case WidgetUnstarted:
		return "unstarted"
	case WidgetEnded:
		return "ended"
	case WidgetPlaying:
		return "playing"
	case WidgetPaused:
		return "paused"
	case WidgetBuffering:
		return "buffering"
	case WidgetCued:
		return "cued"
	default:
		return "unknown"
	}
}

// Widget error codes reported through OnError.
const (
	WidgetErrInvalidParam   = 2
	WidgetErrHTML5          = 5
	WidgetErrNotFound       = 100
	WidgetErrNotEmbeddable  = 101
	WidgetErrEmbedForbidden = 150
	WidgetErrDisconnected   = -1
)

// Widget is an embeddable video player that initializes on its own schedule.
// Commands issued before it reports ready may be dropped by the widget, so
// callers must wait for OnReady.
type Widget interface {
	// Init registers the callbacks. It is called once.
	Init(h WidgetHandler)
	// CueVideoByID loads a video without starting it.
	CueVideoByID(videoID string) error
	PlayVideo() error
	PauseVideo() error
	SeekTo(seconds float64) error
	SetVolume(volume int) error
	// CurrentTime returns the playhead in seconds. It is polled, not pushed.
	CurrentTime() float64
	Duration() float64
}

// WidgetHandler receives widget lifecycle callbacks.
// videoID is the video the widget reports for the state; it may be empty.
type WidgetHandler interface {
	OnReady()
	OnStateChange(state WidgetState, videoID string)
	OnError(code int)
}
