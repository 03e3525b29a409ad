package playback

import "errors"

// Errors
var (
	ErrNoEngine     = errors.New("no engine loaded")
	ErrNoVideo      = errors.New("video id is required")
	ErrNoWidget     = errors.New("remote widget is not attached")
	ErrWidgetClosed = errors.New("remote widget is closed")
)

// LoadRequest describes what an engine should load.
type LoadRequest struct {
	Generation      uint64
	VideoID         string  // Remote only
	DurationSeconds float64 // Known track length; 0 when unknown
	Volume          int
}

// Engine is the common contract of every playback backing.
type Engine interface {
	Backing() Backing
	Load(req LoadRequest) error
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetVolume(volume int) error
	CurrentTime() float64
	Duration() float64
	Close()
}

// emitFunc delivers an event to the controller.
type emitFunc func(Event)
