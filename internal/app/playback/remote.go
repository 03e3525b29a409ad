package playback

import (
	"sync"

	zlog "github.com/rs/zerolog/log"
)

// RemoteEngine adapts a Widget to the Engine contract.
// Load, Play and SetVolume issued before the widget is ready are buffered
// and flushed in that order once it reports ready. Loads only cue the video;
// it starts on Play.
type RemoteEngine struct {
	mu sync.Mutex

	widget Widget
	emit   emitFunc

	ready      bool
	closed     bool
	generation uint64
	videoID    string

	// Pending calls (issued before ready)
	pendingLoad   string
	pendingPlay   bool
	pendingVolume *int
}

// NewRemoteEngine wraps widget and registers itself as its handler.
func NewRemoteEngine(widget Widget, emit emitFunc) *RemoteEngine {
	e := &RemoteEngine{
		widget: widget,
		emit:   emit,
	}
	widget.Init(e)
	return e
}

// Backing returns BackingRemote.
func (e *RemoteEngine) Backing() Backing {
	return BackingRemote
}

// Ready reports whether the widget has signalled readiness.
func (e *RemoteEngine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Load cues the video, buffering the call until the widget is ready.
func (e *RemoteEngine) Load(req LoadRequest) error {
	if req.VideoID == "" {
		return ErrNoVideo
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrWidgetClosed
	}

	e.generation = req.Generation
	e.videoID = req.VideoID
	e.pendingPlay = false

	v := req.Volume
	if !e.ready {
		zlog.Debug().Msgf("playback: widget not ready, buffering load: video=%s generation=%d", req.VideoID, req.Generation)
		e.pendingLoad = req.VideoID
		e.pendingVolume = &v
		return nil
	}

	if err := e.widget.SetVolume(v); err != nil {
		return err
	}
	return e.widget.CueVideoByID(req.VideoID)
}

// Play starts playback, buffering the call until the widget is ready.
func (e *RemoteEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrWidgetClosed
	}
	if !e.ready {
		e.pendingPlay = true
		return nil
	}
	return e.widget.PlayVideo()
}

// Pause pauses playback. Before ready it cancels a buffered play.
func (e *RemoteEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrWidgetClosed
	}
	if !e.ready {
		e.pendingPlay = false
		return nil
	}
	return e.widget.PauseVideo()
}

// Seek moves the playhead. Seeks before ready are ignored.
func (e *RemoteEngine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrWidgetClosed
	}
	if !e.ready {
		return nil
	}
	return e.widget.SeekTo(seconds)
}

// SetVolume forwards the volume; before ready only the last value is kept.
func (e *RemoteEngine) SetVolume(volume int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrWidgetClosed
	}
	if !e.ready {
		v := volume
		e.pendingVolume = &v
		return nil
	}
	return e.widget.SetVolume(volume)
}

// CurrentTime polls the widget playhead.
func (e *RemoteEngine) CurrentTime() float64 {
	e.mu.Lock()
	ready := e.ready && !e.closed
	e.mu.Unlock()
	if !ready {
		return 0
	}
	return e.widget.CurrentTime()
}

// Duration returns the duration reported by the widget, 0 if unknown.
func (e *RemoteEngine) Duration() float64 {
	e.mu.Lock()
	ready := e.ready && !e.closed
	e.mu.Unlock()
	if !ready {
		return 0
	}
	return e.widget.Duration()
}

// Stop pauses the widget without forgetting readiness.
func (e *RemoteEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pendingLoad = ""
	e.pendingPlay = false
	e.generation = 0
	e.videoID = ""
	if e.ready && !e.closed {
		if err := e.widget.PauseVideo(); err != nil {
			zlog.Debug().Msgf("playback: failed to pause widget on stop: %v", err)
		}
	}
}

// Close detaches the engine; later widget callbacks are ignored.
func (e *RemoteEngine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// OnReady flushes buffered calls and reports ready.
func (e *RemoteEngine) OnReady() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.ready = true
	gen := e.generation

	if e.pendingVolume != nil {
		if err := e.widget.SetVolume(*e.pendingVolume); err != nil {
			zlog.Warn().Msgf("playback: failed to flush volume: %v", err)
		}
		e.pendingVolume = nil
	}
	if e.pendingLoad != "" {
		zlog.Debug().Msgf("playback: flushing buffered load: video=%s generation=%d", e.pendingLoad, gen)
		if err := e.widget.CueVideoByID(e.pendingLoad); err != nil {
			zlog.Warn().Msgf("playback: failed to flush load: %v", err)
		}
		e.pendingLoad = ""
	}
	if e.pendingPlay {
		if err := e.widget.PlayVideo(); err != nil {
			zlog.Warn().Msgf("playback: failed to flush play: %v", err)
		}
		e.pendingPlay = false
	}
	e.mu.Unlock()

	e.emit(Event{Type: EventReady, Generation: gen, Backing: BackingRemote})
}

// OnStateChange maps widget states to engine events.
func (e *RemoteEngine) OnStateChange(state WidgetState, videoID string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	gen := e.generation
	if videoID != "" && videoID != e.videoID {
		// Late report for a video we no longer own
		gen = 0
	}
	e.mu.Unlock()

	var typ EventType
	switch state {
	case WidgetPlaying:
		typ = EventPlaying
	case WidgetPaused:
		typ = EventPaused
	case WidgetEnded:
		typ = EventEnded
	case WidgetBuffering:
		typ = EventBuffering
	case WidgetCued:
		typ = EventCued
	default:
		return
	}
	e.emit(Event{Type: typ, Generation: gen, Backing: BackingRemote})
}

// OnError reports a widget error for the current load.
func (e *RemoteEngine) OnError(code int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if code == WidgetErrDisconnected {
		e.ready = false
	}
	gen := e.generation
	e.mu.Unlock()

	e.emit(Event{Type: EventError, Generation: gen, Backing: BackingRemote, Code: code})
}
