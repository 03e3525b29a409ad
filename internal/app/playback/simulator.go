package playback

import (
	"sync"

	"github.com/osa030/19stream/internal/domain/track"
)

// Simulator is the local backing. It has no clock of its own: the owner
// advances it once per tick, so only one timer ever drives progress.
type Simulator struct {
	mu sync.Mutex

	emit       emitFunc
	generation uint64
	position   float64
	duration   float64
	volume     int
	loaded     bool
	playing    bool
	ended      bool
}

// NewSimulator creates a simulator that reports events through emit.
func NewSimulator(emit emitFunc) *Simulator {
	return &Simulator{emit: emit}
}

// Backing returns BackingLocal.
func (s *Simulator) Backing() Backing {
	return BackingLocal
}

// Load resets the counter for a new track and reports ready.
func (s *Simulator) Load(req LoadRequest) error {
	s.mu.Lock()
	s.generation = req.Generation
	s.position = 0
	s.duration = req.DurationSeconds
	if s.duration <= 0 {
		s.duration = track.DefaultDuration.Seconds()
	}
	s.volume = req.Volume
	s.loaded = true
	s.playing = false
	s.ended = false
	gen := s.generation
	s.mu.Unlock()

	s.emit(Event{Type: EventReady, Generation: gen, Backing: BackingLocal})
	return nil
}

// Play starts or resumes the counter.
func (s *Simulator) Play() error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrNoEngine
	}
	if s.playing || s.ended {
		s.mu.Unlock()
		return nil
	}
	s.playing = true
	gen := s.generation
	s.mu.Unlock()

	s.emit(Event{Type: EventPlaying, Generation: gen, Backing: BackingLocal})
	return nil
}

// Pause stops the counter.
func (s *Simulator) Pause() error {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = false
	gen := s.generation
	s.mu.Unlock()

	s.emit(Event{Type: EventPaused, Generation: gen, Backing: BackingLocal})
	return nil
}

// Seek moves the counter, clamped to [0, duration].
func (s *Simulator) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return ErrNoEngine
	}
	s.position = clamp(seconds, 0, s.duration)
	return nil
}

// SetVolume records the volume. The simulator is silent.
func (s *Simulator) SetVolume(volume int) error {
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	return nil
}

// Advance moves the counter by step seconds while playing and synthesizes
// EventEnded once the duration is reached. It returns the new position.
func (s *Simulator) Advance(step float64) float64 {
	s.mu.Lock()
	if !s.playing {
		pos := s.position
		s.mu.Unlock()
		return pos
	}

	s.position += step
	if s.position < s.duration {
		pos := s.position
		s.mu.Unlock()
		return pos
	}

	s.position = s.duration
	s.playing = false
	s.ended = true
	pos, gen := s.position, s.generation
	s.mu.Unlock()

	s.emit(Event{Type: EventEnded, Generation: gen, Backing: BackingLocal})
	return pos
}

// CurrentTime returns the counter value in seconds.
func (s *Simulator) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Duration returns the simulated track length in seconds.
func (s *Simulator) Duration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Volume returns the last volume set.
func (s *Simulator) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// IsPlaying reports whether the counter is running.
func (s *Simulator) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Close stops the counter.
func (s *Simulator) Close() {
	s.mu.Lock()
	s.playing = false
	s.loaded = false
	s.mu.Unlock()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
