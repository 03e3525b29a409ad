package playback

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/domain/track"
)

// DefaultEventBuffer is the capacity of the event channel.
const DefaultEventBuffer = 64

// Config holds controller configuration.
type Config struct {
	EventBuffer int // Event channel capacity (DefaultEventBuffer when 0)
}

// Controller owns the active engine and the event channel.
// Exactly one engine is active at a time; loading a track stops the
// previous one before the next starts.
type Controller struct {
	mu sync.RWMutex

	remote    *RemoteEngine // nil when no widget is attached
	simulator *Simulator
	active    Engine

	// Events
	eventCh    chan Event
	overflowMu sync.Mutex
	overflow   []Event // events waiting for room in eventCh, in emit order
	wake       chan struct{}

	// Context
	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a new playback controller.
// widget may be nil, in which case every track is simulated.
func NewController(config Config, widget Widget) *Controller {
	size := config.EventBuffer
	if size <= 0 {
		size = DefaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		eventCh: make(chan Event, size),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.forward()
	c.simulator = NewSimulator(c.sendEvent)
	if widget != nil {
		c.remote = NewRemoteEngine(widget, c.sendEvent)
	}
	return c
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// HasRemote reports whether a remote widget is attached.
func (c *Controller) HasRemote() bool {
	return c.remote != nil
}

// Load selects the backing for a track and loads it.
// The remote engine is used when video is non-nil, allowRemote is set and a
// widget is attached; otherwise the simulator is used.
func (c *Controller) Load(generation uint64, t track.Track, video *track.VideoRef, volume int, allowRemote bool) (Backing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	req := LoadRequest{
		Generation:      generation,
		DurationSeconds: t.DurationSeconds(),
		Volume:          volume,
	}

	if video != nil && video.ID != "" && allowRemote && c.remote != nil {
		req.VideoID = video.ID
		if err := c.remote.Load(req); err != nil {
			zlog.Warn().Msgf("playback: remote load failed, simulating: track=%s error=%v", t.ID, err)
		} else {
			c.active = c.remote
			zlog.Debug().Msgf("playback: loaded remote: track=%s video=%s generation=%d", t.ID, video.ID, generation)
			return BackingRemote, nil
		}
		req.VideoID = ""
	}

	if err := c.simulator.Load(req); err != nil {
		return BackingNone, err
	}
	c.active = c.simulator
	zlog.Debug().Msgf("playback: loaded simulator: track=%s duration=%.0fs generation=%d", t.ID, req.DurationSeconds, generation)
	return BackingLocal, nil
}

// Backing returns the active backing.
func (c *Controller) Backing() Backing {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return BackingNone
	}
	return c.active.Backing()
}

// Play starts or resumes the active engine.
func (c *Controller) Play() error {
	e, err := c.activeEngine()
	if err != nil {
		return err
	}
	return e.Play()
}

// Pause pauses the active engine.
func (c *Controller) Pause() error {
	e, err := c.activeEngine()
	if err != nil {
		return err
	}
	return e.Pause()
}

// Seek moves the playhead of the active engine.
func (c *Controller) Seek(seconds float64) error {
	e, err := c.activeEngine()
	if err != nil {
		return err
	}
	return e.Seek(seconds)
}

// SetVolume forwards the volume to the active engine.
// It is a no-op when nothing is loaded.
func (c *Controller) SetVolume(volume int) error {
	e, err := c.activeEngine()
	if err != nil {
		return nil
	}
	return e.SetVolume(volume)
}

// Tick is called once per timer tick while playing. The simulator is
// advanced by step seconds; the remote widget is polled.
// It returns the current position and the engine-reported duration (0 if unknown).
func (c *Controller) Tick(step float64) (position, duration float64) {
	c.mu.RLock()
	active := c.active
	c.mu.RUnlock()

	switch e := active.(type) {
	case nil:
		return 0, 0
	case *Simulator:
		return e.Advance(step), e.Duration()
	default:
		return e.CurrentTime(), e.Duration()
	}
}

// Stop stops the active engine and unloads it.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Close stops everything and releases the remote engine.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	if c.remote != nil {
		c.remote.Close()
	}
	c.mu.Unlock()
	c.cancel()
}

func (c *Controller) activeEngine() (Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return nil, ErrNoEngine
	}
	return c.active, nil
}

func (c *Controller) stopLocked() {
	switch e := c.active.(type) {
	case *RemoteEngine:
		e.Stop()
	case *Simulator:
		e.Close()
	}
	c.active = nil
}

// sendEvent delivers an event. It never blocks the caller: engines may emit
// from the goroutine that consumes the channel. Events that do not fit are
// queued and forwarded in emit order, so the queue is unbounded while the
// consumer is stalled.
func (c *Controller) sendEvent(e Event) {
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()

	if len(c.overflow) == 0 {
		select {
		case c.eventCh <- e:
			return
		case <-c.ctx.Done():
			return
		default:
		}
		zlog.Warn().Msgf("playback: event channel full, queueing: type=%s generation=%d", e.Type, e.Generation)
	}
	c.overflow = append(c.overflow, e)

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// forward moves queued events into the channel until the controller is closed.
func (c *Controller) forward() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.wake:
		}

		for {
			c.overflowMu.Lock()
			if len(c.overflow) == 0 {
				c.overflowMu.Unlock()
				break
			}
			e := c.overflow[0]
			c.overflowMu.Unlock()

			select {
			case c.eventCh <- e:
			case <-c.ctx.Done():
				return
			}

			c.overflowMu.Lock()
			c.overflow = c.overflow[1:]
			c.overflowMu.Unlock()
		}
	}
}
