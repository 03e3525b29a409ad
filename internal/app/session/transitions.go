package session

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/19stream/internal/app/playback"
	"github.com/osa030/19stream/internal/domain/track"
)

// play makes t the current track and starts loading it.
func (c *Coordinator) play(t track.Track) {
	c.stopTicker()
	c.cancelReadyTimer()
	c.player.Stop()

	c.generation++
	gen := c.generation

	c.current = &t
	c.video = nil
	c.playState = playback.StateLoading
	c.backing = playback.BackingNone
	c.progress = 0
	c.duration = t.DurationSeconds()

	c.library.PushRecent(t)
	c.refreshRelated(gen, t)

	zlog.Info().Msgf("session: play: track=%s name=%q artist=%q generation=%d offline=%v",
		t.ID, t.Name, t.PrimaryArtist(), gen, c.offline)
	c.publish(ReasonTrack)

	if c.offline || c.lookup == nil {
		c.simulate(gen, t)
		return
	}
	c.lookupVideo(gen, t)
}

// simulate plays t on the local simulator.
func (c *Coordinator) simulate(gen uint64, t track.Track) {
	c.cancelReadyTimer()
	c.video = nil

	backing, err := c.player.Load(gen, t, nil, c.volume, false)
	if err != nil {
		zlog.Error().Msgf("session: simulator load failed: track=%s error=%v", t.ID, err)
		c.failCurrent()
		return
	}
	c.backing = backing
	c.duration = t.DurationSeconds()
	if c.playState == playback.StatePaused {
		return
	}

	if err := c.player.Play(); err != nil {
		zlog.Error().Msgf("session: simulator play failed: track=%s error=%v", t.ID, err)
		c.failCurrent()
	}
}

type videoResult struct {
	ref *track.VideoRef
	err error
}

// lookupVideo resolves a video off the loop. The result is posted back and
// applied only if the session is still on the same load.
func (c *Coordinator) lookupVideo(gen uint64, t track.Track) {
	query := t.VideoQuery()
	timeout := c.cfg.LookupTimeout

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()

		ch := make(chan videoResult, 1)
		go func() {
			ref, err := c.lookup.SearchVideo(ctx, query)
			ch <- videoResult{ref: ref, err: err}
		}()

		var res videoResult
		select {
		case res = <-ch:
		case <-ctx.Done():
			res = videoResult{err: ctx.Err()}
		}
		c.post(func() { c.onVideoResolved(gen, t, res) })
	}()
}

func (c *Coordinator) onVideoResolved(gen uint64, t track.Track, res videoResult) {
	if !c.isCurrent(gen, t.ID) {
		c.discarded++
		zlog.Debug().Msgf("session: stale video lookup discarded: track=%s generation=%d current=%d", t.ID, gen, c.generation)
		return
	}

	switch {
	case res.err != nil:
		zlog.Warn().Msgf("session: video lookup failed, simulating: track=%s error=%v", t.ID, res.err)
		c.simulate(gen, t)
		return
	case res.ref == nil || res.ref.ID == "":
		zlog.Info().Msgf("session: no video found, simulating: track=%s", t.ID)
		c.simulate(gen, t)
		return
	}

	ref := *res.ref
	backing, err := c.player.Load(gen, t, &ref, c.volume, !c.offline)
	if err != nil {
		zlog.Warn().Msgf("session: load failed, simulating: track=%s video=%s error=%v", t.ID, ref.ID, err)
		c.simulate(gen, t)
		return
	}

	c.video = &ref
	c.backing = backing
	if backing == playback.BackingRemote && ref.Duration > 0 {
		c.duration = ref.Duration.Seconds()
	}
	if c.playState != playback.StatePaused {
		if err := c.player.Play(); err != nil {
			zlog.Warn().Msgf("session: play failed: track=%s error=%v", t.ID, err)
		}
		if backing == playback.BackingRemote {
			c.armReadyTimer(gen, t)
		}
	}
	c.publish(ReasonTrack)
}

// armReadyTimer falls back to the simulator when the remote widget has not
// started playing within the ready timeout.
func (c *Coordinator) armReadyTimer(gen uint64, t track.Track) {
	c.cancelReadyTimer()
	timeout := c.cfg.ReadyTimeout
	c.readyTimer = time.AfterFunc(timeout, func() {
		c.post(func() {
			if !c.isCurrent(gen, t.ID) || c.playState != playback.StateLoading || c.backing != playback.BackingRemote {
				return
			}
			zlog.Warn().Msgf("session: widget not playing after %v, simulating: track=%s", timeout, t.ID)
			c.simulate(gen, t)
			c.publish(ReasonTrack)
		})
	})
}

func (c *Coordinator) cancelReadyTimer() {
	if c.readyTimer != nil {
		c.readyTimer.Stop()
		c.readyTimer = nil
	}
}

// refreshRelated recomputes the lookahead for t off the loop.
func (c *Coordinator) refreshRelated(gen uint64, t track.Track) {
	if c.refresher == nil {
		return
	}
	current := append([]track.Track(nil), c.related...)
	timeout := c.cfg.LookupTimeout

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, timeout)
		defer cancel()

		tracks, err := c.refresher.Refresh(ctx, t, current)
		c.post(func() { c.onRelated(gen, t.ID, tracks, err) })
	}()
}

func (c *Coordinator) onRelated(gen uint64, trackID string, tracks []track.Track, err error) {
	if !c.isCurrent(gen, trackID) {
		c.discarded++
		zlog.Debug().Msgf("session: stale lookahead discarded: track=%s generation=%d", trackID, gen)
		return
	}
	if err != nil {
		zlog.Warn().Msgf("session: lookahead refresh failed, keeping previous: track=%s error=%v", trackID, err)
		return
	}

	c.related = lo.Filter(tracks, func(t track.Track, _ int) bool {
		return t.ID != "" && t.ID != trackID
	})
	zlog.Debug().Msgf("session: lookahead refreshed: track=%s count=%d", trackID, len(c.related))
	c.publish(ReasonLookahead)
}

func (c *Coordinator) isCurrent(gen uint64, trackID string) bool {
	return gen == c.generation && c.current != nil && c.current.ID == trackID
}

// handleEvent applies an engine lifecycle event of the current load.
func (c *Coordinator) handleEvent(ev playback.Event) {
	if ev.Generation != c.generation || c.current == nil {
		zlog.Debug().Msgf("session: stale event dropped: type=%s generation=%d current=%d", ev.Type, ev.Generation, c.generation)
		return
	}

	switch ev.Type {
	case playback.EventReady:
		if err := c.player.SetVolume(c.volume); err != nil {
			zlog.Debug().Msgf("session: failed to apply volume on ready: %v", err)
		}

	case playback.EventPlaying:
		c.cancelReadyTimer()
		c.playState = playback.StatePlaying
		c.backing = ev.Backing
		c.errorCount = 0
		c.autoFailures = 0
		if c.playedGeneration != c.generation {
			c.playedGeneration = c.generation
			c.library.RecordPlay(*c.current, c.now())
		}
		c.startTicker()
		c.publish(ReasonState)

	case playback.EventPaused:
		c.playState = playback.StatePaused
		c.stopTicker()
		c.publish(ReasonState)

	case playback.EventEnded:
		c.playState = playback.StateEnded
		c.stopTicker()
		c.progress = c.duration
		zlog.Debug().Msgf("session: track ended: track=%s", c.current.ID)
		c.publish(ReasonState)
		c.advance(false)

	case playback.EventError:
		zlog.Warn().Msgf("session: engine error: track=%s backing=%s code=%d", c.current.ID, ev.Backing, ev.Code)
		c.failCurrent()

	case playback.EventBuffering, playback.EventCued:
		zlog.Debug().Msgf("session: engine %s: track=%s", ev.Type, c.current.ID)
	}
}

// failCurrent counts a failed play and moves on without replaying the track.
func (c *Coordinator) failCurrent() {
	c.cancelReadyTimer()
	c.stopTicker()
	c.playState = playback.StateError
	c.errorCount++

	if c.errorCount > c.cfg.ErrorThreshold && !c.offline {
		c.offline = true
		zlog.Warn().Msgf("session: error threshold exceeded, switching to offline mode: errors=%d", c.errorCount)
	}
	c.publish(ReasonState)
	c.advance(true)
}

// advance selects what plays next: repeat, then the queue head, then the
// lookahead head when continuous playback is on. Otherwise the session idles.
func (c *Coordinator) advance(failed bool) {
	if failed {
		c.autoFailures++
		if c.autoFailures >= c.cfg.MaxAutoAdvanceFailures {
			zlog.Warn().Msgf("session: too many consecutive failures, going idle: failures=%d", c.autoFailures)
			c.autoFailures = 0
			c.goIdle()
			return
		}
	}

	if c.repeated && !failed && c.current != nil {
		c.play(*c.current)
		return
	}

	if next, ok := c.nextCandidate(); ok {
		c.play(next)
		return
	}
	c.goIdle()
}

func (c *Coordinator) nextCandidate() (track.Track, bool) {
	if t, ok := c.queue.PopFront(); ok {
		return t, true
	}
	if c.continuous && len(c.related) > 0 {
		head := c.related[0]
		c.related = append([]track.Track(nil), c.related[1:]...)
		return head, true
	}
	return track.Track{}, false
}

// goIdle stops the engine and keeps the current track.
func (c *Coordinator) goIdle() {
	c.stopTicker()
	c.cancelReadyTimer()
	c.player.Stop()
	c.playState = playback.StateIdle
	c.backing = playback.BackingNone
	zlog.Info().Msg("session: nothing left to play, idle")
	c.publish(ReasonState)
}

func (c *Coordinator) next() {
	if t, ok := c.nextCandidate(); ok {
		c.play(t)
		return
	}
	zlog.Debug().Msg("session: next ignored: nothing queued")
}

func (c *Coordinator) previous() {
	if c.current == nil {
		return
	}
	if c.progress > c.cfg.RestartThreshold.Seconds() {
		c.seek(0)
		return
	}
	if prev, ok := c.library.Recent().At(1); ok {
		c.play(prev)
	}
}

func (c *Coordinator) pause() {
	switch c.playState {
	case playback.StatePlaying:
		if err := c.player.Pause(); err != nil {
			zlog.Warn().Msgf("session: pause failed: %v", err)
		}
	case playback.StateLoading:
		// Cancels the buffered play; the ready timer must not start a simulator.
		if err := c.player.Pause(); err != nil {
			zlog.Debug().Msgf("session: pause while loading: %v", err)
		}
		c.cancelReadyTimer()
		c.playState = playback.StatePaused
		c.publish(ReasonState)
	}
}

func (c *Coordinator) resume() {
	if c.playState != playback.StatePaused || c.current == nil {
		return
	}
	if c.playedGeneration != c.generation {
		// Paused before the engine ever started
		c.playState = playback.StateLoading
		if c.backing == playback.BackingRemote {
			c.armReadyTimer(c.generation, *c.current)
		}
		c.publish(ReasonState)
	}
	if err := c.player.Play(); err != nil {
		zlog.Warn().Msgf("session: resume failed: %v", err)
	}
}

func (c *Coordinator) togglePlay() {
	switch {
	case c.current == nil:
		if t, ok := c.queue.PopFront(); ok {
			c.play(t)
		}
	case c.playState == playback.StatePlaying || c.playState == playback.StateLoading:
		c.pause()
	case c.playState == playback.StatePaused:
		c.resume()
	default:
		c.play(*c.current)
	}
}

func (c *Coordinator) seek(seconds float64) {
	if c.current == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if c.duration > 0 && seconds > c.duration {
		seconds = c.duration
	}
	if err := c.player.Seek(seconds); err != nil {
		zlog.Debug().Msgf("session: seek not applied: %v", err)
	}
	c.progress = seconds
	c.publish(ReasonProgress)
}

func (c *Coordinator) setVolume(volume int) {
	c.volume = lo.Clamp(volume, 0, 100)
	if err := c.player.SetVolume(c.volume); err != nil {
		zlog.Debug().Msgf("session: volume not applied: %v", err)
	}
	c.publish(ReasonVolume)
}

func (c *Coordinator) toggleMute() {
	if c.volume > 0 {
		c.previousVolume = c.volume
		c.setVolume(0)
		return
	}
	restore := c.previousVolume
	if restore <= 0 {
		restore = defaultUnmuteVolume
	}
	c.setVolume(restore)
}

// startTicker starts the progress ticker unless one is running.
func (c *Coordinator) startTicker() {
	if c.ticker != nil {
		return
	}
	c.ticker = c.newTicker(c.cfg.TickInterval)
}

func (c *Coordinator) stopTicker() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
}

func (c *Coordinator) tickerC() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}

// onTick advances the simulator or polls the remote playhead.
func (c *Coordinator) onTick() {
	if c.playState != playback.StatePlaying {
		return
	}
	pos, dur := c.player.Tick(c.cfg.TickInterval.Seconds())
	if dur > 0 {
		c.duration = dur
	}
	if c.duration > 0 && pos > c.duration {
		pos = c.duration
	}
	c.progress = pos
	c.publish(ReasonProgress)
}
