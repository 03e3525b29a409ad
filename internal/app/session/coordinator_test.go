package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19stream/internal/app/playback"
	"github.com/osa030/19stream/internal/domain/listener"
	"github.com/osa030/19stream/internal/domain/playlist"
	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/config"
)

var ctx = context.Background()

func TestCoordinator_SimulatesWhenNoVideoFound(t *testing.T) {
	h := newHarness(t, harnessOptions{lookup: noVideo})

	require.NoError(t, h.c.Play(ctx, track.Track{ID: "T", Name: "Song", Artists: []string{"Band"}, Duration: 180000 * time.Millisecond}))
	h.waitFor(t, "simulated playback starts", playingTrack("T"))

	s := h.snap(t)
	assert.Equal(t, playback.BackingLocal, s.Backing)
	assert.Nil(t, s.CurrentVideo)
	assert.Equal(t, 180.0, s.DurationSeconds)
	assert.Equal(t, []string{"Song Band official audio"}, h.lookup.Queries())

	h.clock.TickN(t, 179)
	s = h.snap(t)
	assert.Equal(t, 179.0, s.ProgressSeconds)
	assert.Equal(t, playback.StatePlaying, s.PlayState)

	h.clock.Tick(t)
	s = h.snap(t)
	assert.Equal(t, 180.0, s.ProgressSeconds)
	assert.True(t, h.pub.SawState(playback.StateEnded), "ended must fire at the duration")
	assert.Equal(t, playback.StateIdle, s.PlayState)
	assert.Equal(t, "T", s.CurrentTrackID(), "idle keeps the current track")
	assert.Equal(t, 0, h.clock.Active())
	assert.Equal(t, 1, h.clock.MaxActive())
}

func TestCoordinator_AdvanceOrder(t *testing.T) {
	c := mkTrack("C", 2)
	h := newHarness(t, harnessOptions{refresher: fixedRelated(c)})

	require.NoError(t, h.c.Play(ctx, mkTrack("X", 2)))
	_, err := h.c.Enqueue(ctx, mkTrack("A", 2), mkTrack("B", 2))
	require.NoError(t, err)
	h.waitFor(t, "lookahead is loaded", func(s Snapshot) bool {
		return len(s.RelatedLookahead) == 1 && s.RelatedLookahead[0].ID == "C"
	})

	for _, want := range []string{"A", "B", "C"} {
		h.clock.TickN(t, 2)
		s := h.snap(t)
		require.Equal(t, want, s.CurrentTrackID())
		assert.Equal(t, playback.StatePlaying, s.PlayState)
	}

	assert.Empty(t, h.snap(t).Queue)
	assert.Equal(t, 1, h.clock.MaxActive(), "at most one progress timer runs")
}

func TestCoordinator_RepeatTakesPrecedence(t *testing.T) {
	h := newHarness(t, harnessOptions{refresher: fixedRelated(mkTrack("C", 2))})

	require.NoError(t, h.c.Play(ctx, mkTrack("X", 2)))
	_, err := h.c.Enqueue(ctx, mkTrack("A", 2))
	require.NoError(t, err)
	require.NoError(t, h.c.ToggleRepeat(ctx))
	h.waitFor(t, "lookahead is loaded", func(s Snapshot) bool { return len(s.RelatedLookahead) == 1 })

	before := h.snap(t)
	h.clock.TickN(t, 2)

	s := h.snap(t)
	assert.Equal(t, "X", s.CurrentTrackID())
	assert.Equal(t, playback.StatePlaying, s.PlayState)
	assert.Equal(t, 0.0, s.ProgressSeconds)
	assert.Greater(t, s.Generation, before.Generation)
	assert.Equal(t, []string{"A"}, track.IDs(s.Queue))
}

func TestCoordinator_IdleWithoutContinuousPlayback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContinuousPlayback = false
	h := newHarness(t, harnessOptions{cfg: &cfg, refresher: fixedRelated(mkTrack("C", 2))})

	require.NoError(t, h.c.Play(ctx, mkTrack("X", 2)))
	h.waitFor(t, "lookahead is loaded", func(s Snapshot) bool { return len(s.RelatedLookahead) == 1 })

	h.clock.TickN(t, 2)
	s := h.snap(t)
	assert.Equal(t, playback.StateIdle, s.PlayState)
	assert.Equal(t, "X", s.CurrentTrackID())
	assert.Equal(t, playback.BackingNone, s.Backing)
}

func TestCoordinator_ErrorEscalationToOffline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = time.Minute
	h := newHarness(t, harnessOptions{cfg: &cfg, widget: true, lookup: videoFor})
	h.widget.Handler().OnReady()

	require.NoError(t, h.c.Play(ctx, mkTrack("T1", 60)))
	_, err := h.c.Enqueue(ctx, mkTrack("T2", 60), mkTrack("T3", 60), mkTrack("T4", 60), mkTrack("T5", 60))
	require.NoError(t, err)

	for i, id := range []string{"T1", "T2", "T3", "T4"} {
		h.waitFor(t, id+" loads on the widget", func(s Snapshot) bool {
			return s.CurrentTrackID() == id && s.Backing == playback.BackingRemote
		})
		assert.Equal(t, i, h.snap(t).ErrorCount)
		assert.False(t, h.snap(t).OfflineMode)
		h.widget.Handler().OnError(playback.WidgetErrNotEmbeddable)
	}

	h.waitFor(t, "T5 is simulated offline", playingTrack("T5"))
	s := h.snap(t)
	assert.True(t, s.OfflineMode)
	assert.Equal(t, playback.BackingLocal, s.Backing)
	assert.Equal(t, 0, s.ErrorCount, "a successful play resets the error count")
	assert.Len(t, h.lookup.Queries(), 4, "offline plays skip the video lookup")
}

func TestCoordinator_FailedTrackIsNotRepeated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = time.Minute
	h := newHarness(t, harnessOptions{cfg: &cfg, widget: true, lookup: videoFor})
	h.widget.Handler().OnReady()

	require.NoError(t, h.c.ToggleRepeat(ctx))
	require.NoError(t, h.c.Play(ctx, mkTrack("T1", 60)))
	_, err := h.c.Enqueue(ctx, mkTrack("T2", 60))
	require.NoError(t, err)

	h.waitFor(t, "T1 loads on the widget", func(s Snapshot) bool { return s.Backing == playback.BackingRemote })
	h.widget.Handler().OnError(playback.WidgetErrNotFound)

	h.waitFor(t, "T2 replaces the failed track", func(s Snapshot) bool {
		return s.CurrentTrackID() == "T2" && s.Backing == playback.BackingRemote
	})
	assert.Equal(t, 1, h.snap(t).ErrorCount)
}

func TestCoordinator_AutoAdvanceFailuresAreCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = time.Minute
	cfg.ErrorThreshold = 100
	cfg.MaxAutoAdvanceFailures = 3
	h := newHarness(t, harnessOptions{cfg: &cfg, widget: true, lookup: videoFor})
	h.widget.Handler().OnReady()

	require.NoError(t, h.c.Play(ctx, mkTrack("T1", 60)))
	_, err := h.c.Enqueue(ctx, mkTrack("T2", 60), mkTrack("T3", 60), mkTrack("T4", 60))
	require.NoError(t, err)

	for _, id := range []string{"T1", "T2", "T3"} {
		h.waitFor(t, id+" loads on the widget", func(s Snapshot) bool {
			return s.CurrentTrackID() == id && s.Backing == playback.BackingRemote
		})
		h.widget.Handler().OnError(playback.WidgetErrEmbedForbidden)
	}

	h.waitFor(t, "session goes idle", func(s Snapshot) bool { return s.PlayState == playback.StateIdle })
	s := h.snap(t)
	assert.Equal(t, "T3", s.CurrentTrackID())
	assert.Equal(t, []string{"T4"}, track.IDs(s.Queue))
	assert.False(t, s.OfflineMode)
}

func TestCoordinator_StaleLookupIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	lookup := func(ctx context.Context, query string) (*track.VideoRef, error) {
		if strings.HasPrefix(query, "Song A ") {
			<-gate
			return &track.VideoRef{ID: "vid-a"}, nil
		}
		return nil, nil
	}
	h := newHarness(t, harnessOptions{widget: true, lookup: lookup})
	h.widget.Handler().OnReady()

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	require.NoError(t, h.c.Play(ctx, mkTrack("B", 60)))
	h.waitFor(t, "B plays simulated", playingTrack("B"))

	close(gate)
	h.waitFor(t, "A's lookup result is discarded", func(s Snapshot) bool { return s.DiscardedResults == 1 })

	s := h.snap(t)
	assert.Equal(t, "B", s.CurrentTrackID())
	assert.Equal(t, playback.BackingLocal, s.Backing)
	assert.Nil(t, s.CurrentVideo)
	assert.Equal(t, playback.StatePlaying, s.PlayState)
}

func TestCoordinator_LookupTimeoutFallsBack(t *testing.T) {
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })

	cfg := DefaultConfig()
	cfg.LookupTimeout = 30 * time.Millisecond
	h := newHarness(t, harnessOptions{cfg: &cfg, lookup: func(context.Context, string) (*track.VideoRef, error) {
		<-gate
		return nil, nil
	}})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	h.waitFor(t, "simulator takes over", playingTrack("A"))
	assert.Equal(t, playback.BackingLocal, h.snap(t).Backing)
}

func TestCoordinator_ReadyTimeoutFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyTimeout = 30 * time.Millisecond
	h := newHarness(t, harnessOptions{cfg: &cfg, widget: true, lookup: videoFor})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	h.waitFor(t, "simulator takes over", playingTrack("A"))

	s := h.snap(t)
	assert.Equal(t, playback.BackingLocal, s.Backing)
	assert.Nil(t, s.CurrentVideo)
}

func TestCoordinator_RemotePlayback(t *testing.T) {
	h := newHarness(t, harnessOptions{widget: true, lookup: videoFor})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	h.waitFor(t, "video is loaded", func(s Snapshot) bool { return s.CurrentVideo != nil })

	h.widget.Handler().OnReady()
	h.widget.Handler().OnStateChange(playback.WidgetPlaying, "")
	h.waitFor(t, "widget is playing", playingTrack("A"))

	s := h.snap(t)
	assert.Equal(t, playback.BackingRemote, s.Backing)
	assert.Equal(t, "vid:Song A Artist A official audio", s.CurrentVideo.ID)

	h.widget.Handler().OnStateChange(playback.WidgetPaused, "")
	h.waitFor(t, "widget paused", func(s Snapshot) bool { return s.PlayState == playback.StatePaused })
	assert.Equal(t, 0, h.clock.Active())
}

func TestCoordinator_PauseIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	h.clock.TickN(t, 3)

	require.NoError(t, h.c.Pause(ctx))
	first := h.snap(t)
	require.Equal(t, playback.StatePaused, first.PlayState)

	require.NoError(t, h.c.Pause(ctx))
	assert.Equal(t, first, h.snap(t))
	assert.Equal(t, 0, h.clock.Active())

	require.NoError(t, h.c.Resume(ctx))
	h.clock.Tick(t)
	s := h.snap(t)
	assert.Equal(t, playback.StatePlaying, s.PlayState)
	assert.Equal(t, 4.0, s.ProgressSeconds)
}

func TestCoordinator_TogglePlay(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.c.TogglePlay(ctx), "nothing to play is a no-op")
	assert.Equal(t, playback.StateIdle, h.snap(t).PlayState)

	_, err := h.c.Enqueue(ctx, mkTrack("A", 60))
	require.NoError(t, err)
	require.NoError(t, h.c.TogglePlay(ctx))
	s := h.snap(t)
	assert.Equal(t, "A", s.CurrentTrackID())
	assert.Equal(t, playback.StatePlaying, s.PlayState)
	assert.Empty(t, s.Queue)

	require.NoError(t, h.c.TogglePlay(ctx))
	assert.Equal(t, playback.StatePaused, h.snap(t).PlayState)
	require.NoError(t, h.c.TogglePlay(ctx))
	assert.Equal(t, playback.StatePlaying, h.snap(t).PlayState)
}

func TestCoordinator_PauseWhileLookingUp(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, harnessOptions{lookup: func(context.Context, string) (*track.VideoRef, error) {
		<-gate
		return nil, nil
	}})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	require.NoError(t, h.c.Pause(ctx))
	close(gate)

	require.Eventually(t, func() bool {
		return h.lookup != nil && len(h.lookup.Queries()) == 1
	}, time.Second, 5*time.Millisecond)
	h.waitFor(t, "simulator is loaded", func(s Snapshot) bool { return s.Backing == playback.BackingLocal })
	assert.Equal(t, playback.StatePaused, h.snap(t).PlayState)

	require.NoError(t, h.c.Resume(ctx))
	assert.Equal(t, playback.StatePlaying, h.snap(t).PlayState)
}

func TestCoordinator_PauseWhileLookingUpRemote(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, harnessOptions{widget: true, lookup: func(context.Context, string) (*track.VideoRef, error) {
		<-gate
		return &track.VideoRef{ID: "vid"}, nil
	}})
	h.widget.Handler().OnReady()

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	require.NoError(t, h.c.Pause(ctx))
	close(gate)

	h.waitFor(t, "video is cued", func(s Snapshot) bool { return s.CurrentVideo != nil })
	s := h.snap(t)
	assert.Equal(t, playback.StatePaused, s.PlayState)
	assert.Equal(t, playback.BackingRemote, s.Backing)
	assert.Equal(t, []string{"volume:70", "cue:vid"}, h.widget.Calls(), "a paused load must not start the video")

	h.widget.Handler().OnStateChange(playback.WidgetCued, "vid")
	assert.Equal(t, playback.StatePaused, h.snap(t).PlayState)
	assert.Equal(t, 0, h.clock.Active())

	require.NoError(t, h.c.Resume(ctx))
	calls := h.widget.Calls()
	assert.Equal(t, "play", calls[len(calls)-1])

	h.widget.Handler().OnStateChange(playback.WidgetPlaying, "vid")
	h.waitFor(t, "widget is playing", playingTrack("A"))
}

func TestCoordinator_Previous(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RestartThreshold = 5 * time.Second
	h := newHarness(t, harnessOptions{cfg: &cfg})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 180)))
	require.NoError(t, h.c.Play(ctx, mkTrack("B", 180)))

	require.NoError(t, h.c.Previous(ctx))
	s := h.snap(t)
	assert.Equal(t, "A", s.CurrentTrackID())
	assert.Equal(t, []string{"A", "B"}, track.IDs(s.RecentlyPlayed))

	h.clock.TickN(t, 6)
	require.NoError(t, h.c.Previous(ctx))
	s = h.snap(t)
	assert.Equal(t, "A", s.CurrentTrackID(), "past the threshold the track restarts")
	assert.Equal(t, 0.0, s.ProgressSeconds)

	h.clock.Tick(t)
	assert.Equal(t, 1.0, h.snap(t).ProgressSeconds)
}

func TestCoordinator_Next(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.c.ToggleRepeat(ctx))
	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	require.NoError(t, h.c.Next(ctx))
	assert.Equal(t, "A", h.snap(t).CurrentTrackID(), "nothing queued keeps playing")

	_, err := h.c.Enqueue(ctx, mkTrack("B", 60))
	require.NoError(t, err)
	require.NoError(t, h.c.Next(ctx))
	assert.Equal(t, "B", h.snap(t).CurrentTrackID(), "a skip ignores repeat")
}

func TestCoordinator_Volume(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.c.SetVolume(ctx, 40))
	require.NoError(t, h.c.ToggleMute(ctx))
	s := h.snap(t)
	assert.Equal(t, 0, s.Volume)
	assert.True(t, s.Muted)

	require.NoError(t, h.c.ToggleMute(ctx))
	s = h.snap(t)
	assert.Equal(t, 40, s.Volume)
	assert.False(t, s.Muted)

	require.NoError(t, h.c.SetVolume(ctx, 0))
	require.NoError(t, h.c.ToggleMute(ctx))
	assert.Equal(t, 40, h.snap(t).Volume, "the volume saved by the last mute is kept")

	fresh := newHarness(t, harnessOptions{})
	require.NoError(t, fresh.c.SetVolume(ctx, 0))
	require.NoError(t, fresh.c.ToggleMute(ctx))
	assert.Equal(t, 70, fresh.snap(t).Volume, "unmute without a saved volume uses the default")

	tests := []struct {
		name     string
		apply    func() error
		expected int
	}{
		{name: "clamp high", apply: func() error { return h.c.SetVolume(ctx, 150) }, expected: 100},
		{name: "up at max", apply: func() error { return h.c.VolumeUp(ctx) }, expected: 100},
		{name: "down", apply: func() error { return h.c.VolumeDown(ctx) }, expected: 90},
		{name: "clamp low", apply: func() error { return h.c.SetVolume(ctx, -5) }, expected: 0},
		{name: "down at min", apply: func() error { return h.c.VolumeDown(ctx) }, expected: 0},
		{name: "up", apply: func() error { return h.c.VolumeUp(ctx) }, expected: 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.apply())
			assert.Equal(t, tt.expected, h.snap(t).Volume)
		})
	}
}

func TestCoordinator_VolumeAppliedOnReady(t *testing.T) {
	h := newHarness(t, harnessOptions{widget: true, lookup: videoFor})

	require.NoError(t, h.c.SetVolume(ctx, 35))
	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	h.waitFor(t, "video is loaded", func(s Snapshot) bool { return s.CurrentVideo != nil })
	h.widget.Handler().OnReady()

	require.Eventually(t, func() bool {
		h.widget.mu.Lock()
		defer h.widget.mu.Unlock()
		return len(h.widget.calls) > 0 && h.widget.calls[len(h.widget.calls)-1] == "volume:35"
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinator_Seek(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.c.Seek(ctx, 10), "seek without a track is ignored")
	assert.Equal(t, 0.0, h.snap(t).ProgressSeconds)

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 100)))

	tests := []struct {
		name     string
		seconds  float64
		expected float64
	}{
		{name: "within range", seconds: 42, expected: 42},
		{name: "past duration", seconds: 500, expected: 100},
		{name: "negative", seconds: -3, expected: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, h.c.Seek(ctx, tt.seconds))
			assert.Equal(t, tt.expected, h.snap(t).ProgressSeconds)
		})
	}
}

func TestCoordinator_QueueOperations(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	added, err := h.c.Enqueue(ctx, mkTrack("A", 60), mkTrack("B", 60), track.Track{}, mkTrack("C", 60))
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	require.NoError(t, h.c.RemoveAt(ctx, 7))
	assert.Equal(t, []string{"A", "B", "C"}, track.IDs(h.snap(t).Queue))

	require.NoError(t, h.c.Move(ctx, 2, 0))
	assert.Equal(t, []string{"C", "A", "B"}, track.IDs(h.snap(t).Queue))

	require.NoError(t, h.c.Move(ctx, 0, 3))
	assert.Equal(t, []string{"C", "A", "B"}, track.IDs(h.snap(t).Queue))

	require.NoError(t, h.c.RemoveAt(ctx, 1))
	assert.Equal(t, []string{"C", "B"}, track.IDs(h.snap(t).Queue))

	require.NoError(t, h.c.ClearQueue(ctx))
	assert.Empty(t, h.snap(t).Queue)
}

func TestCoordinator_ShuffleIsOneWay(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	var tracks []track.Track
	for i := 0; i < 20; i++ {
		tracks = append(tracks, mkTrack(fmt.Sprintf("t%02d", i), 60))
	}
	_, err := h.c.Enqueue(ctx, tracks...)
	require.NoError(t, err)

	require.NoError(t, h.c.ToggleShuffle(ctx))
	shuffled := h.snap(t)
	assert.True(t, shuffled.Shuffled)
	assert.ElementsMatch(t, track.IDs(tracks), track.IDs(shuffled.Queue))

	require.NoError(t, h.c.ToggleShuffle(ctx))
	s := h.snap(t)
	assert.False(t, s.Shuffled)
	assert.Equal(t, track.IDs(shuffled.Queue), track.IDs(s.Queue), "disabling keeps the shuffled order")
}

func TestCoordinator_RecentlyPlayedIsBounded(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	for i := 0; i < 12; i++ {
		require.NoError(t, h.c.Play(ctx, mkTrack(fmt.Sprintf("t%d", i), 60)))
	}
	require.NoError(t, h.c.Play(ctx, mkTrack("t5", 60)))

	recent := track.IDs(h.snap(t).RecentlyPlayed)
	require.Len(t, recent, 10)
	assert.Equal(t, "t5", recent[0])
	assert.Equal(t, "t11", recent[1])
	assert.NotContains(t, recent, "t0")
	assert.NotContains(t, recent, "t1")

	seen := map[string]bool{}
	for _, id := range recent {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestCoordinator_PlayIgnoresTrackWithoutID(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.c.Play(ctx, track.Track{Name: "nameless"}))
	s := h.snap(t)
	assert.Nil(t, s.CurrentTrack)
	assert.Equal(t, playback.StateIdle, s.PlayState)
}

func TestCoordinator_OfflineModeSkipsLookup(t *testing.T) {
	h := newHarness(t, harnessOptions{widget: true, lookup: videoFor})

	require.NoError(t, h.c.SetOfflineMode(ctx, true))
	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))

	s := h.snap(t)
	assert.Equal(t, playback.StatePlaying, s.PlayState)
	assert.Equal(t, playback.BackingLocal, s.Backing)
	assert.Empty(t, h.lookup.Queries())

	require.NoError(t, h.c.SetOfflineMode(ctx, false))
	assert.False(t, h.snap(t).OfflineMode)
}

func TestCoordinator_LookaheadRefresh(t *testing.T) {
	gate := make(chan struct{})
	refresher := &fakeRefresher{fn: func(_ context.Context, seed track.Track) ([]track.Track, error) {
		switch seed.ID {
		case "A":
			<-gate
			return []track.Track{mkTrack("stale", 60)}, nil
		case "B":
			return []track.Track{mkTrack("B", 60), mkTrack("D", 60)}, nil
		default:
			return nil, errors.New("catalog unavailable")
		}
	}}
	h := newHarness(t, harnessOptions{refresher: refresher})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	require.NoError(t, h.c.Play(ctx, mkTrack("B", 60)))
	h.waitFor(t, "B's lookahead arrives", func(s Snapshot) bool { return len(s.RelatedLookahead) == 1 })
	assert.Equal(t, []string{"D"}, track.IDs(h.snap(t).RelatedLookahead), "the seed is never its own lookahead")

	close(gate)
	h.waitFor(t, "A's lookahead is discarded", func(s Snapshot) bool { return s.DiscardedResults == 1 })
	assert.Equal(t, []string{"D"}, track.IDs(h.snap(t).RelatedLookahead))

	require.NoError(t, h.c.Play(ctx, mkTrack("E", 60)))
	require.Eventually(t, func() bool { return refresher.Calls() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"D"}, track.IDs(h.snap(t).RelatedLookahead), "a failed refresh keeps the previous lookahead")
}

func TestCoordinator_LikesArePersisted(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	liked, err := h.c.ToggleLike(ctx, "")
	assert.ErrorIs(t, err, ErrTrackNotFound, "no current track")
	assert.False(t, liked)

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	liked, err = h.c.ToggleLike(ctx, "")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.True(t, h.c.IsLiked("A"))
	assert.True(t, h.snap(t).IsLiked("A"))

	require.Eventually(t, func() bool {
		raw, ok, err := h.store.Load(ctx, "local:"+KeyLikedSongs)
		if err != nil || !ok {
			return false
		}
		var saved []track.Track
		return json.Unmarshal(raw, &saved) == nil && len(saved) == 1 && saved[0].ID == "A"
	}, time.Second, 5*time.Millisecond)

	liked, err = h.c.ToggleLike(ctx, "A")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.False(t, h.c.IsLiked("A"))
}

func TestCoordinator_ToggleLikeResolvesUnknownTrack(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]track.Track{"Z": mkTrack("Z", 60)}}
	h := newHarness(t, harnessOptions{catalog: catalog})

	liked, err := h.c.ToggleLike(ctx, "Z")
	require.NoError(t, err)
	assert.True(t, liked)

	likes, err := h.c.Likes(ctx)
	require.NoError(t, err)
	require.Len(t, likes, 1)
	assert.Equal(t, "Song Z", likes[0].Name)

	_, err = h.c.ToggleLike(ctx, "missing")
	assert.Error(t, err)
}

func TestCoordinator_SetIdentitySwitchesScope(t *testing.T) {
	h := newHarness(t, harnessOptions{before: func(h *harness) {
		raw, _ := json.Marshal([]track.Track{mkTrack("B", 60)})
		require.NoError(t, h.store.Save(ctx, "user:u1:"+KeyLikedSongs, raw))
		raw, _ = json.Marshal([]track.Track{mkTrack("R1", 60), mkTrack("R2", 60)})
		require.NoError(t, h.store.Save(ctx, "user:u1:"+KeyRecentlyPlayed, raw))
	}})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	_, err := h.c.ToggleLike(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, listener.LocalScope, h.snap(t).Scope)

	require.NoError(t, h.c.SetIdentity(ctx, listener.Identity{UserID: "u1", DisplayName: "Kei"}))
	s := h.snap(t)
	assert.Equal(t, "user:u1", s.Scope)
	assert.Equal(t, []string{"B"}, s.LikedIDs)
	assert.Equal(t, []string{"R1", "R2"}, track.IDs(s.RecentlyPlayed))
	assert.Equal(t, "A", s.CurrentTrackID(), "playback is not interrupted")

	require.NoError(t, h.c.SetIdentity(ctx, listener.Guest()))
	assert.Equal(t, []string{"A"}, h.snap(t).LikedIDs)
}

func TestCoordinator_HistoryRecordsStartedPlays(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	h := newHarness(t, harnessOptions{now: func() time.Time { return at }})

	require.NoError(t, h.c.Play(ctx, mkTrack("A", 60)))
	require.NoError(t, h.c.Pause(ctx))
	require.NoError(t, h.c.Resume(ctx))

	history, err := h.c.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1, "resume is not a new play")
	assert.Equal(t, "A", history[0].Track.ID)
	assert.Equal(t, at, history[0].PlayedAt)
}

func TestCoordinator_CatalogOperations(t *testing.T) {
	catalog := &fakeCatalog{
		tracks: map[string]track.Track{"A": mkTrack("A", 60)},
		albums: map[string]*playlist.Playlist{
			"album-1": {ID: "album-1", Kind: playlist.KindAlbum, Name: "Album", Tracks: []track.Track{mkTrack("X", 60), mkTrack("Y", 60)}},
		},
	}
	h := newHarness(t, harnessOptions{catalog: catalog})

	require.NoError(t, h.c.PlayByID(ctx, "A"))
	assert.Equal(t, "A", h.snap(t).CurrentTrackID())
	assert.Error(t, h.c.PlayByID(ctx, "missing"))

	pl, err := h.c.AddAlbumToQueue(ctx, "album-1")
	require.NoError(t, err)
	assert.Equal(t, "Album", pl.Name)
	assert.Equal(t, []string{"X", "Y"}, track.IDs(h.snap(t).Queue))

	_, err = h.c.AddPlaylistToQueue(ctx, "album-1")
	require.NoError(t, err)
	assert.Len(t, h.snap(t).Queue, 4)

	_, err = h.c.AddAlbumToQueue(ctx, "nope")
	assert.Error(t, err)

	added, err := h.c.EnqueueByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Len(t, h.snap(t).Queue, 5)

	_, err = h.c.EnqueueByID(ctx, "A", "missing")
	assert.Error(t, err)
	assert.Len(t, h.snap(t).Queue, 5, "a failed resolution enqueues nothing")
}

func TestCoordinator_WithoutCatalog(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	assert.ErrorIs(t, h.c.PlayByID(ctx, "A"), ErrNoCatalog)
	_, err := h.c.AddAlbumToQueue(ctx, "album")
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestCoordinator_Lifecycle(t *testing.T) {
	c, err := New(DefaultConfig(), Dependencies{Player: playback.NewController(playback.Config{}, nil)})
	require.NoError(t, err)

	_, err = c.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, c.Start(ctx))
	assert.ErrorIs(t, c.Start(ctx), ErrAlreadyStarted)

	s, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70, s.Volume)
	assert.True(t, s.ContinuousPlayback)

	c.Stop()
	assert.ErrorIs(t, c.Play(ctx, mkTrack("A", 60)), ErrNotRunning)

	_, err = New(DefaultConfig(), Dependencies{})
	assert.Error(t, err)
}

func TestCoordinator_StopFlushesLastCommand(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	gate := make(chan struct{})
	busy := make(chan struct{})
	h.c.post(func() {
		close(busy)
		<-gate
		h.c.library.ToggleLike(mkTrack("A", 60))
	})
	<-busy

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		h.c.Stop()
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	raw, ok, err := h.store.Load(ctx, "local:"+KeyLikedSongs)
	require.NoError(t, err)
	require.True(t, ok, "the like written by the last command is saved")
	var saved []track.Track
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, []string{"A"}, track.IDs(saved))
}

func TestNewConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
spotify:
  client_id: id
  client_secret: secret
player:
  default_volume: 55
  continuous_playback: false
  restart_threshold_sec: 3
identity:
  user_id: u9
`))
	require.NoError(t, err)

	c := NewConfig(cfg)
	assert.Equal(t, 55, c.DefaultVolume)
	assert.False(t, c.ContinuousPlayback)
	assert.Equal(t, 3*time.Second, c.RestartThreshold)
	assert.Equal(t, 3, c.ErrorThreshold)
	assert.Equal(t, time.Second, c.TickInterval)
	assert.Equal(t, "user:u9", c.Identity.Scope())
}
