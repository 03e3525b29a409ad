package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/osa030/19stream/internal/app/playback"
	"github.com/osa030/19stream/internal/domain/playlist"
	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/store"
)

// manualClock hands out tickers that fire only when the test calls Tick.
type manualClock struct {
	ch chan time.Time

	mu        sync.Mutex
	active    int
	maxActive int
	started   int
}

func newManualClock() *manualClock {
	return &manualClock{ch: make(chan time.Time)}
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	c.started++
	if c.active > c.maxActive {
		c.maxActive = c.active
	}
	return &manualTicker{clock: c}
}

// Tick delivers one tick and fails the test when no ticker is listening.
func (c *manualClock) Tick(t *testing.T) {
	t.Helper()
	select {
	case c.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker is running")
	}
}

func (c *manualClock) TickN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		c.Tick(t)
	}
}

func (c *manualClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *manualClock) MaxActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

type manualTicker struct {
	clock   *manualClock
	stopped bool
}

func (t *manualTicker) C() <-chan time.Time { return t.clock.ch }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if !t.stopped {
		t.stopped = true
		t.clock.active--
	}
}

// fakeLookup answers video searches through fn.
type fakeLookup struct {
	fn func(ctx context.Context, query string) (*track.VideoRef, error)

	mu      sync.Mutex
	queries []string
}

func (l *fakeLookup) SearchVideo(ctx context.Context, query string) (*track.VideoRef, error) {
	l.mu.Lock()
	l.queries = append(l.queries, query)
	l.mu.Unlock()
	return l.fn(ctx, query)
}

func (l *fakeLookup) Queries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.queries...)
}

func videoFor(_ context.Context, query string) (*track.VideoRef, error) {
	return &track.VideoRef{ID: "vid:" + query, Title: query}, nil
}

func noVideo(context.Context, string) (*track.VideoRef, error) {
	return nil, nil
}

// fakeRefresher answers lookahead refreshes through fn.
type fakeRefresher struct {
	fn func(ctx context.Context, seed track.Track) ([]track.Track, error)

	mu    sync.Mutex
	seeds []string
}

func (r *fakeRefresher) Refresh(ctx context.Context, seed track.Track, _ []track.Track) ([]track.Track, error) {
	tracks, err := r.fn(ctx, seed)
	r.mu.Lock()
	r.seeds = append(r.seeds, seed.ID)
	r.mu.Unlock()
	return tracks, err
}

func (r *fakeRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seeds)
}

func fixedRelated(tracks ...track.Track) *fakeRefresher {
	return &fakeRefresher{fn: func(context.Context, track.Track) ([]track.Track, error) {
		return tracks, nil
	}}
}

// fakeWidget is a remote widget driven by the test.
type fakeWidget struct {
	mu      sync.Mutex
	handler playback.WidgetHandler
	calls   []string
}

func (w *fakeWidget) Init(h playback.WidgetHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

func (w *fakeWidget) Handler() playback.WidgetHandler {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handler
}

func (w *fakeWidget) record(call string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
	return nil
}

func (w *fakeWidget) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *fakeWidget) CueVideoByID(videoID string) error { return w.record("cue:" + videoID) }
func (w *fakeWidget) PlayVideo() error                  { return w.record("play") }
func (w *fakeWidget) PauseVideo() error                 { return w.record("pause") }
func (w *fakeWidget) SeekTo(float64) error              { return w.record("seek") }
func (w *fakeWidget) SetVolume(v int) error             { return w.record("volume:" + strconv.Itoa(v)) }
func (w *fakeWidget) CurrentTime() float64              { return 0 }
func (w *fakeWidget) Duration() float64                 { return 0 }

// fakeCatalog serves tracks and albums from memory.
type fakeCatalog struct {
	tracks map[string]track.Track
	albums map[string]*playlist.Playlist
}

func (c *fakeCatalog) GetTrack(_ context.Context, id string) (*track.Track, error) {
	t, ok := c.tracks[id]
	if !ok {
		return nil, errors.Newf("unknown track %s", id)
	}
	return &t, nil
}

func (c *fakeCatalog) AlbumTracks(_ context.Context, id string) (*playlist.Playlist, error) {
	pl, ok := c.albums[id]
	if !ok {
		return nil, errors.Newf("unknown album %s", id)
	}
	return pl, nil
}

func (c *fakeCatalog) PlaylistTracks(_ context.Context, url string) (*playlist.Playlist, error) {
	return c.AlbumTracks(context.Background(), url)
}

// recordingPublisher keeps every published snapshot.
type recordingPublisher struct {
	mu        sync.Mutex
	reasons   []string
	snapshots []Snapshot
}

func (p *recordingPublisher) Publish(reason string, state any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reasons = append(p.reasons, reason)
	p.snapshots = append(p.snapshots, state.(Snapshot))
}

func (p *recordingPublisher) SawState(s playback.State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, snap := range p.snapshots {
		if snap.PlayState == s {
			return true
		}
	}
	return false
}

type harness struct {
	c         *Coordinator
	clock     *manualClock
	pub       *recordingPublisher
	store     *store.MemoryStore
	widget    *fakeWidget
	lookup    *fakeLookup
	refresher *fakeRefresher
	catalog   *fakeCatalog
}

type harnessOptions struct {
	cfg       *Config
	widget    bool
	lookup    func(ctx context.Context, query string) (*track.VideoRef, error)
	refresher *fakeRefresher
	catalog   *fakeCatalog
	now       func() time.Time
	before    func(h *harness)
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	h := &harness{
		clock:     newManualClock(),
		pub:       &recordingPublisher{},
		store:     store.NewMemoryStore(),
		refresher: opts.refresher,
		catalog:   opts.catalog,
	}

	var widget playback.Widget
	if opts.widget {
		h.widget = &fakeWidget{}
		widget = h.widget
	}
	ctrl := playback.NewController(playback.Config{}, widget)

	cfg := DefaultConfig()
	if opts.cfg != nil {
		cfg = *opts.cfg
	}

	deps := Dependencies{
		Player:    ctrl,
		Store:     h.store,
		Publisher: h.pub,
		NewTicker: h.clock.NewTicker,
		Now:       opts.now,
	}
	if opts.lookup != nil {
		h.lookup = &fakeLookup{fn: opts.lookup}
		deps.Lookup = h.lookup
	}
	if opts.refresher != nil {
		deps.Refresher = opts.refresher
	}
	if opts.catalog != nil {
		deps.Catalog = opts.catalog
	}

	c, err := New(cfg, deps)
	require.NoError(t, err)
	h.c = c

	if opts.before != nil {
		opts.before(h)
	}

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		c.Stop()
		ctrl.Close()
	})
	return h
}

func (h *harness) snap(t *testing.T) Snapshot {
	t.Helper()
	s, err := h.c.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func (h *harness) waitFor(t *testing.T, msg string, cond func(s Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.c.Snapshot(context.Background())
		return err == nil && cond(s)
	}, 2*time.Second, 5*time.Millisecond, msg)
}

func playingTrack(id string) func(s Snapshot) bool {
	return func(s Snapshot) bool {
		return s.CurrentTrackID() == id && s.PlayState == playback.StatePlaying
	}
}

func mkTrack(id string, seconds int) track.Track {
	return track.Track{
		ID:       id,
		Name:     "Song " + id,
		Artists:  []string{"Artist " + id},
		Duration: time.Duration(seconds) * time.Second,
	}
}
