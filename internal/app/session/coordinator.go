// Package session provides the session coordinator.
//
// A Coordinator owns the single playback session: the current track, the
// queue, the related lookahead and the mode flags. Every mutation runs on one
// control loop goroutine; public methods hand closures to that loop and wait.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/app/playback"
	"github.com/osa030/19stream/internal/app/session/state"
	"github.com/osa030/19stream/internal/domain/listener"
	"github.com/osa030/19stream/internal/domain/playlist"
	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/config"
	"github.com/osa030/19stream/internal/infra/store"
)

var (
	ErrNotRunning     = errors.New("session is not running")
	ErrAlreadyStarted = errors.New("session is already started")
	ErrNoCatalog      = errors.New("catalog is not configured")
	ErrTrackNotFound  = errors.New("track not found")
)

// Notification reasons.
const (
	ReasonTrack     = "track"
	ReasonState     = "state"
	ReasonProgress  = "progress"
	ReasonQueue     = "queue"
	ReasonMode      = "mode"
	ReasonVolume    = "volume"
	ReasonLookahead = "lookahead"
	ReasonLibrary   = "library"
)

const (
	defaultUnmuteVolume = 70
	volumeStep          = 10
	commandBuffer       = 64
)

// Player is the playback engine adapter driven by the coordinator.
type Player interface {
	Events() <-chan playback.Event
	Load(generation uint64, t track.Track, video *track.VideoRef, volume int, allowRemote bool) (playback.Backing, error)
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetVolume(volume int) error
	Tick(step float64) (position, duration float64)
	Stop()
}

// VideoLookup resolves a playable video for a search query.
// A nil VideoRef with a nil error means nothing was found.
type VideoLookup interface {
	SearchVideo(ctx context.Context, query string) (*track.VideoRef, error)
}

// Catalog resolves tracks and collections.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (*track.Track, error)
	AlbumTracks(ctx context.Context, albumID string) (*playlist.Playlist, error)
	PlaylistTracks(ctx context.Context, playlistURL string) (*playlist.Playlist, error)
}

// Refresher computes the related lookahead for a track.
type Refresher interface {
	Refresh(ctx context.Context, seed track.Track, current []track.Track) ([]track.Track, error)
}

// Publisher receives a snapshot on every state change. It must not block.
type Publisher interface {
	Publish(reason string, state any)
}

// Config holds coordinator settings.
type Config struct {
	DefaultVolume          int
	ContinuousPlayback     bool
	ErrorThreshold         int // errorCount above this switches to offline mode
	RecentLimit            int
	HistoryLimit           int
	MaxAutoAdvanceFailures int
	RestartThreshold       time.Duration // Previous restarts the track past this point
	TickInterval           time.Duration
	LookupTimeout          time.Duration
	ReadyTimeout           time.Duration
	Identity               listener.Identity
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		DefaultVolume:          70,
		ContinuousPlayback:     true,
		ErrorThreshold:         3,
		RecentLimit:            10,
		HistoryLimit:           50,
		MaxAutoAdvanceFailures: 10,
		RestartThreshold:       5 * time.Second,
		TickInterval:           time.Second,
		LookupTimeout:          5 * time.Second,
		ReadyTimeout:           5 * time.Second,
	}
}

// NewConfig builds coordinator settings from the application config.
func NewConfig(cfg *config.Config) Config {
	p := cfg.Player
	return Config{
		DefaultVolume:          p.DefaultVolume,
		ContinuousPlayback:     p.IsContinuousPlayback(),
		ErrorThreshold:         p.ErrorThreshold,
		RecentLimit:            p.RecentLimit,
		HistoryLimit:           p.HistoryLimit,
		MaxAutoAdvanceFailures: p.MaxAutoAdvanceFailures,
		RestartThreshold:       time.Duration(p.RestartThresholdSec) * time.Second,
		TickInterval:           p.TickInterval(),
		LookupTimeout:          p.LookupTimeout(),
		ReadyTimeout:           p.ReadyTimeout(),
		Identity: listener.Identity{
			UserID:      cfg.Identity.UserID,
			DisplayName: cfg.Identity.DisplayName,
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultVolume < 0 || c.DefaultVolume > 100 {
		c.DefaultVolume = d.DefaultVolume
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = d.RecentLimit
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.MaxAutoAdvanceFailures <= 0 {
		c.MaxAutoAdvanceFailures = d.MaxAutoAdvanceFailures
	}
	if c.RestartThreshold < 0 {
		c.RestartThreshold = d.RestartThreshold
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = d.ReadyTimeout
	}
	return c
}

// Dependencies are the collaborators of a Coordinator.
// Only Player is required.
type Dependencies struct {
	Player    Player
	Lookup    VideoLookup // nil simulates every track
	Catalog   Catalog
	Refresher Refresher
	Store     store.Store
	Publisher Publisher
	NewTicker TickerFunc
	Now       func() time.Time
}

// Coordinator is the session coordinator.
type Coordinator struct {
	cfg       Config
	player    Player
	lookup    VideoLookup
	catalog   Catalog
	refresher Refresher
	publisher Publisher
	newTicker TickerFunc
	now       func() time.Time
	library   *Library

	// Lifecycle
	mu      sync.Mutex
	started bool
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	cmds    chan func()
	done    chan struct{}
	libDone chan struct{}

	// Owned by the control loop
	current          *track.Track
	video            *track.VideoRef
	playState        playback.State
	backing          playback.Backing
	progress         float64
	duration         float64
	queue            *state.Queue
	related          []track.Track
	shuffled         bool
	repeated         bool
	continuous       bool
	offline          bool
	errorCount       int
	autoFailures     int
	volume           int
	previousVolume   int
	generation       uint64
	playedGeneration uint64
	discarded        int
	ticker           Ticker
	readyTimer       *time.Timer
}

// New creates a coordinator. Call Start to run its control loop.
func New(cfg Config, deps Dependencies) (*Coordinator, error) {
	if deps.Player == nil {
		return nil, errors.New("player is required")
	}
	cfg = cfg.withDefaults()

	c := &Coordinator{
		cfg:        cfg,
		player:     deps.Player,
		lookup:     deps.Lookup,
		catalog:    deps.Catalog,
		refresher:  deps.Refresher,
		publisher:  deps.Publisher,
		newTicker:  deps.NewTicker,
		now:        deps.Now,
		library:    NewLibrary(deps.Store, cfg.RecentLimit, cfg.HistoryLimit),
		cmds:       make(chan func(), commandBuffer),
		done:       make(chan struct{}),
		libDone:    make(chan struct{}),
		playState:  playback.StateIdle,
		queue:      state.NewQueue(),
		continuous: cfg.ContinuousPlayback,
		volume:     cfg.DefaultVolume,
	}
	if c.newTicker == nil {
		c.newTicker = NewTicker
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Start loads the library of the configured identity and starts the control loop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.library.Apply(c.cfg.Identity, c.library.Fetch(c.ctx, c.cfg.Identity))

	// The writer outlives the loop so the last command's writes are flushed.
	libCtx, libCancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer close(c.libDone)
		c.library.Run(libCtx)
	}()
	go func() {
		defer libCancel()
		c.run(c.ctx)
	}()
	c.running.Store(true)

	zlog.Info().Msgf("session: started: scope=%s volume=%d continuous=%v", c.cfg.Identity.Scope(), c.volume, c.continuous)
	return nil
}

// Stop stops the control loop, the active engine and flushes pending writes.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}

	c.running.Store(false)
	c.cancel()
	<-c.done
	// Cancelled by the loop on exit
	<-c.libDone
	c.player.Stop()
	zlog.Info().Msg("session: stopped")
}

// run is the control loop. Engine events already queued are handled before
// the next command or tick.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	defer c.stopTicker()
	defer c.cancelReadyTimer()

	events := c.player.Events()
	for {
		c.drainEvents(events)

		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.safely("event", func() { c.handleEvent(ev) })
		case cmd := <-c.cmds:
			c.safely("command", cmd)
		case <-c.tickerC():
			c.safely("tick", c.onTick)
		}
	}
}

func (c *Coordinator) drainEvents(events <-chan playback.Event) {
	for {
		select {
		case ev := <-events:
			c.safely("event", func() { c.handleEvent(ev) })
		default:
			return
		}
	}
}

// safely keeps the loop alive when a handler panics.
func (c *Coordinator) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: panic in %s: %v", what, r)
		}
	}()
	fn()
}

// do runs fn on the control loop and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	if !c.running.Load() {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case c.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrNotRunning
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrNotRunning
	}
}

// post hands fn to the control loop without waiting.
// It is used by goroutines reporting asynchronous results.
func (c *Coordinator) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// Play plays t now, superseding whatever is loaded.
// A track without an ID is ignored.
func (c *Coordinator) Play(ctx context.Context, t track.Track) error {
	if t.ID == "" {
		zlog.Warn().Msg("session: play ignored: track has no ID")
		return nil
	}
	return c.do(ctx, func() { c.play(t) })
}

// PlayByID resolves trackID through the catalog and plays it.
func (c *Coordinator) PlayByID(ctx context.Context, trackID string) error {
	t, err := c.resolveTrack(ctx, trackID)
	if err != nil {
		return err
	}
	return c.Play(ctx, *t)
}

// Pause pauses playback. Pausing while paused changes nothing.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.do(ctx, c.pause)
}

// Resume resumes paused playback.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.do(ctx, c.resume)
}

// TogglePlay pauses or resumes. With nothing loaded it starts the queue head;
// after the session went idle it replays the current track.
func (c *Coordinator) TogglePlay(ctx context.Context) error {
	return c.do(ctx, c.togglePlay)
}

// Next skips to the queue head or, with continuous playback, the lookahead head.
func (c *Coordinator) Next(ctx context.Context) error {
	return c.do(ctx, c.next)
}

// Previous restarts the current track once it has played past the restart
// threshold, otherwise plays the previously played track.
func (c *Coordinator) Previous(ctx context.Context) error {
	return c.do(ctx, c.previous)
}

// Seek moves the playhead, clamped to the track duration.
func (c *Coordinator) Seek(ctx context.Context, seconds float64) error {
	return c.do(ctx, func() { c.seek(seconds) })
}

// SetVolume sets the volume, clamped to [0, 100].
func (c *Coordinator) SetVolume(ctx context.Context, volume int) error {
	return c.do(ctx, func() { c.setVolume(volume) })
}

// ToggleMute mutes, or restores the volume saved by the last mute.
func (c *Coordinator) ToggleMute(ctx context.Context) error {
	return c.do(ctx, c.toggleMute)
}

// VolumeUp raises the volume by one step.
func (c *Coordinator) VolumeUp(ctx context.Context) error {
	return c.do(ctx, func() { c.setVolume(c.volume + volumeStep) })
}

// VolumeDown lowers the volume by one step.
func (c *Coordinator) VolumeDown(ctx context.Context) error {
	return c.do(ctx, func() { c.setVolume(c.volume - volumeStep) })
}

// ToggleShuffle flips the shuffle flag. Enabling it shuffles the queue;
// disabling it keeps the shuffled order.
func (c *Coordinator) ToggleShuffle(ctx context.Context) error {
	return c.do(ctx, func() {
		c.shuffled = !c.shuffled
		if c.shuffled {
			c.queue.Shuffle()
		}
		zlog.Debug().Msgf("session: shuffle: enabled=%v queue=%d", c.shuffled, c.queue.Len())
		c.publish(ReasonMode)
	})
}

// ToggleRepeat flips the repeat flag.
func (c *Coordinator) ToggleRepeat(ctx context.Context) error {
	return c.do(ctx, func() {
		c.repeated = !c.repeated
		c.publish(ReasonMode)
	})
}

// SetContinuousPlayback enables or disables playing the lookahead when the queue is empty.
func (c *Coordinator) SetContinuousPlayback(ctx context.Context, enabled bool) error {
	return c.do(ctx, func() {
		c.continuous = enabled
		c.publish(ReasonMode)
	})
}

// SetOfflineMode forces simulated playback. Leaving offline mode clears the error count.
func (c *Coordinator) SetOfflineMode(ctx context.Context, offline bool) error {
	return c.do(ctx, func() {
		c.offline = offline
		if !offline {
			c.errorCount = 0
		}
		zlog.Info().Msgf("session: offline mode: enabled=%v", offline)
		c.publish(ReasonMode)
	})
}

// Enqueue appends tracks to the queue and returns how many were added.
func (c *Coordinator) Enqueue(ctx context.Context, tracks ...track.Track) (int, error) {
	var added int
	err := c.do(ctx, func() {
		added = c.queue.Append(tracks...)
		if added > 0 {
			c.publish(ReasonQueue)
		}
	})
	return added, err
}

// EnqueueByID resolves trackIDs through the catalog and appends them in order.
// Resolution stops at the first unknown ID; nothing is enqueued in that case.
func (c *Coordinator) EnqueueByID(ctx context.Context, trackIDs ...string) (int, error) {
	tracks := make([]track.Track, 0, len(trackIDs))
	for _, id := range trackIDs {
		t, err := c.resolveTrack(ctx, id)
		if err != nil {
			return 0, err
		}
		tracks = append(tracks, *t)
	}
	return c.Enqueue(ctx, tracks...)
}

// RemoveAt removes the queued track at index. Out of range is a no-op.
func (c *Coordinator) RemoveAt(ctx context.Context, index int) error {
	return c.do(ctx, func() {
		if !c.queue.RemoveAt(index) {
			zlog.Debug().Msgf("session: remove ignored: index=%d queue=%d", index, c.queue.Len())
			return
		}
		c.publish(ReasonQueue)
	})
}

// Move moves a queued track. Either index out of range is a no-op.
func (c *Coordinator) Move(ctx context.Context, from, to int) error {
	return c.do(ctx, func() {
		if !c.queue.Move(from, to) {
			zlog.Debug().Msgf("session: move ignored: from=%d to=%d queue=%d", from, to, c.queue.Len())
			return
		}
		c.publish(ReasonQueue)
	})
}

// ClearQueue empties the queue.
func (c *Coordinator) ClearQueue(ctx context.Context) error {
	return c.do(ctx, func() {
		c.queue.Clear()
		c.publish(ReasonQueue)
	})
}

// AddAlbumToQueue appends every track of an album.
func (c *Coordinator) AddAlbumToQueue(ctx context.Context, albumID string) (*playlist.Playlist, error) {
	if c.catalog == nil {
		return nil, ErrNoCatalog
	}
	return c.enqueueCollection(ctx, func(ctx context.Context) (*playlist.Playlist, error) {
		return c.catalog.AlbumTracks(ctx, albumID)
	})
}

// AddPlaylistToQueue appends every track of a playlist.
func (c *Coordinator) AddPlaylistToQueue(ctx context.Context, playlistURL string) (*playlist.Playlist, error) {
	if c.catalog == nil {
		return nil, ErrNoCatalog
	}
	return c.enqueueCollection(ctx, func(ctx context.Context) (*playlist.Playlist, error) {
		return c.catalog.PlaylistTracks(ctx, playlistURL)
	})
}

func (c *Coordinator) enqueueCollection(ctx context.Context, fetch func(context.Context) (*playlist.Playlist, error)) (*playlist.Playlist, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	pl, err := fetch(fetchCtx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch collection")
	}
	if _, err := c.Enqueue(ctx, pl.Tracks...); err != nil {
		return nil, err
	}
	zlog.Info().Msgf("session: %s enqueued: id=%s name=%q tracks=%d", pl.Kind, pl.ID, pl.Name, len(pl.Tracks))
	return pl, nil
}

// ToggleLike likes or unlikes a track and returns whether it is liked afterwards.
// An empty trackID means the current track.
func (c *Coordinator) ToggleLike(ctx context.Context, trackID string) (bool, error) {
	var (
		known *track.Track
		liked bool
	)
	err := c.do(ctx, func() {
		known = c.findTrack(trackID)
		if known != nil {
			liked = c.library.ToggleLike(*known)
			c.publish(ReasonLibrary)
		}
	})
	if err != nil {
		return false, err
	}
	if known != nil {
		return liked, nil
	}
	if trackID == "" {
		return false, ErrTrackNotFound
	}

	t, err := c.resolveTrack(ctx, trackID)
	if err != nil {
		return false, err
	}
	err = c.do(ctx, func() {
		liked = c.library.ToggleLike(*t)
		c.publish(ReasonLibrary)
	})
	return liked, err
}

// IsLiked reports whether a track is liked.
func (c *Coordinator) IsLiked(trackID string) bool {
	return c.library.IsLiked(trackID)
}

// Likes returns the liked tracks.
func (c *Coordinator) Likes(ctx context.Context) ([]track.Track, error) {
	var out []track.Track
	err := c.do(ctx, func() { out = c.library.Likes() })
	return out, err
}

// History returns the play history, most recent first.
func (c *Coordinator) History(ctx context.Context) ([]state.HistoryEntry, error) {
	var out []state.HistoryEntry
	err := c.do(ctx, func() { out = c.library.History() })
	return out, err
}

// SetIdentity switches the persistence scope and reloads the library.
func (c *Coordinator) SetIdentity(ctx context.Context, identity listener.Identity) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	data := c.library.Fetch(ctx, identity)
	return c.do(ctx, func() {
		c.library.Apply(identity, data)
		c.publish(ReasonLibrary)
	})
}

// Snapshot returns a copy of the session state.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, func() { s = c.snapshot() })
	return s, err
}

func (c *Coordinator) resolveTrack(ctx context.Context, trackID string) (*track.Track, error) {
	if c.catalog == nil {
		return nil, ErrNoCatalog
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	t, err := c.catalog.GetTrack(ctx, trackID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve track %s", trackID)
	}
	if t == nil || t.ID == "" {
		return nil, ErrTrackNotFound
	}
	return t, nil
}

// findTrack looks up a track the session already knows.
func (c *Coordinator) findTrack(trackID string) *track.Track {
	if trackID == "" || (c.current != nil && c.current.ID == trackID) {
		if c.current == nil {
			return nil
		}
		t := *c.current
		return &t
	}

	pools := [][]track.Track{c.queue.Tracks(), c.related, c.library.Recent().Tracks(), c.library.Likes()}
	for _, pool := range pools {
		for _, t := range pool {
			if t.ID == trackID {
				found := t
				return &found
			}
		}
	}
	return nil
}

func (c *Coordinator) snapshot() Snapshot {
	s := Snapshot{
		Generation:         c.generation,
		PlayState:          c.playState,
		Backing:            c.backing,
		ProgressSeconds:    c.progress,
		DurationSeconds:    c.duration,
		Queue:              c.queue.Tracks(),
		RelatedLookahead:   append([]track.Track(nil), c.related...),
		RecentlyPlayed:     c.library.Recent().Tracks(),
		LikedIDs:           c.library.LikedIDs(),
		Shuffled:           c.shuffled,
		Repeated:           c.repeated,
		ContinuousPlayback: c.continuous,
		OfflineMode:        c.offline,
		ErrorCount:         c.errorCount,
		Volume:             c.volume,
		Muted:              c.volume == 0,
		Scope:              c.library.Identity().Scope(),
		DiscardedResults:   c.discarded,
	}
	if c.current != nil {
		t := *c.current
		s.CurrentTrack = &t
	}
	if c.video != nil {
		v := *c.video
		s.CurrentVideo = &v
	}
	return s
}

func (c *Coordinator) publish(reason string) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(reason, c.snapshot())
}
