package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/app/session/registry"
	"github.com/osa030/19stream/internal/app/session/state"
	"github.com/osa030/19stream/internal/domain/listener"
	"github.com/osa030/19stream/internal/domain/track"
	"github.com/osa030/19stream/internal/infra/store"
)

// Persistence keys, namespaced by listener.Identity.Key.
const (
	KeyLikedSongs     = "likedSongs"
	KeyRecentlyPlayed = "recentlyPlayed"
	KeyPlayHistory    = "playHistory"
)

const saveTimeout = 5 * time.Second

// LibraryData is what a listener has persisted.
type LibraryData struct {
	Likes   []track.Track
	Recent  []track.Track
	History []state.HistoryEntry
}

// Library holds the listener's liked songs, recently played tracks and play history.
// Writes are persisted in the background; the in-memory copy is authoritative.
// Everything except the like registry must be used from the coordinator loop.
type Library struct {
	identity listener.Identity
	likes    *registry.LikeRegistry
	recent   *state.Recent
	history  *state.History
	writer   *writer
}

// NewLibrary creates an empty library for the guest scope.
// st may be nil, in which case nothing is persisted.
func NewLibrary(st store.Store, recentLimit, historyLimit int) *Library {
	return &Library{
		likes:   registry.NewLikeRegistry(),
		recent:  state.NewRecent(recentLimit),
		history: state.NewHistory(historyLimit),
		writer:  newWriter(st),
	}
}

// Identity returns the identity the library is scoped to.
func (l *Library) Identity() listener.Identity {
	return l.identity
}

// Fetch reads the persisted data of identity. Keys that fail to load are
// logged and left empty.
func (l *Library) Fetch(ctx context.Context, identity listener.Identity) *LibraryData {
	data := &LibraryData{}
	if l.writer.store == nil {
		return data
	}

	l.load(ctx, identity.Key(KeyLikedSongs), &data.Likes)
	l.load(ctx, identity.Key(KeyRecentlyPlayed), &data.Recent)
	l.load(ctx, identity.Key(KeyPlayHistory), &data.History)
	return data
}

func (l *Library) load(ctx context.Context, key string, out any) {
	raw, ok := l.writer.unsaved(key)
	if !ok {
		var err error
		raw, ok, err = l.writer.store.Load(ctx, key)
		if err != nil {
			zlog.Warn().Msgf("library: load failed: key=%s error=%v", key, err)
			return
		}
	}
	if !ok {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		zlog.Warn().Msgf("library: corrupt value ignored: key=%s error=%v", key, err)
	}
}

// Apply switches the library to identity and replaces its contents with data.
func (l *Library) Apply(identity listener.Identity, data *LibraryData) {
	l.identity = identity
	if data == nil {
		data = &LibraryData{}
	}
	l.likes.Replace(data.Likes)
	l.recent.Replace(data.Recent)
	l.history.Replace(data.History)
	zlog.Info().Msgf("library: scope switched: scope=%s likes=%d recent=%d history=%d",
		identity.Scope(), l.likes.Count(), l.recent.Len(), len(l.history.Entries()))
}

// PushRecent records t as the most recently played track.
func (l *Library) PushRecent(t track.Track) {
	l.recent.Push(t)
	l.persist(KeyRecentlyPlayed, l.recent.Tracks())
}

// RecordPlay appends t to the play history.
func (l *Library) RecordPlay(t track.Track, at time.Time) {
	l.history.Add(t, at)
	l.persist(KeyPlayHistory, l.history.Entries())
}

// ToggleLike likes or unlikes t and returns whether it is liked afterwards.
func (l *Library) ToggleLike(t track.Track) bool {
	liked := l.likes.Toggle(t)
	l.persist(KeyLikedSongs, l.likes.Tracks())
	return liked
}

// IsLiked reports whether the track is liked. Safe for concurrent use.
func (l *Library) IsLiked(trackID string) bool {
	return l.likes.Contains(trackID)
}

// Recent returns the recently played list.
func (l *Library) Recent() *state.Recent {
	return l.recent
}

// History returns the play history, most recent first.
func (l *Library) History() []state.HistoryEntry {
	return l.history.Entries()
}

// LikedIDs returns the liked track IDs.
func (l *Library) LikedIDs() []string {
	return l.likes.IDs()
}

// Likes returns the liked tracks.
func (l *Library) Likes() []track.Track {
	return l.likes.Tracks()
}

func (l *Library) persist(name string, value any) {
	if l.writer.store == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		zlog.Error().Msgf("library: marshal failed: key=%s error=%v", name, err)
		return
	}
	l.writer.enqueue(l.identity.Key(name), raw)
}

// Run persists queued writes until ctx is done, then flushes what is left.
func (l *Library) Run(ctx context.Context) {
	l.writer.run(ctx)
}

// writer saves the latest value per key on a single goroutine.
// Only the newest pending value of a key is written.
type writer struct {
	store store.Store

	mu       sync.Mutex
	pending  map[string][]byte
	inflight map[string][]byte
	wake     chan struct{}
}

func newWriter(st store.Store) *writer {
	return &writer{
		store:   st,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
	}
}

func (w *writer) enqueue(key string, value []byte) {
	w.mu.Lock()
	w.pending[key] = value
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// unsaved returns a value queued or being written for key.
func (w *writer) unsaved(key string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.pending[key]; ok {
		return v, true
	}
	v, ok := w.inflight[key]
	return v, ok
}

func (w *writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush(ctx)
			return
		case <-w.wake:
			w.flush(ctx)
		}
	}
}

func (w *writer) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string][]byte)
	w.inflight = batch
	w.mu.Unlock()

	for key, value := range batch {
		if err := w.save(ctx, key, value); err != nil {
			zlog.Warn().Msgf("library: save failed, keeping in-memory state: key=%s error=%v", key, err)
		}
	}

	w.mu.Lock()
	w.inflight = nil
	w.mu.Unlock()
}

func (w *writer) save(ctx context.Context, key string, value []byte) error {
	// Saves started before shutdown still complete
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := w.store.Save(ctx, key, value); err != nil {
		return errors.Wrap(err, "save")
	}
	return nil
}
