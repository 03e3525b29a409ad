package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/osa030/19stream/internal/app/notification"
	"github.com/osa030/19stream/internal/app/session"
	"github.com/osa030/19stream/internal/app/session/state"
	"github.com/osa030/19stream/internal/domain/listener"
	"github.com/osa030/19stream/internal/domain/playlist"
	"github.com/osa030/19stream/internal/domain/track"
)

// ServiceName is the fully-qualified name of the player service.
const ServiceName = "stream.v1.PlayerService"

// ServicePath is the URL prefix every PlayerService procedure is served under.
const ServicePath = "/" + ServiceName + "/"

// Player is the session surface the service drives.
type Player interface {
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Play(ctx context.Context, t track.Track) error
	PlayByID(ctx context.Context, trackID string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	TogglePlay(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, volume int) error
	ToggleMute(ctx context.Context) error
	VolumeUp(ctx context.Context) error
	VolumeDown(ctx context.Context) error
	ToggleShuffle(ctx context.Context) error
	ToggleRepeat(ctx context.Context) error
	SetContinuousPlayback(ctx context.Context, enabled bool) error
	SetOfflineMode(ctx context.Context, offline bool) error
	EnqueueByID(ctx context.Context, trackIDs ...string) (int, error)
	RemoveAt(ctx context.Context, index int) error
	Move(ctx context.Context, from, to int) error
	ClearQueue(ctx context.Context) error
	AddAlbumToQueue(ctx context.Context, albumID string) (*playlist.Playlist, error)
	AddPlaylistToQueue(ctx context.Context, playlistURL string) (*playlist.Playlist, error)
	ToggleLike(ctx context.Context, trackID string) (bool, error)
	Likes(ctx context.Context) ([]track.Track, error)
	History(ctx context.Context) ([]state.HistoryEntry, error)
	SetIdentity(ctx context.Context, identity listener.Identity) error
}

// Notifier delivers published snapshots to subscribers.
type Notifier interface {
	Subscribe(stream notification.Stream) string
	Unsubscribe(subscriptionID string)
}

// PlayerService implements the PlayerService RPCs.
type PlayerService struct {
	player   Player
	notifier Notifier

	closing   chan struct{}
	closeOnce sync.Once
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(player Player, notifier Notifier) *PlayerService {
	return &PlayerService{
		player:   player,
		notifier: notifier,
		closing:  make(chan struct{}),
	}
}

// Close ends every open Watch stream.
func (s *PlayerService) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Handler builds the HTTP handler serving every procedure under ServicePath.
func (s *PlayerService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	mux := http.NewServeMux()

	unary(mux, "GetState", s.getState, opts)
	unary(mux, "Play", s.play, opts)
	unary(mux, "PlayByID", s.playByID, opts)
	unary(mux, "Pause", ack(s.player.Pause), opts)
	unary(mux, "Resume", ack(s.player.Resume), opts)
	unary(mux, "TogglePlay", ack(s.player.TogglePlay), opts)
	unary(mux, "Next", ack(s.player.Next), opts)
	unary(mux, "Previous", ack(s.player.Previous), opts)
	unary(mux, "Seek", s.seek, opts)
	unary(mux, "SetVolume", s.setVolume, opts)
	unary(mux, "ToggleMute", ack(s.player.ToggleMute), opts)
	unary(mux, "VolumeUp", ack(s.player.VolumeUp), opts)
	unary(mux, "VolumeDown", ack(s.player.VolumeDown), opts)
	unary(mux, "ToggleShuffle", ack(s.player.ToggleShuffle), opts)
	unary(mux, "ToggleRepeat", ack(s.player.ToggleRepeat), opts)
	unary(mux, "SetContinuousPlayback", s.setContinuousPlayback, opts)
	unary(mux, "SetOfflineMode", s.setOfflineMode, opts)
	unary(mux, "Enqueue", s.enqueue, opts)
	unary(mux, "RemoveAt", s.removeAt, opts)
	unary(mux, "Move", s.move, opts)
	unary(mux, "ClearQueue", ack(s.player.ClearQueue), opts)
	unary(mux, "AddAlbum", s.addAlbum, opts)
	unary(mux, "AddPlaylist", s.addPlaylist, opts)
	unary(mux, "ToggleLike", s.toggleLike, opts)
	unary(mux, "GetLikes", s.getLikes, opts)
	unary(mux, "GetHistory", s.getHistory, opts)
	unary(mux, "SetIdentity", s.setIdentity, opts)

	watch := ServicePath + "Watch"
	mux.Handle(watch, connect.NewServerStreamHandler(watch, s.Watch, opts...))

	return ServicePath, mux
}

// unary registers a procedure whose implementation works on plain messages.
func unary[Req, Res any](mux *http.ServeMux, name string, fn func(context.Context, *Req) (*Res, error), opts []connect.HandlerOption) {
	procedure := ServicePath + name
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, toConnectError(err)
			}
			return connect.NewResponse(res), nil
		},
		opts...,
	))
}

// ack adapts a parameterless player call.
func ack(fn func(context.Context) error) func(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return func(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
		if err := fn(ctx); err != nil {
			return nil, err
		}
		return &emptypb.Empty{}, nil
	}
}

func toConnectError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, session.ErrNotRunning):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, session.ErrNoCatalog):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, session.ErrTrackNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func invalidArgument(msg string) error {
	return connect.NewError(connect.CodeInvalidArgument, errors.New(msg))
}

func (s *PlayerService) getState(ctx context.Context, _ *emptypb.Empty) (*session.Snapshot, error) {
	snap, err := s.player.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *PlayerService) play(ctx context.Context, req *PlayRequest) (*emptypb.Empty, error) {
	var err error
	switch {
	case req.Track != nil && req.Track.ID != "":
		err = s.player.Play(ctx, *req.Track)
	case req.TrackID != "":
		err = s.player.PlayByID(ctx, req.TrackID)
	default:
		return nil, invalidArgument("track or track_id is required")
	}
	if err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *PlayerService) playByID(ctx context.Context, req *TrackRequest) (*emptypb.Empty, error) {
	if req.TrackID == "" {
		return nil, invalidArgument("track_id is required")
	}
	if err := s.player.PlayByID(ctx, req.TrackID); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

func (s *PlayerService) seek(ctx context.Context, req *SeekRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, s.player.Seek(ctx, req.Seconds)
}

func (s *PlayerService) setVolume(ctx context.Context, req *VolumeRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, s.player.SetVolume(ctx, req.Volume)
}

func (s *PlayerService) setContinuousPlayback(ctx context.Context, req *ToggleRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, s.player.SetContinuousPlayback(ctx, req.Enabled)
}

func (s *PlayerService) setOfflineMode(ctx context.Context, req *ToggleRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, s.player.SetOfflineMode(ctx, req.Enabled)
}

func (s *PlayerService) enqueue(ctx context.Context, req *EnqueueRequest) (*EnqueueResponse, error) {
	if len(req.TrackIDs) == 0 {
		return nil, invalidArgument("track_ids is required")
	}
	added, err := s.player.EnqueueByID(ctx, req.TrackIDs...)
	if err != nil {
		return nil, err
	}
	return &EnqueueResponse{Added: added}, nil
}

func (s *PlayerService) removeAt(ctx context.Context, req *IndexRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, s.player.RemoveAt(ctx, req.Index)
}

func (s *PlayerService) move(ctx context.Context, req *MoveRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, s.player.Move(ctx, req.From, req.To)
}

func (s *PlayerService) addAlbum(ctx context.Context, req *CollectionRequest) (*CollectionResponse, error) {
	if req.ID == "" {
		return nil, invalidArgument("id is required")
	}
	pl, err := s.player.AddAlbumToQueue(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return collectionResponse(pl), nil
}

func (s *PlayerService) addPlaylist(ctx context.Context, req *CollectionRequest) (*CollectionResponse, error) {
	if req.ID == "" {
		return nil, invalidArgument("id is required")
	}
	pl, err := s.player.AddPlaylistToQueue(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return collectionResponse(pl), nil
}

func (s *PlayerService) toggleLike(ctx context.Context, req *TrackRequest) (*LikeResponse, error) {
	liked, err := s.player.ToggleLike(ctx, req.TrackID)
	if err != nil {
		return nil, err
	}
	return &LikeResponse{TrackID: req.TrackID, Liked: liked}, nil
}

func (s *PlayerService) getLikes(ctx context.Context, _ *emptypb.Empty) (*LikesResponse, error) {
	tracks, err := s.player.Likes(ctx)
	if err != nil {
		return nil, err
	}
	return &LikesResponse{Tracks: tracks}, nil
}

func (s *PlayerService) getHistory(ctx context.Context, _ *emptypb.Empty) (*HistoryResponse, error) {
	entries, err := s.player.History(ctx)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{Entries: entries}, nil
}

func (s *PlayerService) setIdentity(ctx context.Context, req *IdentityRequest) (*emptypb.Empty, error) {
	identity := listener.Identity{UserID: req.UserID, DisplayName: req.DisplayName}
	return &emptypb.Empty{}, s.player.SetIdentity(ctx, identity)
}

// Watch streams the current snapshot followed by every published change.
func (s *PlayerService) Watch(
	ctx context.Context,
	_ *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[notification.Notification],
) error {
	snap, err := s.player.Snapshot(ctx)
	if err != nil {
		return toConnectError(err)
	}
	if err := stream.Send(&notification.Notification{
		Reason:    "initial",
		Timestamp: time.Now(),
		State:     snap,
	}); err != nil {
		return err
	}

	adapter := &notificationStreamAdapter{stream: stream}
	id := s.notifier.Subscribe(adapter)
	defer s.notifier.Unsubscribe(id)
	zlog.Debug().Msgf("connect: watch started: subscription=%s", id)

	select {
	case <-ctx.Done():
	case <-s.closing:
	}
	zlog.Debug().Msgf("connect: watch ended: subscription=%s", id)
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized; a timed-out send may still be running when the next one starts.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(n)
}
