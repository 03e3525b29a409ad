package connect

import (
	"context"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/osa030/19stream/internal/app/session"
	"github.com/osa030/19stream/internal/domain/track"
)

// WatchEvent is a notification received by Watch with its snapshot decoded.
type WatchEvent struct {
	SequenceNo uint64           `json:"sequence_no"`
	Reason     string           `json:"reason"`
	Timestamp  time.Time        `json:"timestamp"`
	State      session.Snapshot `json:"state"`
}

// Client calls PlayerService procedures.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	token      string
	opts       []connect.ClientOption
}

// NewClient creates a Client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		opts:       append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *Client, name string, msg *Req) (*Res, error) {
	client := connect.NewClient[Req, Res](c.httpClient, c.baseURL+ServicePath+name, c.opts...)
	req := connect.NewRequest(msg)
	if c.token != "" {
		req.Header().Set(ControlTokenHeader, c.token)
	}
	res, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Call invokes a parameterless procedure such as Pause or Next.
func (c *Client) Call(ctx context.Context, name string) error {
	_, err := call[emptypb.Empty, emptypb.Empty](ctx, c, name, &emptypb.Empty{})
	return err
}

// GetState returns the current snapshot.
func (c *Client) GetState(ctx context.Context) (*session.Snapshot, error) {
	return call[emptypb.Empty, session.Snapshot](ctx, c, "GetState", &emptypb.Empty{})
}

// Play plays a fully described track without a catalog lookup.
func (c *Client) Play(ctx context.Context, t track.Track) error {
	_, err := call[PlayRequest, emptypb.Empty](ctx, c, "Play", &PlayRequest{Track: &t})
	return err
}

// PlayByID plays a catalog track.
func (c *Client) PlayByID(ctx context.Context, trackID string) error {
	_, err := call[TrackRequest, emptypb.Empty](ctx, c, "PlayByID", &TrackRequest{TrackID: trackID})
	return err
}

// Seek moves the playhead.
func (c *Client) Seek(ctx context.Context, seconds float64) error {
	_, err := call[SeekRequest, emptypb.Empty](ctx, c, "Seek", &SeekRequest{Seconds: seconds})
	return err
}

// SetVolume sets the volume.
func (c *Client) SetVolume(ctx context.Context, volume int) error {
	_, err := call[VolumeRequest, emptypb.Empty](ctx, c, "SetVolume", &VolumeRequest{Volume: volume})
	return err
}

// SetContinuousPlayback enables or disables continuous playback.
func (c *Client) SetContinuousPlayback(ctx context.Context, enabled bool) error {
	_, err := call[ToggleRequest, emptypb.Empty](ctx, c, "SetContinuousPlayback", &ToggleRequest{Enabled: enabled})
	return err
}

// SetOfflineMode enables or disables offline mode.
func (c *Client) SetOfflineMode(ctx context.Context, offline bool) error {
	_, err := call[ToggleRequest, emptypb.Empty](ctx, c, "SetOfflineMode", &ToggleRequest{Enabled: offline})
	return err
}

// Enqueue appends tracks by ID.
func (c *Client) Enqueue(ctx context.Context, trackIDs ...string) (int, error) {
	res, err := call[EnqueueRequest, EnqueueResponse](ctx, c, "Enqueue", &EnqueueRequest{TrackIDs: trackIDs})
	if err != nil {
		return 0, err
	}
	return res.Added, nil
}

// RemoveAt removes a queued track.
func (c *Client) RemoveAt(ctx context.Context, index int) error {
	_, err := call[IndexRequest, emptypb.Empty](ctx, c, "RemoveAt", &IndexRequest{Index: index})
	return err
}

// Move moves a queued track.
func (c *Client) Move(ctx context.Context, from, to int) error {
	_, err := call[MoveRequest, emptypb.Empty](ctx, c, "Move", &MoveRequest{From: from, To: to})
	return err
}

// AddAlbum enqueues an album.
func (c *Client) AddAlbum(ctx context.Context, albumID string) (*CollectionResponse, error) {
	return call[CollectionRequest, CollectionResponse](ctx, c, "AddAlbum", &CollectionRequest{ID: albumID})
}

// AddPlaylist enqueues a playlist.
func (c *Client) AddPlaylist(ctx context.Context, playlistURL string) (*CollectionResponse, error) {
	return call[CollectionRequest, CollectionResponse](ctx, c, "AddPlaylist", &CollectionRequest{ID: playlistURL})
}

// ToggleLike likes or unlikes a track. An empty ID means the current track.
func (c *Client) ToggleLike(ctx context.Context, trackID string) (bool, error) {
	res, err := call[TrackRequest, LikeResponse](ctx, c, "ToggleLike", &TrackRequest{TrackID: trackID})
	if err != nil {
		return false, err
	}
	return res.Liked, nil
}

// GetLikes lists liked tracks.
func (c *Client) GetLikes(ctx context.Context) (*LikesResponse, error) {
	return call[emptypb.Empty, LikesResponse](ctx, c, "GetLikes", &emptypb.Empty{})
}

// GetHistory lists started plays.
func (c *Client) GetHistory(ctx context.Context) (*HistoryResponse, error) {
	return call[emptypb.Empty, HistoryResponse](ctx, c, "GetHistory", &emptypb.Empty{})
}

// SetIdentity switches the persistence scope.
func (c *Client) SetIdentity(ctx context.Context, userID, displayName string) error {
	_, err := call[IdentityRequest, emptypb.Empty](ctx, c, "SetIdentity", &IdentityRequest{UserID: userID, DisplayName: displayName})
	return err
}

// Watch streams notifications to fn until ctx is done, the stream ends, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(*WatchEvent) error) error {
	client := connect.NewClient[emptypb.Empty, WatchEvent](c.httpClient, c.baseURL+ServicePath+"Watch", c.opts...)
	req := connect.NewRequest(&emptypb.Empty{})
	if c.token != "" {
		req.Header().Set(ControlTokenHeader, c.token)
	}
	stream, err := client.CallServerStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	return stream.Err()
}
