// Package widget bridges the browser-hosted embed player and state observers over websockets.
package widget

import (
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19stream/internal/app/playback"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ErrNotConnected is returned for commands issued while no player page is attached.
var ErrNotConnected = errors.New("widget: no player connected")

// Command names sent to the player page.
const (
	CommandCue    = "cue"
	CommandPlay   = "play"
	CommandPause  = "pause"
	CommandSeek   = "seek"
	CommandVolume = "volume"
)

// Message types received from the player page.
const (
	MessageReady = "ready"
	MessageState = "state"
	MessageError = "error"
	MessageTime  = "time"
)

// Command is a player instruction written to the page.
type Command struct {
	Command string  `json:"command"`
	VideoID string  `json:"videoId,omitempty"`
	Seconds float64 `json:"seconds,omitempty"`
	Volume  *int    `json:"volume,omitempty"`
}

// Message is a callback reported by the page.
type Message struct {
	Type        string  `json:"type"`
	State       int     `json:"state,omitempty"`
	VideoID     string  `json:"videoId,omitempty"`
	Code        int     `json:"code,omitempty"`
	CurrentTime float64 `json:"currentTime,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
}

// Bridge implements playback.Widget on top of a single player page connection.
// A newer connection replaces the older one.
type Bridge struct {
	upgrader websocket.Upgrader

	mu          sync.Mutex
	handler     playback.WidgetHandler
	conn        *peer
	currentTime float64
	duration    float64
	closed      bool
}

// peer is one websocket connection. Writes are serialized by mu.
type peer struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peer) write(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return errors.Wrap(p.ws.WriteJSON(v), "write json")
}

func (p *peer) ping() error {
	return p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// NewBridge creates a Bridge accepting player pages from allowedOrigins.
// An empty list accepts every origin.
func NewBridge(allowedOrigins []string) *Bridge {
	return &Bridge{upgrader: newUpgrader(allowedOrigins)}
}

// Init implements playback.Widget.
func (b *Bridge) Init(h playback.WidgetHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Connected reports whether a player page is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// CueVideoByID implements playback.Widget.
func (b *Bridge) CueVideoByID(videoID string) error {
	b.mu.Lock()
	b.currentTime, b.duration = 0, 0
	b.mu.Unlock()
	return b.send(Command{Command: CommandCue, VideoID: videoID})
}

// PlayVideo implements playback.Widget.
func (b *Bridge) PlayVideo() error {
	return b.send(Command{Command: CommandPlay})
}

// PauseVideo implements playback.Widget.
func (b *Bridge) PauseVideo() error {
	return b.send(Command{Command: CommandPause})
}

// SeekTo implements playback.Widget.
func (b *Bridge) SeekTo(seconds float64) error {
	return b.send(Command{Command: CommandSeek, Seconds: seconds})
}

// SetVolume implements playback.Widget.
func (b *Bridge) SetVolume(volume int) error {
	return b.send(Command{Command: CommandVolume, Volume: &volume})
}

// CurrentTime returns the last playhead position reported by the page.
func (b *Bridge) CurrentTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentTime
}

// Duration returns the last video duration reported by the page.
func (b *Bridge) Duration() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.duration
}

// Close drops the current connection and refuses new ones.
func (b *Bridge) Close() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.closed = true
	b.mu.Unlock()

	if conn != nil {
		_ = conn.ws.Close()
	}
}

func (b *Bridge) send(cmd Command) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.write(cmd); err != nil {
		return errors.Wrapf(err, "widget: send %s", cmd.Command)
	}
	return nil
}

// ServeHTTP upgrades a player page connection and serves it until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("widget: upgrade failed: remote=%s error=%v", r.RemoteAddr, err)
		return
	}

	conn := &peer{id: uuid.New().String(), ws: ws}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ws.Close()
		return
	}
	old := b.conn
	b.conn = conn
	b.currentTime, b.duration = 0, 0
	b.mu.Unlock()

	if old != nil {
		zlog.Info().Msgf("widget: replacing player connection: old=%s new=%s", old.id, conn.id)
		_ = old.ws.Close()
	}
	zlog.Info().Msgf("widget: player connected: id=%s remote=%s", conn.id, r.RemoteAddr)

	stop := make(chan struct{})
	go b.keepAlive(conn, stop)
	b.readLoop(conn)
	close(stop)
}

func (b *Bridge) keepAlive(conn *peer, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) readLoop(conn *peer) {
	defer b.disconnect(conn)

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Debug().Msgf("widget: read failed: id=%s error=%v", conn.id, err)
			}
			return
		}
		b.dispatch(conn, msg)
	}
}

func (b *Bridge) dispatch(conn *peer, msg Message) {
	b.mu.Lock()
	if b.conn != conn {
		b.mu.Unlock()
		return
	}
	h := b.handler
	if msg.Type == MessageTime {
		b.currentTime = msg.CurrentTime
		if msg.Duration > 0 {
			b.duration = msg.Duration
		}
	}
	b.mu.Unlock()

	if h == nil {
		return
	}

	switch msg.Type {
	case MessageReady:
		h.OnReady()
	case MessageState:
		h.OnStateChange(playback.WidgetState(msg.State), msg.VideoID)
	case MessageError:
		h.OnError(msg.Code)
	case MessageTime:
	default:
		zlog.Debug().Msgf("widget: unknown message: id=%s type=%s", conn.id, msg.Type)
	}
}

// disconnect reports the loss of the current connection. A replaced connection is not reported.
func (b *Bridge) disconnect(conn *peer) {
	_ = conn.ws.Close()

	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn = nil
	}
	h := b.handler
	b.mu.Unlock()

	if !current {
		return
	}
	zlog.Info().Msgf("widget: player disconnected: id=%s", conn.id)
	if h != nil {
		h.OnError(playback.WidgetErrDisconnected)
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}
