package frames

import (
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/designctl/internal/observability"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type BroadcasterOptions struct {
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// Broadcaster is a Sink that forwards frames to websocket viewers as
// binary CBOR messages. Each viewer holds at most one pending frame; a
// newer frame replaces one the viewer has not taken yet.
type Broadcaster struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	mu      sync.Mutex
	viewers map[*viewer]struct{}
	last    []byte
	closed  bool
}

type viewer struct {
	conn *websocket.Conn
	slot chan []byte
	done chan struct{}
	once sync.Once
}

func (v *viewer) stop() {
	v.once.Do(func() {
		close(v.done)
		_ = v.conn.Close()
	})
}

func (v *viewer) offer(data []byte) {
	select {
	case v.slot <- data:
		return
	default:
	}
	select {
	case <-v.slot:
		observability.RecordViewerDrop()
	default:
	}
	select {
	case v.slot <- data:
	default:
	}
}

func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		writeTimeout: opts.WriteTimeout,
		viewers:      make(map[*viewer]struct{}),
	}
}

func (b *Broadcaster) Publish(seq int, f Frame) {
	data, err := Encode(seq, f)
	if err != nil {
		log.Error().Err(err).Int("seq", seq).Msg("frames.Broadcaster encode failed")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = data
	for v := range b.viewers {
		v.offer(data)
	}
}

func (b *Broadcaster) Viewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.viewers)
}

// ServeHTTP upgrades the request and streams frames until the viewer leaves.
// A new viewer is sent the most recent frame first.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("frames.Broadcaster upgrade failed")
		return
	}
	v := &viewer{
		conn: conn,
		slot: make(chan []byte, 1),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		v.stop()
		return
	}
	b.viewers[v] = struct{}{}
	if b.last != nil {
		v.offer(b.last)
	}
	b.mu.Unlock()
	observability.AddViewers(1)
	log.Info().Str("remote", r.RemoteAddr).Msg("frames.Broadcaster viewer joined")

	go b.writeLoop(v)
	b.readLoop(v)

	b.mu.Lock()
	delete(b.viewers, v)
	b.mu.Unlock()
	v.stop()
	observability.AddViewers(-1)
	log.Info().Str("remote", r.RemoteAddr).Msg("frames.Broadcaster viewer left")
}

// readLoop discards inbound messages and returns when the peer goes away.
func (b *Broadcaster) readLoop(v *viewer) {
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writeLoop(v *viewer) {
	for {
		select {
		case <-v.done:
			return
		case data := <-v.slot:
			_ = v.conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debug().Err(err).Msg("frames.Broadcaster write failed")
				v.stop()
				return
			}
		}
	}
}

// Close disconnects every viewer; later publishes are dropped.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	viewers := make([]*viewer, 0, len(b.viewers))
	for v := range b.viewers {
		viewers = append(viewers, v)
	}
	b.mu.Unlock()
	for _, v := range viewers {
		v.stop()
	}
}
