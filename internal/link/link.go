package link

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/danmuck/designctl/internal/protocol/frame"
	"github.com/danmuck/designctl/internal/protocol/schema"
	"github.com/danmuck/designctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

type inbound struct {
	frame frame.Frame
	err   error
}

// conn is one dialed stream plus the reader goroutine that drains it.
// Frames are read whole on the reader goroutine so a receive timeout never
// leaves the stream mid-frame.
type conn struct {
	net   net.Conn
	inbox chan inbound
	done  chan struct{}
	once  sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.net.Close()
	})
}

// Link is a request/reply channel to the engine.
type Link struct {
	cfg Config
	rng *rand.Rand

	mu      sync.Mutex
	active  *conn
	closed  bool
	nextID  uint64
	pending uint64
	waiting bool
}

func New(cfg Config) *Link {
	return &Link{
		cfg: cfg.WithDefaults(),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Link) Addr() string {
	return l.cfg.Address
}

// Identity is the label this link logs under.
func (l *Link) Identity() string {
	return l.cfg.Identity + "|" + l.cfg.Address
}

func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil
}

// Connect dials the engine. It is a no-op when already connected and fails
// with ErrClosed after Close.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return transportErr("connect", ErrClosed)
	}
	if l.active != nil {
		return nil
	}

	var attempt int
	for {
		attempt++
		nc, err := l.dial(ctx)
		if err == nil {
			l.active = l.attach(nc)
			l.waiting = false
			log.Info().Str("link", l.Identity()).Int("attempt", attempt).Msg("link.Connect connected")
			return nil
		}
		log.Warn().Str("link", l.Identity()).Int("attempt", attempt).Err(err).Msg("link.Connect dial failed")
		if !l.shouldRetry(attempt) {
			return transportErr("connect", err)
		}
		if err := l.sleepBackoff(ctx, attempt); err != nil {
			return transportErr("connect", err)
		}
	}
}

func (l *Link) dial(ctx context.Context) (net.Conn, error) {
	if err := l.cfg.ValidateTransport(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: l.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !l.cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := l.cfg.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	tc := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, l.cfg.HandshakeTimeout)
	defer cancel()
	if err := tc.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return tc, nil
}

func (l *Link) shouldRetry(attempt int) bool {
	return attempt < l.cfg.MaxConnectAttempts
}

func (l *Link) sleepBackoff(ctx context.Context, attempt int) error {
	delay := l.cfg.Backoff.Delay(attempt, l.rng)
	log.Debug().Str("link", l.Identity()).Int("attempt", attempt).Dur("delay", delay).Msg("link.Connect redial scheduled")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Link) attach(nc net.Conn) *conn {
	c := &conn{
		net:   nc,
		inbox: make(chan inbound, 4),
		done:  make(chan struct{}),
	}
	go l.readLoop(c)
	return c
}

func (l *Link) readLoop(c *conn) {
	reader := bufio.NewReader(c.net)
	for {
		fr, err := frame.ReadFrame(reader, l.cfg.Limits)
		select {
		case c.inbox <- inbound{frame: fr, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// drop forgets c if it is still the active connection.
func (l *Link) drop(c *conn) {
	l.mu.Lock()
	if l.active == c {
		l.active = nil
		l.waiting = false
	}
	l.mu.Unlock()
	c.close()
}

// Send writes segments as one multi-part request.
func (l *Link) Send(segments []string) error {
	if len(segments) == 0 {
		return transportErr("send", ErrEmptyRequest)
	}
	for _, s := range segments {
		if !utf8.ValidString(s) {
			return transportErr("send", ErrSegmentNotText)
		}
	}
	fields := tlv.SegmentFields(segments)
	if err := schema.Validate(schema.MsgRequest, fields); err != nil {
		return transportErr("send", err)
	}

	l.mu.Lock()
	c := l.active
	if c == nil {
		l.mu.Unlock()
		return transportErr("send", ErrNotConnected)
	}
	l.nextID++
	id := l.nextID
	l.mu.Unlock()

	fr := frame.Frame{
		Header: frame.Header{
			MessageID:   id,
			MessageType: schema.MsgRequest,
		},
		Payload: tlv.EncodeFields(fields),
	}
	_ = c.net.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
	if err := frame.WriteFrame(c.net, fr, l.cfg.Limits); err != nil {
		log.Warn().Str("link", l.Identity()).Uint64("message_id", id).Err(err).Msg("link.Send write failed")
		l.drop(c)
		return transportErr("send", err)
	}

	l.mu.Lock()
	l.pending = id
	l.waiting = true
	l.mu.Unlock()
	log.Debug().Str("link", l.Identity()).Uint64("message_id", id).Str("key", segments[0]).Msg("link.Send")
	return nil
}

// Receive waits for the reply to the last Send. It returns nil, nil when
// no reply arrives within the receive timeout. Replies to earlier requests
// that timed out are discarded.
func (l *Link) Receive(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	c := l.active
	id := l.pending
	waiting := l.waiting
	l.mu.Unlock()
	if c == nil {
		return nil, transportErr("receive", ErrNotConnected)
	}
	if !waiting {
		return nil, transportErr("receive", ErrNoPendingRequest)
	}

	timer := time.NewTimer(l.cfg.ReceiveTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.finish(id)
			return nil, ctx.Err()
		case <-timer.C:
			l.finish(id)
			log.Warn().Str("link", l.Identity()).Uint64("message_id", id).Msg("link.Receive timed out")
			return nil, nil
		case <-c.done:
			return nil, transportErr("receive", ErrNotConnected)
		case in := <-c.inbox:
			if in.err != nil {
				l.drop(c)
				if errors.Is(in.err, net.ErrClosed) {
					return nil, transportErr("receive", ErrNotConnected)
				}
				return nil, transportErr("receive", errors.Join(ErrConnectionLost, in.err))
			}
			h := in.frame.Header
			if !h.IsResponse() || h.MessageType != schema.MsgReply {
				l.drop(c)
				return nil, transportErr("receive", ErrUnexpectedMessage)
			}
			if h.MessageID < id {
				log.Debug().Uint64("message_id", h.MessageID).Uint64("pending", id).Msg("link.Receive discarded stale reply")
				continue
			}
			if h.MessageID > id {
				l.drop(c)
				return nil, transportErr("receive", ErrReplyIDMismatch)
			}
			segments, err := decodeReply(in.frame.Payload)
			l.finish(id)
			if err != nil {
				return nil, transportErr("receive", err)
			}
			return segments, nil
		}
	}
}

func (l *Link) finish(id uint64) {
	l.mu.Lock()
	if l.pending == id {
		l.waiting = false
	}
	l.mu.Unlock()
}

func decodeReply(payload []byte) ([]string, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(schema.MsgReply, fields); err != nil {
		return nil, err
	}
	return tlv.Segments(fields)
}

// Close releases the channel. Later operations fail with ErrNotConnected.
func (l *Link) Close() error {
	l.mu.Lock()
	c := l.active
	l.active = nil
	l.closed = true
	l.waiting = false
	l.mu.Unlock()
	if c != nil {
		c.close()
		log.Info().Str("link", l.Identity()).Msg("link.Close")
	}
	return nil
}
