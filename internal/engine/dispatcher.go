// Package engine turns engine replies into results or classified errors.
//
// A Dispatcher owns one link and makes each send+receive pair atomic, so
// callers on different goroutines never see each other's replies.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/danmuck/designctl/internal/link"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/danmuck/designctl/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Conn is the transport a Dispatcher drives. *link.Link satisfies it.
type Conn interface {
	Connect(ctx context.Context) error
	Connected() bool
	Send(segments []string) error
	Receive(ctx context.Context) ([]string, error)
}

type Dispatcher struct {
	mu   sync.Mutex
	conn Conn
}

func NewDispatcher(conn Conn) *Dispatcher {
	return &Dispatcher{conn: conn}
}

// Execute sends key with args and classifies the reply. On success it
// returns the reply payload after the status segment, unmodified.
func (d *Dispatcher) Execute(ctx context.Context, key string, args ...any) ([]string, error) {
	start := time.Now()
	payload, err := d.execute(ctx, key, args)
	outcome := Outcome(err)
	observability.RecordEngineRequest(key, outcome, time.Since(start))
	if err != nil {
		log.Debug().Str("key", key).Str("outcome", outcome).Err(err).Msg("engine.Execute")
		return nil, err
	}
	log.Debug().Str("key", key).Int("payload_segments", len(payload)).Dur("elapsed", time.Since(start)).Msg("engine.Execute")
	return payload, nil
}

func (d *Dispatcher) execute(ctx context.Context, key string, args []any) ([]string, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: empty command key", ErrInvalidArgument)
	}
	segments, err := Segments(key, args...)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.conn.Send(segments); err != nil {
		return nil, err
	}
	reply, err := d.conn.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return Classify(key, reply)
}

// Classify maps a raw reply to the payload or a typed error.
func Classify(key string, reply []string) ([]string, error) {
	if len(reply) == 0 {
		return nil, ErrResponseTimeout
	}
	status := reply[0]
	switch {
	case status == schema.OKStatus(key):
		return reply[1:], nil
	case status == schema.StatusKeyUnrecognized:
		return nil, &UnknownCommandError{Key: key}
	case status == schema.MalformedStatus(key):
		detail := ""
		if len(reply) > 1 {
			detail = reply[1]
		}
		return nil, &MalformedRequestError{Key: key, Detail: detail}
	default:
		return nil, &ProtocolError{Key: key, Status: status}
	}
}

// Ping reconnects if needed and round-trips an ECHO.
func (d *Dispatcher) Ping(ctx context.Context) error {
	if !d.conn.Connected() {
		if err := d.conn.Connect(ctx); err != nil {
			return err
		}
	}
	const probe = "PING"
	payload, err := d.Execute(ctx, "ECHO", probe)
	if err != nil {
		return err
	}
	if len(payload) == 0 || payload[0] != probe {
		return &ProtocolError{Key: "ECHO", Status: strings.Join(payload, " ")}
	}
	return nil
}

// Segments renders key and args as request text segments.
func Segments(key string, args ...any) ([]string, error) {
	out := make([]string, 0, len(args)+1)
	out = append(out, key)
	for i, arg := range args {
		s, ok := segmentText(arg)
		if !ok {
			return nil, &link.TransportError{
				Op:  "encode",
				Err: fmt.Errorf("%w: argument %d is %T", ErrUnsupportedArgument, i, arg),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func segmentText(arg any) (string, bool) {
	switch v := arg.(type) {
	case string:
		return v, true
	case []byte:
		if !utf8.Valid(v) {
			return "", false
		}
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint:
		return strconv.FormatUint(uint64(v), 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), true
	default:
		return "", false
	}
}
