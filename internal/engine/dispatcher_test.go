package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/designctl/internal/enginetest"
	"github.com/danmuck/designctl/internal/link"
	"github.com/danmuck/designctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestClassifyDecisionTable(t *testing.T) {
	testlog.Start(t)

	payload, err := Classify("SEND_POSE", []string{"REPLY_OK:SEND_POSE", "ATOM", ""})
	if err != nil {
		t.Fatalf("ok reply: %v", err)
	}
	if diff := cmp.Diff([]string{"ATOM", ""}, payload); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}

	if _, err := Classify("SEND_POSE", nil); !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}

	var unknown *UnknownCommandError
	if _, err := Classify("FOO", []string{"KEY_UNRECOGNIZED"}); !errors.As(err, &unknown) || unknown.Key != "FOO" {
		t.Fatalf("expected UnknownCommandError, got %v", err)
	}

	var malformed *MalformedRequestError
	_, err = Classify("STORE_POSE", []string{"MALFORMED:STORE_POSE", "bad pdb"})
	if !errors.As(err, &malformed) || malformed.Detail != "bad pdb" {
		t.Fatalf("expected MalformedRequestError with detail, got %v", err)
	}

	var protocol *ProtocolError
	_, err = Classify("ECHO", []string{"REPLY_OK:SEND_POSE", "x"})
	if !errors.As(err, &protocol) || protocol.Status != "REPLY_OK:SEND_POSE" {
		t.Fatalf("expected ProtocolError for mismatched key, got %v", err)
	}
}

func TestSegmentsConvertsArguments(t *testing.T) {
	testlog.Start(t)
	got, err := Segments("K", "a", []byte("b"), true, 7, int64(-2), uint32(3), 1.5, time.Second)
	if err != nil {
		t.Fatalf("segments: %v", err)
	}
	want := []string{"K", "a", "b", "true", "7", "-2", "3", "1.5", "1s"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("segments mismatch (-want +got):\n%s", diff)
	}

	_, err = Segments("K", struct{}{})
	var te *link.TransportError
	if !errors.As(err, &te) || !errors.Is(err, ErrUnsupportedArgument) {
		t.Fatalf("expected TransportError for non-text argument, got %v", err)
	}
	if _, err := Segments("K", []byte{0xff}); !errors.As(err, &te) {
		t.Fatalf("expected TransportError for binary argument, got %v", err)
	}
}

func TestMissingArgumentWrapsInvalidArgument(t *testing.T) {
	testlog.Start(t)
	err := error(&MissingArgumentError{Command: "send_pose", Arg: "pose_to_store"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected MissingArgumentError to match ErrInvalidArgument")
	}
	if Outcome(err) != "invalid_argument" {
		t.Fatalf("outcome got=%q", Outcome(err))
	}
}

func newDispatcher(t *testing.T, eng *enginetest.Engine, receiveTimeout time.Duration) (*Dispatcher, *link.Link) {
	t.Helper()
	cfg := link.DefaultConfig()
	cfg.Address = eng.Addr()
	cfg.ReceiveTimeout = receiveTimeout
	l := link.New(cfg)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return NewDispatcher(l), l
}

func TestExecuteAgainstEngine(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0",
		enginetest.WithHandler("SILENT", func([]string) ([]string, bool) { return nil, false }),
		enginetest.WithHandler("WEIRD", func([]string) ([]string, bool) { return []string{"HUH"}, true }),
	)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer eng.Close()
	d, _ := newDispatcher(t, eng, 80*time.Millisecond)
	ctx := context.Background()

	payload, err := d.Execute(ctx, "ECHO", "TEST")
	if err != nil || len(payload) != 1 || payload[0] != "TEST" {
		t.Fatalf("echo payload=%v err=%v", payload, err)
	}

	var unknown *UnknownCommandError
	if _, err := d.Execute(ctx, "NOPE"); !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCommandError, got %v", err)
	}

	var malformed *MalformedRequestError
	if _, err := d.Execute(ctx, "SEND_POSE", "missing"); !errors.As(err, &malformed) || malformed.Detail == "" {
		t.Fatalf("expected MalformedRequestError, got %v", err)
	}

	if _, err := d.Execute(ctx, "SILENT"); !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}

	var protocol *ProtocolError
	if _, err := d.Execute(ctx, "WEIRD"); !errors.As(err, &protocol) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}

	if _, err := d.Execute(ctx, "  "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank key, got %v", err)
	}
}

func TestExecuteSerializesConcurrentCallers(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer eng.Close()
	d, _ := newDispatcher(t, eng, time.Second)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("msg-%d", i)
			payload, err := d.Execute(context.Background(), "ECHO", msg)
			if err != nil {
				errs <- err
				return
			}
			if len(payload) != 1 || payload[0] != msg {
				errs <- fmt.Errorf("caller %d got %v", i, payload)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent execute: %v", err)
	}
}

func TestPingReconnects(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer eng.Close()

	cfg := link.DefaultConfig()
	cfg.Address = eng.Addr()
	l := link.New(cfg)
	defer l.Close()
	d := NewDispatcher(l)

	if _, err := d.Execute(context.Background(), "ECHO"); !errors.Is(err, link.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before ping, got %v", err)
	}
	if err := d.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if !l.Connected() {
		t.Fatalf("expected ping to connect the link")
	}
}
