package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/designctl/internal/testutil/testlog"
)

func TestSubmitWhileBusyIsRejected(t *testing.T) {
	testlog.Start(t)
	var p Pool
	release := make(chan struct{})
	var runs atomic.Int32

	if !p.Submit(func() { runs.Add(1); <-release }) {
		t.Fatalf("expected first submit to start")
	}
	if p.Submit(func() { runs.Add(1) }) {
		t.Fatalf("expected submit while busy to be rejected")
	}
	if !p.Busy() {
		t.Fatalf("expected busy pool")
	}
	close(release)
	p.Join()
	if p.Busy() {
		t.Fatalf("expected idle pool after join")
	}
	if !p.Submit(func() { runs.Add(1) }) {
		t.Fatalf("expected submit after join to start")
	}
	p.Join()
	if runs.Load() != 2 {
		t.Fatalf("runs got=%d", runs.Load())
	}
}

func TestJoinIdlePoolReturns(t *testing.T) {
	testlog.Start(t)
	var p Pool
	p.Join()
	if err := p.JoinContext(context.Background()); err != nil {
		t.Fatalf("join idle: %v", err)
	}
}

func TestJoinContextTimesOut(t *testing.T) {
	testlog.Start(t)
	var p Pool
	release := make(chan struct{})
	defer close(release)
	p.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.JoinContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSignalFiresOnce(t *testing.T) {
	testlog.Start(t)
	s := NewSignal()
	if s.Fired() {
		t.Fatalf("fresh signal already fired")
	}
	s.Fire()
	s.Fire()
	select {
	case <-s.C():
	default:
		t.Fatalf("expected closed channel")
	}
	if !s.Fired() {
		t.Fatalf("expected fired")
	}
}
