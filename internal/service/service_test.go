package service

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/designctl/internal/config"
	"github.com/danmuck/designctl/internal/enginetest"
	"github.com/danmuck/designctl/internal/script"
	"github.com/danmuck/designctl/internal/testutil/testlog"
)

func testConfig(engineAddr string) config.Config {
	cfg := config.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Engine.Address = engineAddr
	cfg.Engine.ConnectTimeout = 200 * time.Millisecond
	cfg.Script.PollInterval = 2 * time.Millisecond
	cfg.Script.RetryBudget = 2
	return cfg
}

func TestStartAutorunStreamsIntoStore(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0", enginetest.WithSteps(3))
	if err != nil {
		t.Fatalf("listen engine: %v", err)
	}
	defer eng.Close()

	svc := New(testConfig(eng.Addr()))
	defer svc.Close()
	err = svc.Start(context.Background(), &Autorun{
		Snapshot: enginetest.SamplePDB(0),
		Script:   "<ROSETTASCRIPTS/>",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Script().Wait()

	if got := len(svc.Store().History()); got != 4 {
		t.Fatalf("expected seed plus three steps, got %d", got)
	}
	if st := svc.Script().Status(); st.Result != script.ResultExhausted {
		t.Fatalf("unexpected script status: %+v", st)
	}
	if !svc.Store().Play() {
		t.Fatalf("expected playback available after autorun")
	}
}

func TestStartFailsWhenEngineUnreachable(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen engine: %v", err)
	}
	addr := eng.Addr()
	_ = eng.Close()

	svc := New(testConfig(addr))
	defer svc.Close()
	if err := svc.Start(context.Background(), nil); err == nil {
		t.Fatalf("expected unreachable engine error")
	}
}

func TestRunServesUntilCanceled(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen engine: %v", err)
	}
	defer eng.Close()

	svc := New(testConfig(eng.Addr()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}

func TestOriginChecker(t *testing.T) {
	testlog.Start(t)
	check := originChecker([]string{"http://viewer.local/"})

	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "api.local", true},
		{"http://viewer.local", "api.local", true},
		{"http://api.local", "api.local", true},
		{"http://evil.local", "api.local", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "http://"+tc.host+"/frames", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := check(r); got != tc.want {
			t.Fatalf("origin %q host %q: got %v want %v", tc.origin, tc.host, got, tc.want)
		}
	}
}
