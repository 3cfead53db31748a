package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/designctl/internal/catalog"
	"github.com/danmuck/designctl/internal/engine"
	"github.com/danmuck/designctl/internal/enginetest"
	"github.com/danmuck/designctl/internal/frames"
	"github.com/danmuck/designctl/internal/link"
	"github.com/danmuck/designctl/internal/testutil/testlog"
	"github.com/danmuck/designctl/internal/trajectory"
	"github.com/google/go-cmp/cmp"
)

type poll struct {
	pdb string
	err error
}

// fakeCatalog replays scripted RequestPose results. Once polls run out it
// keeps returning last. A non-nil block holds every poll after the seed
// until it is closed.
type fakeCatalog struct {
	mu        sync.Mutex
	stored    []string
	requested []string
	submitted []string
	seedErr   error
	submitErr error
	polls     []poll
	last      poll
	seeded    bool
	block     chan struct{}
}

func (f *fakeCatalog) StorePose(_ context.Context, name, pdb string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, pdb)
	if name == "" {
		name = "pose7"
	}
	return name, f.seedErr
}

func (f *fakeCatalog) RequestPose(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	f.requested = append(f.requested, name)
	if block := f.block; block != nil && f.seeded {
		f.mu.Unlock()
		<-block
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	if !f.seeded {
		f.seeded = true
		if f.seedErr != nil {
			return "", f.seedErr
		}
		return "seed", nil
	}
	if len(f.polls) == 0 {
		return f.last.pdb, f.last.err
	}
	p := f.polls[0]
	f.polls = f.polls[1:]
	return p.pdb, p.err
}

func (f *fakeCatalog) ParseAndRunXML(_ context.Context, name, xml string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, name)
	return f.submitErr
}

func (f *fakeCatalog) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requested...)
}

func (f *fakeCatalog) submissions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submitted...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type runOutcome struct {
	started bool
	err     error
}

// stoppedRunWithSuccessor stops a run whose stream is held inside a poll and
// starts a second run, returning once the second run owns the controller and
// is waiting for the first stream to drain.
func stoppedRunWithSuccessor(t *testing.T, c *Controller, cat *fakeCatalog) (string, <-chan runOutcome) {
	t.Helper()
	if started, err := c.Run(context.Background(), RunRequest{PoseName: "pose0", Script: "<x/>"}); err != nil || !started {
		t.Fatalf("first run started=%v err=%v", started, err)
	}
	waitFor(t, "first stream poll", func() bool { return len(cat.requests()) >= 2 })
	first := c.Status().RunID
	if !c.Stop() {
		t.Fatalf("expected stop to end the first run")
	}

	done := make(chan runOutcome, 1)
	go func() {
		started, err := c.Run(context.Background(), RunRequest{Snapshot: "seed", PoseName: "pose1", Script: "<x/>"})
		done <- runOutcome{started, err}
	}()
	waitFor(t, "second run to claim the session", func() bool {
		st := c.Status()
		return st.RunID != first && st.State == StateSubmitting
	})
	return first, done
}

func textParser(text string) (frames.Frame, error) {
	return frames.Frame{ParticleCount: 1, Names: []string{text}}, nil
}

func newStore() *trajectory.Store {
	return trajectory.NewStore(trajectory.Config{Capacity: 32, Parser: textParser}, frames.NewRecorder())
}

func notRecognised() error {
	return &engine.MalformedRequestError{Key: "SEND_POSE", Detail: "pose not recognised"}
}

func fastConfig(budget int) Config {
	return Config{PollInterval: time.Millisecond, RetryBudget: budget}
}

func TestRunRequiresSeed(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{}
	c := NewController(fastConfig(1), cat, newStore())

	started, err := c.Run(context.Background(), RunRequest{Script: "<ROSETTASCRIPTS/>"})
	if started || !errors.Is(err, engine.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got started=%v err=%v", started, err)
	}
	var missing *engine.MissingArgumentError
	if _, err := c.Run(context.Background(), RunRequest{PoseName: "pose0"}); !errors.As(err, &missing) {
		t.Fatalf("expected MissingArgumentError for script, got %v", err)
	}
	if len(cat.requests()) != 0 || len(cat.submitted) != 0 {
		t.Fatalf("expected no engine calls")
	}
	if c.Running() {
		t.Fatalf("expected idle controller")
	}
}

func TestRunInlineSnapshotStreamsUntilBudgetExhausted(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{
		seeded: true,
		polls:  []poll{{pdb: "s1"}, {err: notRecognised()}, {pdb: "s2"}},
		last:   poll{err: notRecognised()},
	}
	store := newStore()
	c := NewController(fastConfig(2), cat, store)

	started, err := c.Run(context.Background(), RunRequest{Snapshot: "seed", Script: "<ROSETTASCRIPTS/>"})
	if err != nil || !started {
		t.Fatalf("run started=%v err=%v", started, err)
	}
	c.Wait()

	if c.Running() {
		t.Fatalf("expected session flag cleared")
	}
	if diff := cmp.Diff([]string{"seed", "s1", "s2"}, store.History()); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}
	// s1, miss, s2, then three misses exceed a budget of two.
	if got := len(cat.requests()); got != 6 {
		t.Fatalf("expected 6 polls, got %d", got)
	}
	for _, name := range cat.requests() {
		if name != "pose7" {
			t.Fatalf("expected polling the engine-assigned name, got %q", name)
		}
	}
	st := c.Status()
	if st.Result != ResultExhausted || st.State != StateIdle || st.RunID == "" || st.PoseName != "pose7" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if store.Status().Collecting {
		t.Fatalf("expected store out of live ingestion")
	}
	if !store.Play() {
		t.Fatalf("expected playback to be available after the run")
	}
	store.Halt()
	store.Wait()
}

func TestRunWhileRunningIsNoop(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{last: poll{err: notRecognised()}}
	c := NewController(Config{PollInterval: 5 * time.Millisecond, RetryBudget: Unbounded}, cat, newStore())

	started, err := c.Run(context.Background(), RunRequest{PoseName: "pose0", Script: "<x/>"})
	if err != nil || !started {
		t.Fatalf("first run started=%v err=%v", started, err)
	}
	started, err = c.Run(context.Background(), RunRequest{PoseName: "pose1", Script: "<x/>"})
	if err != nil || started {
		t.Fatalf("second run must be a silent no-op, got started=%v err=%v", started, err)
	}
	if !c.Stop() {
		t.Fatalf("expected stop to end the running session")
	}
	c.Wait()
	if cat.submitted[0] != "pose0" || len(cat.submitted) != 1 {
		t.Fatalf("expected one submission, got %v", cat.submitted)
	}
}

func TestRunSeedFailureCouldNotStart(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{seedErr: notRecognised()}
	c := NewController(fastConfig(3), cat, newStore())

	started, err := c.Run(context.Background(), RunRequest{PoseName: "ghost", Script: "<x/>"})
	var malformed *engine.MalformedRequestError
	if started || !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedRequestError, got started=%v err=%v", started, err)
	}
	if c.Running() {
		t.Fatalf("expected flag cleared after failed start")
	}
	if len(cat.submitted) != 0 {
		t.Fatalf("script must not be submitted after seed failure")
	}
	if st := c.Status(); st.Result != ResultRejected || st.LastError == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestRunSubmitFailureCouldNotStart(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{submitErr: &engine.MalformedRequestError{Key: "PARSE_AND_RUN_XML", Detail: "bad xml"}}
	store := newStore()
	c := NewController(fastConfig(3), cat, store)

	if started, err := c.Run(context.Background(), RunRequest{PoseName: "pose0", Script: "<x/>"}); started || err == nil {
		t.Fatalf("expected failure, got started=%v err=%v", started, err)
	}
	if c.Running() || store.Status().Live {
		t.Fatalf("expected nothing left running")
	}
}

func TestStreamAbortsOnNonRetryableError(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{
		polls: []poll{{pdb: "s1"}},
		last:  poll{err: &engine.UnknownCommandError{Key: "SEND_POSE"}},
	}
	c := NewController(fastConfig(Unbounded), cat, newStore())
	if _, err := c.Run(context.Background(), RunRequest{PoseName: "pose0", Script: "<x/>"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	c.Wait()
	st := c.Status()
	if st.Result != ResultAborted || c.Running() {
		t.Fatalf("expected aborted run, got %+v", st)
	}
	// seed, s1, then the fatal poll.
	if got := len(cat.requests()); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

func TestTimeoutsCountAgainstBudget(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{last: poll{err: engine.ErrResponseTimeout}}
	c := NewController(fastConfig(1), cat, newStore())
	if _, err := c.Run(context.Background(), RunRequest{PoseName: "pose0", Script: "<x/>"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	c.Wait()
	if st := c.Status(); st.Result != ResultExhausted || st.Retries != 2 {
		t.Fatalf("expected exhausted after two timeouts, got %+v", st)
	}
}

func TestStopEndsUnboundedSession(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{last: poll{err: notRecognised()}}
	store := newStore()
	c := NewController(Config{PollInterval: 5 * time.Millisecond, RetryBudget: Unbounded}, cat, store)
	if _, err := c.Run(context.Background(), RunRequest{PoseName: "pose0", Script: "<x/>"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	if c.Running() {
		t.Fatalf("expected flag cleared immediately by stop")
	}
	c.Wait()
	if st := c.Status(); st.Result != ResultStopped {
		t.Fatalf("expected stopped result, got %+v", st)
	}
	if store.Status().Collecting {
		t.Fatalf("expected store live flags cleared")
	}
	if c.Stop() {
		t.Fatalf("stop on idle controller must report false")
	}

	started, err := c.Run(context.Background(), RunRequest{Snapshot: "seed", PoseName: "pose0", Script: "<x/>"})
	if err != nil || !started {
		t.Fatalf("expected a new run after stop, got started=%v err=%v", started, err)
	}
	c.Stop()
	c.Wait()
}

func TestSessionAgainstEngine(t *testing.T) {
	testlog.Start(t)
	eng, err := enginetest.Listen("127.0.0.1:0", enginetest.WithSteps(3))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer eng.Close()

	cfg := link.DefaultConfig()
	cfg.Address = eng.Addr()
	l := link.New(cfg)
	if err := l.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer l.Close()

	rec := frames.NewRecorder()
	store := trajectory.NewStore(trajectory.Config{Capacity: 16}, rec)
	cat := catalog.New(engine.NewDispatcher(l))
	c := NewController(Config{PollInterval: 2 * time.Millisecond, RetryBudget: 2}, cat, store)

	started, err := c.Run(context.Background(), RunRequest{
		Snapshot: enginetest.SamplePDB(0),
		Script:   "<ROSETTASCRIPTS><PROTOCOLS/></ROSETTASCRIPTS>",
	})
	if err != nil || !started {
		t.Fatalf("run started=%v err=%v", started, err)
	}
	c.Wait()

	hist := store.History()
	if len(hist) != 4 {
		t.Fatalf("expected seed plus three steps, got %d snapshots", len(hist))
	}
	if hist[3] != enginetest.SamplePDB(3) {
		t.Fatalf("expected final step last in history")
	}
	if _, ok := eng.Pose("pose0_final"); !ok {
		t.Fatalf("expected engine to retire the run under pose0_final")
	}
	if rec.Len() == 0 {
		t.Fatalf("expected live frames published during the run")
	}
	if st := c.Status(); st.Result != ResultExhausted || st.Ingested != 4 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestStopDuringSubmittingRejectsRun(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{last: poll{pdb: "x"}, block: make(chan struct{})}
	c := NewController(fastConfig(Unbounded), cat, newStore())

	_, done := stoppedRunWithSuccessor(t, c, cat)
	second := c.Status().RunID
	if !c.Stop() {
		t.Fatalf("expected stop to reach the submitting run")
	}
	close(cat.block)

	out := <-done
	if out.started || !errors.Is(out.err, errStoppedBeforeStart) {
		t.Fatalf("expected stopped before start, got started=%v err=%v", out.started, out.err)
	}
	c.Wait()
	if got := cat.submissions(); len(got) != 1 {
		t.Fatalf("expected only the first script submitted, got %v", got)
	}
	if c.Running() {
		t.Fatalf("expected session flag cleared")
	}
	if st := c.Status(); st.RunID != second || st.Result != ResultRejected || st.State != StateIdle {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestStaleStreamLeavesNewerRunRunning(t *testing.T) {
	testlog.Start(t)
	cat := &fakeCatalog{last: poll{pdb: "x"}, block: make(chan struct{})}
	store := newStore()
	c := NewController(fastConfig(Unbounded), cat, store)

	_, done := stoppedRunWithSuccessor(t, c, cat)
	second := c.Status().RunID
	close(cat.block)

	out := <-done
	if out.err != nil || !out.started {
		t.Fatalf("second run started=%v err=%v", out.started, out.err)
	}
	waitFor(t, "second stream poll", func() bool { return c.Status().Iterations > 0 })
	if !c.Running() {
		t.Fatalf("first stream must not release the second run's flag")
	}
	st := c.Status()
	if st.RunID != second || st.State != StateStreaming || st.Result != "" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if !store.Status().Live {
		t.Fatalf("expected the second run to keep live collection on")
	}
	if !c.Stop() {
		t.Fatalf("expected stop to end the second run")
	}
	c.Wait()
	if st := c.Status(); st.RunID != second || st.Result != ResultStopped {
		t.Fatalf("unexpected final status: %+v", st)
	}
}
