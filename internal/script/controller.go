// Package script runs one engine script session at a time: seed the
// trajectory store, submit the script, then poll the engine for the
// evolving pose and feed it into the store until the run ends.
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/designctl/internal/engine"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/danmuck/designctl/internal/workpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultRetryBudget  = 50
	// Unbounded disables the retry budget.
	Unbounded = -1
)

var errStoppedBeforeStart = errors.New("script: stopped before streaming began")

type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateStreaming  State = "streaming"
)

// Run results, used as the metrics label and in Status.
const (
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
	ResultStopped   = "stopped"
	ResultExhausted = "exhausted"
	ResultAborted   = "aborted"
)

type Config struct {
	PollInterval time.Duration
	// RetryBudget is how many consecutive retryable poll failures are
	// tolerated; Unbounded never gives up.
	RetryBudget int
	// StorePoseName is the name inline snapshots are stored under when
	// the request names none; empty lets the engine choose.
	StorePoseName string
}

func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		RetryBudget:  DefaultRetryBudget,
	}
}

// Catalog is the slice of the command catalog a session uses.
type Catalog interface {
	StorePose(ctx context.Context, name, pdb string) (string, error)
	RequestPose(ctx context.Context, name string) (string, error)
	ParseAndRunXML(ctx context.Context, name, xml string) error
}

// Store is the slice of the trajectory store a session drives.
type Store interface {
	Clear()
	Ingest(snapshot string) bool
	StartLive() bool
	StopLive()
	CancelLive()
}

// RunRequest seeds a run from an inline snapshot or from a pose already
// stored on the engine.
type RunRequest struct {
	Snapshot string `json:"snapshot"`
	PoseName string `json:"pose_name"`
	Script   string `json:"script"`
}

type Status struct {
	RunID      string    `json:"run_id,omitempty"`
	PoseName   string    `json:"pose_name,omitempty"`
	State      State     `json:"state"`
	Running    bool      `json:"running"`
	Iterations int       `json:"iterations"`
	Retries    int       `json:"retries"`
	Ingested   int       `json:"ingested"`
	Result     string    `json:"result,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type Controller struct {
	cat   Catalog
	store Store
	cfg   Config
	pool  workpool.Pool
	// runMu keeps the submitting phases of two runs from overlapping.
	runMu sync.Mutex

	running atomic.Bool

	mu     sync.Mutex
	status Status
	stop   *workpool.Signal
}

func NewController(cfg Config, cat Catalog, store Store) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RetryBudget < Unbounded {
		cfg.RetryBudget = Unbounded
	}
	return &Controller{
		cat:    cat,
		store:  store,
		cfg:    cfg,
		status: Status{State: StateIdle},
	}
}

// Run starts a session. It reports started=false with a nil error when a
// session is already in progress. A non-nil error means the run could not
// start; nothing is left running.
func (c *Controller) Run(ctx context.Context, req RunRequest) (bool, error) {
	if req.Snapshot == "" && strings.TrimSpace(req.PoseName) == "" {
		return false, fmt.Errorf("%w: run needs a snapshot or a pose name", engine.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Script) == "" {
		return false, &engine.MissingArgumentError{Command: "script.run", Arg: "script"}
	}
	stop, runID, ok := c.claim(req.PoseName)
	if !ok {
		log.Info().Msg("script.Run ignored: session already in progress")
		return false, nil
	}
	logger := log.With().Str("run_id", runID).Logger()

	c.runMu.Lock()
	defer c.runMu.Unlock()
	// A stopped session may still be finishing its last poll.
	c.pool.Join()

	var (
		name = req.PoseName
		err  error
	)
	if stop.Fired() {
		err = errStoppedBeforeStart
	} else {
		c.store.Clear()
		var seed string
		seed, name, err = c.seed(ctx, req)
		if err == nil {
			c.store.Ingest(seed)
			c.update(stop, func(st *Status) {
				st.PoseName = name
				st.Ingested = 1
			})
			err = c.cat.ParseAndRunXML(ctx, name, req.Script)
		}
		if err == nil && stop.Fired() {
			err = errStoppedBeforeStart
		}
	}
	if err != nil {
		if errors.Is(err, errStoppedBeforeStart) {
			c.store.StopLive()
		}
		c.finish(stop, ResultRejected, err)
		logger.Warn().Err(err).Str("pose", name).Msg("script.Run could not start")
		return false, fmt.Errorf("script: could not start: %w", err)
	}

	c.store.StartLive()
	c.update(stop, func(st *Status) { st.State = StateStreaming })
	c.pool.Submit(func() { c.stream(runID, name, stop) })
	observability.RecordScriptRun("started")
	logger.Info().Str("pose", name).Msg("script.Run streaming")
	return true, nil
}

// claim takes the session flag and publishes the run's stop signal and
// status in one step, so Stop always targets the run holding the flag.
func (c *Controller) claim(poseName string) (*workpool.Signal, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil, "", false
	}
	stop := workpool.NewSignal()
	runID := uuid.NewString()
	c.running.Store(true)
	c.stop = stop
	c.status = Status{
		RunID:     runID,
		PoseName:  poseName,
		State:     StateSubmitting,
		Running:   true,
		StartedAt: time.Now(),
	}
	return stop, runID, true
}

func (c *Controller) seed(ctx context.Context, req RunRequest) (string, string, error) {
	if req.Snapshot != "" {
		name := req.PoseName
		if strings.TrimSpace(name) == "" {
			name = c.cfg.StorePoseName
		}
		stored, err := c.cat.StorePose(ctx, name, req.Snapshot)
		return req.Snapshot, stored, err
	}
	pdb, err := c.cat.RequestPose(ctx, req.PoseName)
	return pdb, req.PoseName, err
}

func (c *Controller) stream(runID, name string, stop *workpool.Signal) {
	logger := log.With().Str("run_id", runID).Str("pose", name).Logger()
	retries := 0
	result := ResultStopped
	var lastErr error

loop:
	for {
		if stop.Fired() {
			break
		}
		pdb, err := c.cat.RequestPose(context.Background(), name)
		switch {
		case err == nil:
			retries = 0
			ingested := c.store.Ingest(pdb)
			observability.RecordScriptPoll("ok")
			c.update(stop, func(st *Status) {
				st.Iterations++
				st.Retries = 0
				if ingested {
					st.Ingested++
				}
			})
		case retryable(err):
			retries++
			observability.RecordScriptPoll("retry")
			c.update(stop, func(st *Status) {
				st.Iterations++
				st.Retries = retries
				st.LastError = err.Error()
			})
			if c.cfg.RetryBudget != Unbounded && retries > c.cfg.RetryBudget {
				result = ResultExhausted
				lastErr = err
				break loop
			}
		default:
			observability.RecordScriptPoll("error")
			c.update(stop, func(st *Status) { st.Iterations++ })
			result = ResultAborted
			lastErr = err
			break loop
		}

		timer := time.NewTimer(c.cfg.PollInterval)
		select {
		case <-stop.C():
			timer.Stop()
			break loop
		case <-timer.C:
		}
	}

	c.finish(stop, result, lastErr)
	c.store.StopLive()
	logger.Info().Str("result", result).Err(lastErr).Msg("script stream finished")
}

// finish records the end of a run and releases the session flag. A run
// that a newer run has already replaced leaves both untouched.
func (c *Controller) finish(stop *workpool.Signal, result string, err error) {
	observability.RecordScriptRun(result)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != stop {
		return
	}
	c.running.Store(false)
	c.status.State = StateIdle
	c.status.Running = false
	c.status.Result = result
	c.status.FinishedAt = time.Now()
	if err != nil {
		c.status.LastError = err.Error()
	}
}

func retryable(err error) bool {
	var malformed *engine.MalformedRequestError
	return errors.As(err, &malformed) || errors.Is(err, engine.ErrResponseTimeout)
}

// Stop ends the session after any in-flight poll and turns off live
// collection. It does not wait; see Wait.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() || c.stop == nil {
		return false
	}
	c.stop.Fire()
	c.running.Store(false)
	c.store.CancelLive()
	log.Info().Str("run_id", c.status.RunID).Msg("script.Stop")
	return true
}

func (c *Controller) Running() bool {
	return c.running.Load()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Running = c.running.Load() && st.State != StateIdle
	return st
}

// Wait blocks until the streaming task, if any, has exited.
func (c *Controller) Wait() {
	c.pool.Join()
}

// update applies fn to the status of the run owning stop.
func (c *Controller) update(stop *workpool.Signal, fn func(*Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == stop {
		fn(&c.status)
	}
}
