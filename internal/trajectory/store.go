// Package trajectory buffers engine snapshots and publishes them as frames,
// either live (newest only) or as a fixed-rate looped replay.
//
// The Store is in one of two modes. While collecting, Ingest appends to
// a bounded history and a live task publishes the newest snapshot. Once
// collecting stops, Play replays the history from the cursor at the
// configured rate under Pause/Step/Reset control. Both tasks share one
// single-worker pool, so at most one publishes at a time.
package trajectory

import (
	"strings"
	"sync"
	"time"

	"github.com/danmuck/designctl/internal/frames"
	"github.com/danmuck/designctl/internal/observability"
	"github.com/danmuck/designctl/internal/workpool"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCapacity = 100
	DefaultFPS      = 15.0
	MaxFPS          = 120.0
)

// Publish modes, used as the metrics label.
const (
	ModeLive     = "live"
	ModePlayback = "playback"
	ModeStep     = "step"
)

type Config struct {
	Capacity int
	FPS      float64
	// Parser defaults to frames.ParsePDB.
	Parser frames.Parser
}

func (c Config) WithDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.FPS > MaxFPS {
		c.FPS = MaxFPS
	}
	if c.Parser == nil {
		c.Parser = frames.ParsePDB
	}
	return c
}

type taskKind int

const (
	taskNone taskKind = iota
	taskLive
	taskPlayback
)

// Status is a point-in-time view of the store.
type Status struct {
	Collecting bool    `json:"collecting"`
	Dirty      bool    `json:"dirty"`
	Halted     bool    `json:"halted"`
	Suspended  bool    `json:"suspended"`
	Live       bool    `json:"live"`
	Playing    bool    `json:"playing"`
	Length     int     `json:"length"`
	Cursor     int     `json:"cursor"`
	Capacity   int     `json:"capacity"`
	FPS        float64 `json:"fps"`
}

type Store struct {
	parser   frames.Parser
	sink     frames.Sink
	capacity int
	pool     workpool.Pool
	wake     chan struct{}

	mu         sync.Mutex
	history    *ring
	cursor     int
	collecting bool
	dirty      bool
	halted     bool
	suspended  bool
	fps        float64
	task       taskKind
	stop       *workpool.Signal
}

func NewStore(cfg Config, sink frames.Sink) *Store {
	cfg = cfg.WithDefaults()
	if sink == nil {
		sink = frames.SinkFunc(func(int, frames.Frame) {})
	}
	return &Store{
		parser:     cfg.Parser,
		sink:       sink,
		capacity:   cfg.Capacity,
		wake:       make(chan struct{}, 1),
		history:    newRing(cfg.Capacity),
		collecting: true,
		fps:        cfg.FPS,
	}
}

// Ingest appends s while collecting and reports whether it was kept.
// Empty snapshots are ignored.
func (s *Store) Ingest(snapshot string) bool {
	if strings.TrimSpace(snapshot) == "" {
		return false
	}
	s.mu.Lock()
	if !s.collecting {
		s.mu.Unlock()
		return false
	}
	s.history.push(snapshot)
	s.dirty = true
	n := s.history.len()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	observability.SetHistorySize(n)
	return true
}

// StartLive starts the live publishing task. It is a no-op when not
// collecting or when a task is already running.
func (s *Store) StartLive() bool {
	for {
		s.mu.Lock()
		if !s.collecting {
			s.mu.Unlock()
			return false
		}
		s.halted = false
		if s.task == taskLive && !s.stop.Fired() {
			s.mu.Unlock()
			return true
		}
		if s.task != taskNone {
			s.mu.Unlock()
			s.pool.Join()
			continue
		}
		started := s.startLocked(taskLive, s.runLive)
		s.mu.Unlock()
		if started {
			return true
		}
		s.pool.Join()
	}
}

// CancelLive stops collecting without waiting for the live task.
func (s *Store) CancelLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collecting = false
	if s.task == taskLive {
		s.stop.Fire()
	}
}

// StopLive stops collecting, halts, and waits for the background task.
func (s *Store) StopLive() {
	s.mu.Lock()
	s.collecting = false
	s.halted = true
	s.interruptLocked()
	s.mu.Unlock()
	s.pool.Join()
	log.Debug().Msg("trajectory.StopLive joined")
}

// Play starts looped replay of the history. It requires collecting to be
// off and a non-empty history; calling it while already playing only
// clears pause. The first frame is published one interval after Play.
func (s *Store) Play() bool {
	for {
		s.mu.Lock()
		if s.collecting || s.history.len() == 0 {
			s.mu.Unlock()
			return false
		}
		s.halted = false
		s.suspended = false
		if s.task == taskPlayback && !s.stop.Fired() {
			s.mu.Unlock()
			return true
		}
		if s.task != taskNone {
			// A halted task is still on its way out.
			s.mu.Unlock()
			s.pool.Join()
			continue
		}
		started := s.startLocked(taskPlayback, s.runPlayback)
		s.mu.Unlock()
		if started {
			return true
		}
		s.pool.Join()
	}
}

func (s *Store) Pause() {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
}

// Halt makes the running task exit without waiting for it.
func (s *Store) Halt() {
	s.mu.Lock()
	s.halted = true
	s.interruptLocked()
	s.mu.Unlock()
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.cursor = 0
	s.mu.Unlock()
}

// Step publishes the snapshot at the cursor and advances it. It is a
// no-op on an empty history.
func (s *Store) Step() bool {
	seq, snapshot, ok := s.advance()
	if !ok {
		return false
	}
	s.publish(seq, snapshot, ModeStep)
	return true
}

// Clear halts and joins any task, empties the history and returns the
// store to a fresh collecting state. The reset happens under the same lock
// hold that finds no task alive, so a racing Play or StartLive either runs
// to its halt first or starts after the reset.
func (s *Store) Clear() {
	for {
		s.mu.Lock()
		s.collecting = false
		s.halted = true
		s.interruptLocked()
		if s.task != taskNone || s.pool.Busy() {
			s.mu.Unlock()
			s.pool.Join()
			continue
		}
		s.history.clear()
		s.cursor = 0
		s.collecting = true
		s.dirty = false
		s.halted = false
		s.suspended = false
		s.mu.Unlock()
		break
	}
	select {
	case <-s.wake:
	default:
	}
	observability.SetHistorySize(0)
	log.Debug().Msg("trajectory.Clear")
}

// SetFPS changes the replay rate; values outside (0, MaxFPS] are rejected.
func (s *Store) SetFPS(fps float64) bool {
	if fps <= 0 || fps > MaxFPS {
		return false
	}
	s.mu.Lock()
	s.fps = fps
	s.mu.Unlock()
	return true
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Collecting: s.collecting,
		Dirty:      s.dirty,
		Halted:     s.halted,
		Suspended:  s.suspended,
		Live:       s.task == taskLive,
		Playing:    s.task == taskPlayback && !s.halted && !s.suspended,
		Length:     s.history.len(),
		Cursor:     s.cursor,
		Capacity:   s.capacity,
		FPS:        s.fps,
	}
}

// History returns the stored snapshots, oldest first.
func (s *Store) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.slice()
}

func (s *Store) Latest() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history.len() == 0 {
		return "", false
	}
	return s.history.newest(), true
}

// Wait blocks until no background task is running.
func (s *Store) Wait() {
	s.pool.Join()
}

func (s *Store) startLocked(kind taskKind, run func(stop *workpool.Signal)) bool {
	stop := workpool.NewSignal()
	started := s.pool.Submit(func() {
		run(stop)
		s.taskDone(stop)
	})
	if !started {
		return false
	}
	s.task = kind
	s.stop = stop
	return true
}

func (s *Store) taskDone(stop *workpool.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == stop {
		s.task = taskNone
		s.stop = nil
	}
}

func (s *Store) interruptLocked() {
	if s.stop != nil {
		s.stop.Fire()
	}
}

func (s *Store) advance() (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.history.len()
	if n == 0 {
		return 0, "", false
	}
	idx := s.cursor % n
	s.cursor = (idx + 1) % n
	return idx, s.history.at(idx), true
}

func (s *Store) runLive(stop *workpool.Signal) {
	log.Debug().Msg("trajectory live task started")
	for {
		s.mu.Lock()
		if !s.collecting || s.halted || stop.Fired() {
			s.mu.Unlock()
			log.Debug().Msg("trajectory live task exited")
			return
		}
		var snapshot string
		ready := s.dirty && s.history.len() > 0
		if ready {
			snapshot = s.history.newest()
			s.dirty = false
		}
		s.mu.Unlock()

		if ready {
			s.publish(0, snapshot, ModeLive)
			continue
		}
		select {
		case <-s.wake:
		case <-stop.C():
		}
	}
}

// runPlayback waits one frame interval before each publish, so Play
// followed at once by Pause publishes nothing.
func (s *Store) runPlayback(stop *workpool.Signal) {
	log.Debug().Msg("trajectory playback task started")
	for {
		s.mu.Lock()
		interval := time.Duration(float64(time.Second) / s.fps)
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stop.C():
			timer.Stop()
			log.Debug().Msg("trajectory playback task exited")
			return
		case <-timer.C:
		}

		s.mu.Lock()
		if s.halted || s.collecting || stop.Fired() {
			s.mu.Unlock()
			log.Debug().Msg("trajectory playback task exited")
			return
		}
		n := s.history.len()
		if s.suspended || n == 0 {
			s.mu.Unlock()
			continue
		}
		idx := s.cursor % n
		s.cursor = (idx + 1) % n
		snapshot := s.history.at(idx)
		s.mu.Unlock()

		s.publish(idx, snapshot, ModePlayback)
	}
}

func (s *Store) publish(seq int, snapshot, mode string) {
	f, err := s.parser(snapshot)
	if err != nil {
		observability.RecordParseFailure()
		log.Warn().Err(err).Int("seq", seq).Str("mode", mode).Msg("trajectory.publish skipped unparsable snapshot")
		return
	}
	s.sink.Publish(seq, f)
	observability.RecordFramePublished(mode)
}
