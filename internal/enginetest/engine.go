// Package enginetest runs an in-process stand-in for the remote
// structure-design engine. It speaks the same framed request/reply protocol
// and keeps a small pose store so catalog, script and server code can be
// exercised end to end over a real socket.
package enginetest

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/designctl/internal/protocol/frame"
	"github.com/danmuck/designctl/internal/protocol/schema"
	"github.com/danmuck/designctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Handler overrides the built-in behaviour for one key. Returning ok=false
// sends no reply, which the client observes as a receive timeout.
type Handler func(req []string) (reply []string, ok bool)

type Option func(*Engine)

// WithSteps sets how many trajectory snapshots a script run produces.
func WithSteps(n int) Option {
	return func(e *Engine) {
		e.steps = n
	}
}

func WithTLS(cfg *tls.Config) Option {
	return func(e *Engine) {
		e.tlsCfg = cfg
	}
}

func WithHandler(key string, h Handler) Option {
	return func(e *Engine) {
		e.handlers[key] = h
	}
}

// run tracks a script applied to a pose. Each SEND_POSE for the pose
// returns the next step; once the steps are used up the pose is retired
// under "<name>_final" and the original name is no longer recognised.
type run struct {
	base  int
	step  int
	steps int
}

type Engine struct {
	ln     net.Listener
	steps  int
	tlsCfg *tls.Config

	mu        sync.Mutex
	handlers  map[string]Handler
	poses     map[string]string
	runs      map[string]*run
	requests  [][]string
	nextPose  int
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
	exitCount int
}

// Listen starts an engine on addr ("127.0.0.1:0" for tests).
func Listen(addr string, opts ...Option) (*Engine, error) {
	e := &Engine{
		steps:    3,
		handlers: make(map[string]Handler),
		poses:    make(map[string]string),
		runs:     make(map[string]*run),
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if e.tlsCfg != nil {
		ln = tls.NewListener(ln, e.tlsCfg)
	}
	e.ln = ln
	e.wg.Add(1)
	go e.acceptLoop()
	log.Info().Str("addr", ln.Addr().String()).Int("steps", e.steps).Msg("enginetest.Listen")
	return e, nil
}

func (e *Engine) Addr() string {
	return e.ln.Addr().String()
}

// SetHandler installs or replaces the override for key; nil removes it.
func (e *Engine) SetHandler(key string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h == nil {
		delete(e.handlers, key)
		return
	}
	e.handlers[key] = h
}

// PutPose stores pdb under name.
func (e *Engine) PutPose(name, pdb string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.poses[name] = pdb
}

func (e *Engine) Pose(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pdb, ok := e.poses[name]
	return pdb, ok
}

// Requests returns a copy of every request received so far.
func (e *Engine) Requests() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.requests))
	for i, req := range e.requests {
		out[i] = append([]string(nil), req...)
	}
	return out
}

// Keys returns the key of every request received so far.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.requests))
	for _, req := range e.requests {
		out = append(out, req[0])
	}
	return out
}

// Exits counts EXIT requests.
func (e *Engine) Exits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCount
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for c := range e.conns {
		_ = c.Close()
	}
	e.mu.Unlock()
	err := e.ln.Close()
	e.wg.Wait()
	return err
}

func (e *Engine) acceptLoop() {
	defer e.wg.Done()
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("enginetest.acceptLoop accept failed")
			}
			return
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			_ = conn.Close()
			return
		}
		e.conns[conn] = struct{}{}
		e.mu.Unlock()

		e.wg.Add(1)
		go e.serveConn(conn)
	}
}

func (e *Engine) serveConn(conn net.Conn) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.conns, conn)
		e.mu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		fr, err := frame.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			return
		}
		if fr.Header.MessageType != schema.MsgRequest {
			log.Warn().Uint32("message_type", fr.Header.MessageType).Msg("enginetest.serveConn unexpected message")
			return
		}
		req, err := tlv.DecodeSegments(fr.Payload)
		if err != nil || len(req) == 0 {
			log.Warn().Err(err).Msg("enginetest.serveConn bad request payload")
			return
		}
		reply, ok := e.handle(req)
		if !ok {
			continue
		}
		out := frame.Frame{
			Header: frame.Header{
				MessageID:   fr.Header.MessageID,
				MessageType: schema.MsgReply,
				Flags:       frame.FlagIsResponse,
			},
			Payload: tlv.EncodeSegments(reply),
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := frame.WriteFrame(conn, out, frame.DefaultLimits()); err != nil {
			return
		}
	}
}

func (e *Engine) handle(req []string) ([]string, bool) {
	key := req[0]
	e.mu.Lock()
	e.requests = append(e.requests, append([]string(nil), req...))
	h := e.handlers[key]
	e.mu.Unlock()
	if h != nil {
		return h(req)
	}

	args := req[1:]
	switch key {
	case "ECHO":
		return ok(key, argAt(args, 0)), true
	case "EXIT":
		e.mu.Lock()
		e.exitCount++
		e.mu.Unlock()
		return ok(key), true
	case "STORE_POSE":
		return e.storePose(key, args), true
	case "SEND_POSE":
		return e.sendPose(key, args), true
	case "SEND_POSE_INFO":
		return e.sendPoseInfo(key, args), true
	case "SEND_POSE_LIST":
		return e.sendPoseList(key), true
	case "PARSE_AND_RUN_XML":
		return e.parseAndRunXML(key, args), true
	default:
		return []string{schema.StatusKeyUnrecognized}, true
	}
}

func (e *Engine) storePose(key string, args []string) []string {
	if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
		return malformed(key, "pose_to_store is empty")
	}
	name := strings.TrimSpace(args[0])
	if strings.ContainsAny(name, " \t\n") {
		return malformed(key, "pose names cannot contain whitespace")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("pose%d", e.nextPose)
		e.nextPose++
	}
	e.poses[name] = args[1]
	return ok(key, name)
}

func (e *Engine) sendPose(key string, args []string) []string {
	name := argAt(args, 0)
	e.mu.Lock()
	defer e.mu.Unlock()
	if r := e.runs[name]; r != nil {
		r.step++
		pdb := SamplePDB(r.base + r.step)
		if r.step >= r.steps {
			delete(e.runs, name)
			delete(e.poses, name)
			e.poses[name+"_final"] = pdb
		}
		return ok(key, pdb)
	}
	pdb, found := e.poses[name]
	if !found {
		return malformed(key, fmt.Sprintf("pose %q not recognised", name))
	}
	return ok(key, pdb)
}

func (e *Engine) sendPoseInfo(key string, args []string) []string {
	name := argAt(args, 0)
	e.mu.Lock()
	pdb, found := e.poses[name]
	e.mu.Unlock()
	if !found {
		return malformed(key, fmt.Sprintf("pose %q not recognised", name))
	}
	atoms := 0
	residues := make(map[string]struct{})
	for _, line := range strings.Split(pdb, "\n") {
		if strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM") {
			atoms++
			if len(line) >= 26 {
				residues[line[17:26]] = struct{}{}
			}
		}
	}
	info, _ := json.Marshal(map[string]any{
		"name":     name,
		"atoms":    atoms,
		"residues": len(residues),
	})
	return ok(key, string(info))
}

func (e *Engine) sendPoseList(key string) []string {
	e.mu.Lock()
	names := make([]string, 0, len(e.poses))
	for name := range e.poses {
		names = append(names, name)
	}
	e.mu.Unlock()
	sort.Strings(names)
	return ok(key, strings.Join(names, " "))
}

func (e *Engine) parseAndRunXML(key string, args []string) []string {
	if len(args) < 2 {
		return malformed(key, "expected pose_name and xml")
	}
	name, xml := args[0], args[1]
	if !strings.Contains(xml, "<ROSETTASCRIPTS") {
		return malformed(key, "xml has no ROSETTASCRIPTS block")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, found := e.poses[name]; !found {
		return malformed(key, fmt.Sprintf("pose %q not recognised", name))
	}
	e.runs[name] = &run{base: 0, steps: e.steps}
	return ok(key)
}

func ok(key string, payload ...string) []string {
	return append([]string{schema.OKStatus(key)}, payload...)
}

func malformed(key, detail string) []string {
	return []string{schema.MalformedStatus(key), detail}
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
