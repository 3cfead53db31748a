// Package frames holds the display frame model, the PDB snapshot parser
// and the sinks frames are published to.
package frames

import "sync"

// Frame is one renderable structure. Positions are in nanometres.
type Frame struct {
	ParticleCount    int          `cbor:"particle_count" json:"particle_count"`
	Positions        [][3]float32 `cbor:"particle_positions" json:"particle_positions"`
	Elements         []uint32     `cbor:"particle_elements" json:"particle_elements"`
	Names            []string     `cbor:"particle_names" json:"particle_names"`
	ParticleResidues []uint32     `cbor:"particle_residues" json:"particle_residues"`
	ResidueNames     []string     `cbor:"residue_names" json:"residue_names"`
	ResidueIDs       []int        `cbor:"residue_ids" json:"residue_ids"`
	ResidueChains    []uint32     `cbor:"residue_chains" json:"residue_chains"`
	ChainNames       []string     `cbor:"chain_names" json:"chain_names"`
	Bonds            [][2]uint32  `cbor:"bond_pairs" json:"bond_pairs"`
}

func (f Frame) ResidueCount() int {
	return len(f.ResidueNames)
}

func (f Frame) ChainCount() int {
	return len(f.ChainNames)
}

// Sink receives published frames. Publish must not block for long; it is
// called from playback and live tasks.
type Sink interface {
	Publish(seq int, f Frame)
}

type SinkFunc func(seq int, f Frame)

func (fn SinkFunc) Publish(seq int, f Frame) {
	fn(seq, f)
}

// Parser converts snapshot text into a frame.
type Parser func(text string) (Frame, error)

type multi []Sink

func (m multi) Publish(seq int, f Frame) {
	for _, s := range m {
		s.Publish(seq, f)
	}
}

// Multi fans every frame out to each sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Published is one recorded Publish call.
type Published struct {
	Seq   int
	Frame Frame
}

// Recorder is a Sink that keeps every frame it is given.
type Recorder struct {
	mu     sync.Mutex
	frames []Published
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Publish(seq int, f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, Published{Seq: seq, Frame: f})
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) Frames() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.frames...)
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Seqs returns the sequence numbers published so far.
func (r *Recorder) Seqs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.frames))
	for i, p := range r.frames {
		out[i] = p.Seq
	}
	return out
}

// Notify is signalled after each Publish; signals coalesce.
func (r *Recorder) Notify() <-chan struct{} {
	return r.notify
}
