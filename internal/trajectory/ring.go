package trajectory

// ring is a fixed-capacity history; pushing onto a full ring drops the oldest.
type ring struct {
	buf   []string
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) push(s string) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.n
}

func (r *ring) at(i int) string {
	return r.buf[(r.start+i)%len(r.buf)]
}

func (r *ring) newest() string {
	return r.at(r.n - 1)
}

func (r *ring) clear() {
	clear(r.buf)
	r.start = 0
	r.n = 0
}

func (r *ring) slice() []string {
	out := make([]string, r.n)
	for i := range out {
		out[i] = r.at(i)
	}
	return out
}
