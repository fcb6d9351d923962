package session

import (
	"grit-server/pkg/telemetry"
)

// scoreRing is a bounded circular buffer of score packets preserving
// insertion order.
type scoreRing struct {
	buf  []telemetry.ScorePacket
	head int
	n    int
}

func newScoreRing(size int) *scoreRing {
	if size <= 0 {
		size = 1
	}
	return &scoreRing{buf: make([]telemetry.ScorePacket, size)}
}

func (r *scoreRing) push(s telemetry.ScorePacket) {
	idx := (r.head + r.n) % len(r.buf)
	r.buf[idx] = s
	if r.n < len(r.buf) {
		r.n++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// all returns the buffered scores in chronological order.
func (r *scoreRing) all() []telemetry.ScorePacket {
	out := make([]telemetry.ScorePacket, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// composites returns the composite values in chronological order.
func (r *scoreRing) composites() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)].Composite
	}
	return out
}

func (r *scoreRing) latest() (telemetry.ScorePacket, bool) {
	if r.n == 0 {
		return telemetry.ScorePacket{}, false
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)], true
}

// pageMostRecentFirst returns a history page, newest entries first.
func (r *scoreRing) pageMostRecentFirst(limit, offset int) []telemetry.ScorePacket {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= r.n {
		return []telemetry.ScorePacket{}
	}

	count := r.n - offset
	if count > limit {
		count = limit
	}
	out := make([]telemetry.ScorePacket, count)
	for i := 0; i < count; i++ {
		// newest is at position n-1
		out[i] = r.buf[(r.head+r.n-1-offset-i)%len(r.buf)]
	}
	return out
}

// packetRing is a bounded circular buffer of feature packets.
type packetRing struct {
	buf  []*telemetry.FeaturePacket
	head int
	n    int
}

func newPacketRing(size int) *packetRing {
	if size <= 0 {
		size = 1
	}
	return &packetRing{buf: make([]*telemetry.FeaturePacket, size)}
}

func (r *packetRing) push(p *telemetry.FeaturePacket) {
	idx := (r.head + r.n) % len(r.buf)
	r.buf[idx] = p
	if r.n < len(r.buf) {
		r.n++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// items returns the buffered packets in chronological order.
func (r *packetRing) items() []*telemetry.FeaturePacket {
	out := make([]*telemetry.FeaturePacket, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
