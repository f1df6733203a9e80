package actionqueue

// workerPool is a fixed-size slot array with a free list.
// Its size is set at construction and never changes.
type workerPool struct {
	slots []*envelope
	free  []int // stack of idle slot indexes
}

func newWorkerPool(n int) workerPool {
	p := workerPool{slots: make([]*envelope, n)}
	p.resetFree()
	return p
}

func (p *workerPool) resetFree() {
	n := len(p.slots)
	p.free = make([]int, 0, n)
	// Lowest index on top of the stack.
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
}

func (p *workerPool) size() int { return len(p.slots) }

func (p *workerPool) idle() int { return len(p.free) }

func (p *workerPool) busy() int { return len(p.slots) - len(p.free) }

// acquire binds e to an idle slot. The caller must check idle() > 0.
func (p *workerPool) acquire(e *envelope) int {
	last := len(p.free) - 1
	idx := p.free[last]
	p.free = p.free[:last]
	p.slots[idx] = e
	e.slot = idx
	return idx
}

// release frees e's slot if e still occupies it.
func (p *workerPool) release(e *envelope) bool {
	idx := e.slot
	if idx < 0 || idx >= len(p.slots) || p.slots[idx] != e {
		return false
	}
	p.slots[idx] = nil
	e.slot = -1
	p.free = append(p.free, idx)
	return true
}

// reset unbinds every slot and returns the envelopes that were bound, in slot order.
func (p *workerPool) reset() []*envelope {
	var bound []*envelope
	for i, e := range p.slots {
		if e != nil {
			e.slot = -1
			bound = append(bound, e)
			p.slots[i] = nil
		}
	}
	p.resetFree()
	return bound
}

// bound returns the occupying envelopes in slot order.
func (p *workerPool) bound() []*envelope {
	var out []*envelope
	for _, e := range p.slots {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
