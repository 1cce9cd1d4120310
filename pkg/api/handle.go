package api

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// ErrHandleConsumed is returned when a handle is used after a
// transformation took it.
var ErrHandleConsumed = errors.New("handle already consumed")

// Handle owns one PCZT. Transformations consume the handle they are given
// and return a new one; reads only borrow it. A handle is safe for
// concurrent use.
type Handle struct {
	mu       sync.Mutex
	p        *pczt.PCZT
	consumed bool
	seq      uint64 // Lock order for multi-handle operations
}

var handleSeq atomic.Uint64

func newHandle(p *pczt.PCZT) *Handle {
	return &Handle{p: p, seq: handleSeq.Add(1)}
}

// Clone returns an independent handle holding a deep copy.
func (h *Handle) Clone() (*Handle, error) {
	var c *pczt.PCZT
	err := h.borrow(func(p *pczt.PCZT) error {
		c = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newHandle(c), nil
}

// Consumed reports whether a transformation already took the handle.
func (h *Handle) Consumed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consumed
}

// borrow runs fn on the PCZT while holding the handle. fn must not keep p.
func (h *Handle) borrow(fn func(p *pczt.PCZT) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consumed {
		return ErrHandleConsumed
	}
	return fn(h.p)
}

// transform runs fn on a copy of the PCZT. When fn succeeds the handle is
// consumed; when it fails the handle stays usable and unchanged.
func (h *Handle) transform(fn func(p *pczt.PCZT) (*pczt.PCZT, error)) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consumed {
		return nil, ErrHandleConsumed
	}
	out, err := fn(h.p.Clone())
	if err != nil {
		return nil, err
	}
	h.consumed = true
	h.p = nil
	return newHandle(out), nil
}

// snapshot returns a copy of the PCZT for work done outside the lock.
func (h *Handle) snapshot() (*pczt.PCZT, error) {
	var c *pczt.PCZT
	err := h.borrow(func(p *pczt.PCZT) error {
		c = p.Clone()
		return nil
	})
	return c, err
}

// consume marks the handle as taken if it is still live.
func (h *Handle) consume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consumed {
		return ErrHandleConsumed
	}
	h.consumed = true
	h.p = nil
	return nil
}

// consumeAll runs fn over the PCZTs of hs while holding every handle. The
// handles are consumed only when all are live and fn succeeds; otherwise
// none of them changes. Locks are taken in creation order, so overlapping
// calls cannot deadlock. hs may repeat a handle.
func consumeAll(hs []*Handle, fn func(ps []*pczt.PCZT) (*pczt.PCZT, error)) (*Handle, error) {
	unique := slices.Clone(hs)
	slices.SortFunc(unique, func(a, b *Handle) int { return cmp.Compare(a.seq, b.seq) })
	unique = slices.Compact(unique)
	for _, h := range unique {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	for _, h := range unique {
		if h.consumed {
			return nil, ErrHandleConsumed
		}
	}

	ps := make([]*pczt.PCZT, len(hs))
	for i, h := range hs {
		ps[i] = h.p
	}
	out, err := fn(ps)
	if err != nil {
		return nil, err
	}
	for _, h := range unique {
		h.consumed = true
		h.p = nil
	}
	return newHandle(out), nil
}
