package layertap

import (
	"log/slog"
	"sync"

	"github.com/mediaforge/ffproducer/media"
)

// Registry is the set of taps currently attached to one channel's layer.
// The layer (owned outside this package; the mixer/compositor itself is
// out of scope here) embeds a Registry and calls Broadcast once per frame
// it produces. This is the "stage owns the tap" half of the cyclic
// ownership split: the registry holds the only strong references to its
// taps, and a producer attaching through Attach gets back a non-owning
// handle it polls and eventually detaches.
type Registry struct {
	mu   sync.Mutex
	taps map[int]*Tap
}

// NewRegistry returns an empty tap registry.
func NewRegistry() *Registry {
	return &Registry{taps: make(map[int]*Tap)}
}

// Attach installs a new tap at channel index n and returns the handle its
// producer polls. format is the attaching producer's own channel format:
// frames are copied into that layout, not the source layer's.
func (r *Registry) Attach(n int, format media.VideoFormatDesc, log *slog.Logger) *Tap {
	idx := ConsumerIndex(n)

	var t *Tap
	t = newTap(format, log, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.taps[idx] == t {
			delete(r.taps, idx)
		}
	})

	r.mu.Lock()
	existing := r.taps[idx]
	r.taps[idx] = t
	r.mu.Unlock()

	if existing != nil {
		existing.Detach()
	}
	return t
}

// Broadcast pushes frame into every tap currently attached to this layer.
func (r *Registry) Broadcast(frame *media.OutputFrame) {
	r.mu.Lock()
	taps := make([]*Tap, 0, len(r.taps))
	for _, t := range r.taps {
		taps = append(taps, t)
	}
	r.mu.Unlock()

	for _, t := range taps {
		t.push(frame)
	}
}

// Len reports how many taps are currently attached.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.taps)
}
