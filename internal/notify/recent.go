package notify

import (
	"sync"
	"time"
)

// Delivery is the outcome of one dispatch attempt.
type Delivery struct {
	Message Message   `json:"message"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Recent keeps the last deliveries in a fixed-size buffer.
type Recent struct {
	mu    sync.RWMutex
	buf   []Delivery
	limit int
}

func NewRecent(limit int) *Recent {
	if limit <= 0 {
		limit = 200
	}
	return &Recent{limit: limit}
}

func (r *Recent) Add(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < r.limit {
		r.buf = append(r.buf, d)
		return
	}
	copy(r.buf, r.buf[1:])
	r.buf[len(r.buf)-1] = d
}

// List returns up to limit deliveries, oldest first.
func (r *Recent) List(limit int) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	out := make([]Delivery, 0, limit)
	for i := len(r.buf) - limit; i < len(r.buf); i++ {
		out = append(out, r.buf[i])
	}
	return out
}

func (r *Recent) Since(ts time.Time) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Delivery, 0)
	for _, d := range r.buf {
		if !d.At.Before(ts) {
			out = append(out, d)
		}
	}
	return out
}
