package events

import (
	"context"
	"sync"
)

// Recorder is an in-process Publisher. It keeps every envelope and, when a
// Router is attached, delivers synchronously so services can be chained
// without a broker.
type Recorder struct {
	mu     sync.Mutex
	sent   []Envelope
	Router *Router
	Err    error
}

func (r *Recorder) Publish(ctx context.Context, env Envelope) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	r.sent = append(r.sent, env)
	r.mu.Unlock()
	if r.Router != nil {
		return r.Router.Dispatch(ctx, env)
	}
	return nil
}

func (r *Recorder) Sent() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfType returns the recorded envelopes with the given event type.
func (r *Recorder) OfType(eventType string) []Envelope {
	var out []Envelope
	for _, e := range r.Sent() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
