package handler

import (
	"context"
	"sync"
)

// Sequencer orders turns per key. Turns entered for the same key run one at
// a time in the order Enter was called; different keys do not wait on each
// other. Idle keys hold no memory.
type Sequencer struct {
	mu    sync.Mutex
	tails map[string]*Turn
}

func NewSequencer() *Sequencer {
	return &Sequencer{tails: make(map[string]*Turn)}
}

// Turn is one reserved slot in a key's queue.
type Turn struct {
	seq    *Sequencer
	key    string
	prev   <-chan struct{}
	done   chan struct{}
	waited bool
	once   sync.Once
}

// Enter reserves the next slot for key. The caller must call Leave exactly
// once, whether or not Wait succeeded.
func (s *Sequencer) Enter(key string) *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Turn{seq: s, key: key, done: make(chan struct{})}
	if tail, ok := s.tails[key]; ok {
		t.prev = tail.done
	}
	s.tails[key] = t
	return t
}

// Wait blocks until every earlier turn for the key has left.
func (t *Turn) Wait(ctx context.Context) error {
	if t.prev == nil {
		t.waited = true
		return nil
	}
	select {
	case <-t.prev:
		t.waited = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave releases the slot. A turn that gave up waiting still releases only
// after its predecessor, so later turns never overtake a running one.
func (t *Turn) Leave() {
	t.once.Do(func() {
		if t.waited || t.prev == nil {
			t.finish()
			return
		}
		go func() {
			<-t.prev
			t.finish()
		}()
	})
}

func (t *Turn) finish() {
	t.seq.mu.Lock()
	if t.seq.tails[t.key] == t {
		delete(t.seq.tails, t.key)
	}
	t.seq.mu.Unlock()
	close(t.done)
}

// Len reports how many keys currently have queued or running turns.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails)
}
