package runtime

import (
	"context"
	"sync"
)

// lanes serialise publishes sharing a partition key. A ticket is taken when a
// publish is accepted, so transport attempts for one key happen in call order
// while different keys proceed independently.
type lanes struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newLanes() *lanes {
	return &lanes{tails: make(map[string]chan struct{})}
}

// ticket is one place in a partition's queue.
type ticket struct {
	l    *lanes
	key  string
	prev <-chan struct{}
	mine chan struct{}
	once sync.Once
}

// take appends a ticket to key's queue. An empty key gets a ticket that never
// waits.
func (l *lanes) take(key string) *ticket {
	t := &ticket{l: l, key: key, mine: make(chan struct{})}
	if key == "" {
		return t
	}
	l.mu.Lock()
	t.prev = l.tails[key]
	l.tails[key] = t.mine
	l.mu.Unlock()
	return t
}

// wait blocks until every earlier ticket on the key was released or ctx ends.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release lets the next ticket proceed. A ticket released before its
// predecessor finished hands over only once the predecessor is done, so the
// queue never reorders.
func (t *ticket) release() {
	t.once.Do(func() {
		if t.prev != nil {
			select {
			case <-t.prev:
			default:
				go func() {
					<-t.prev
					t.finish()
				}()
				return
			}
		}
		t.finish()
	})
}

func (t *ticket) finish() {
	if t.key == "" {
		close(t.mine)
		return
	}
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	if t.l.tails[t.key] == t.mine {
		delete(t.l.tails, t.key)
	}
	close(t.mine)
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tails)
}
