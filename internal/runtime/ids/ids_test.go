package ids

import (
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventIDIsVersion4(t *testing.T) {
	id := NewEventID()
	assert.Len(t, id, 36)
	assert.True(t, IsEventID(id))
	assert.NotEqual(t, id, NewEventID())
}

func TestIsEventIDAcceptsAnyVersion(t *testing.T) {
	cases := map[string]string{
		"version 1": "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
		"version 4": NewEventID(),
		"version 7": "01890a5d-ac96-774b-bcce-b302099a8057",
		"uppercase": "01890A5D-AC96-774B-BCCE-B302099A8057",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.True(t, IsEventID(in))
		})
	}
}

func TestIsEventIDRejects(t *testing.T) {
	cases := map[string]string{
		"empty":       "",
		"garbage":     "not-a-uuid",
		"ncs variant": "6ba7b810-9dad-11d1-00b4-00c04fd430c8",
		"urn form":    "urn:uuid:" + NewEventID(),
		"braced":      "{" + NewEventID() + "}",
		"no hyphens":  "01890a5dac96774bbcceb302099a8057",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, IsEventID(in))
		})
	}
}

func TestNewRecordIDSequentialOrdering(t *testing.T) {
	const total = 100
	out := make([]string, total)
	for i := range out {
		out[i] = NewRecordID()
		_, err := ulid.Parse(out[i])
		require.NoError(t, err)
	}
	for i := 1; i < total; i++ {
		require.Less(t, out[i-1], out[i])
	}
}

func TestNewRecordIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := NewRecordID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
