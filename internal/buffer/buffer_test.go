package buffer_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed-service/internal/buffer"
	"stockfeed-service/internal/feed"
)

func record(token string) feed.TickRecord {
	return feed.TickRecord{Token: token}
}

func TestAppendDrainSize(t *testing.T) {
	b := buffer.New()
	assert.Equal(t, 0, b.Size())

	b.Append(record("1"))
	b.Append(record("2"))
	b.Append(record("3"))
	assert.Equal(t, 3, b.Size())

	drained := b.DrainAll()
	require.Len(t, drained, 3)
	assert.Equal(t, "1", drained[0].Token)
	assert.Equal(t, "2", drained[1].Token)
	assert.Equal(t, "3", drained[2].Token)
	assert.Equal(t, 0, b.Size())

	assert.Empty(t, b.DrainAll(), "second drain must be empty")
}

func TestDrainDoesNotSeeLaterAppends(t *testing.T) {
	b := buffer.New()
	b.Append(record("before"))

	drained := b.DrainAll()
	b.Append(record("after"))

	require.Len(t, drained, 1)
	assert.Equal(t, "before", drained[0].Token)
	assert.Equal(t, 1, b.Size())
}

func TestConcurrentAppends(t *testing.T) {
	const writers = 8
	const perWriter = 500

	b := buffer.New()
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(record(fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	drained := b.DrainAll()
	assert.Len(t, drained, writers*perWriter)
	assert.Equal(t, 0, b.Size())
}

// TestConcurrentAppendAndDrain checks the drain-atomicity invariant: across
// any interleaving of appends and drains, every record is drained exactly
// once.
func TestConcurrentAppendAndDrain(t *testing.T) {
	const writers = 4
	const perWriter = 1000

	b := buffer.New()
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				b.Append(record(fmt.Sprintf("%d-%d", w, i)))
			}
		}(w)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	collect := func() {
		for _, rec := range b.DrainAll() {
			seen[rec.Token]++
		}
	}

	for {
		select {
		case <-done:
			collect() // final drain after all writers finished
			require.Len(t, seen, writers*perWriter)
			for token, count := range seen {
				require.Equal(t, 1, count, "record %s drained %d times", token, count)
			}
			assert.Equal(t, 0, b.Size())
			return
		default:
			collect()
		}
	}
}
