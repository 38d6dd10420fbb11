package snowflake

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_GenerateMonotonic(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	prev := node.Generate()
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestNode_GenerateUniqueUnderConcurrency(t *testing.T) {
	node, err := NewNode(2)
	require.NoError(t, err)

	const workers = 8
	const perWorker = 2000

	var mu sync.Mutex
	seen := make(map[int64]bool, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, node.Generate())
			}
			mu.Lock()
			for _, id := range ids {
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestNewNode_RejectsOutOfRange(t *testing.T) {
	_, err := NewNode(-1)
	assert.Error(t, err)
	_, err = NewNode(1024)
	assert.Error(t, err)
}

func TestTime_RecoversTimestamp(t *testing.T) {
	node, err := NewNode(3)
	require.NoError(t, err)

	before := time.Now().Truncate(time.Millisecond)
	id := node.Generate()
	after := time.Now()

	ts := Time(id)
	assert.False(t, ts.Before(before))
	assert.False(t, ts.After(after))
}
