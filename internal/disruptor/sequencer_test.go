package disruptor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_SingleProducer(t *testing.T) {
	seq := NewSequencer()
	for i := uint64(1); i <= 100; i++ {
		assert.Equal(t, i, seq.Next())
	}
	assert.Equal(t, uint64(100), seq.Current())
}

func TestSequencer_MultiProducerNoDuplicates(t *testing.T) {
	seq := NewSequencer()

	const producers = 10
	const perProducer = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[uint64]bool, producers*perProducer)

	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				s := seq.Next()
				mu.Lock()
				assert.False(t, claimed[s], "sequence %d claimed twice", s)
				claimed[s] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, producers*perProducer)
}
