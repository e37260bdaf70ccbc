package flowcontrol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateFollowsLimit(t *testing.T) {
	limit := NewPosition(1024)
	gate := NewGate(limit)

	assert.True(t, gate.Check(0))
	assert.True(t, gate.Check(1024))
	assert.False(t, gate.Check(1025))

	limit.SetOrdered(4096)
	assert.True(t, gate.Check(1025))
	assert.Equal(t, int64(4096), gate.Limit())
}

func TestZeroLimitRefusesEverything(t *testing.T) {
	gate := NewGate(&Position{})
	assert.True(t, gate.Check(0))
	assert.False(t, gate.Check(32))
}

func TestProposeMaxNeverMovesBack(t *testing.T) {
	p := NewPosition(100)

	assert.False(t, p.ProposeMax(50))
	assert.False(t, p.ProposeMax(100))
	assert.True(t, p.ProposeMax(200))
	assert.Equal(t, int64(200), p.GetVolatile())
}

func TestProposeMaxConcurrent(t *testing.T) {
	p := &Position{}
	var wg sync.WaitGroup

	for i := int64(1); i <= 64; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			p.ProposeMax(v * 32)
		}(i)
	}
	wg.Wait()

	require.Equal(t, int64(64*32), p.GetVolatile())
}
