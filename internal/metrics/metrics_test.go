package metrics

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorMean(t *testing.T) {
	c := NewCollector()
	c.Add("reward", 1, 2, 3)

	mean, ok := c.Mean("reward")
	require.True(t, ok)
	assert.Equal(t, 2.0, mean)
	assert.Equal(t, 3, c.Count("reward"))

	_, ok = c.Mean("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Count("missing"))
}

func TestCollectorMeans(t *testing.T) {
	c := NewCollector()
	c.Add("a", 1, 3)
	c.Add("b", 10)

	means := c.Means()
	assert.Equal(t, map[string]float64{"a": 2, "b": 10}, means)
}

func TestEmitReturnsAndResets(t *testing.T) {
	c := NewCollector()
	c.Add("loss", 0.5, 1.5)

	means := c.Emit(zerolog.Nop(), 7)
	assert.Equal(t, map[string]float64{"loss": 1}, means)
	assert.Equal(t, 0, c.Count("loss"))
}

func TestCollectorConcurrentAdd(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Add("hits", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, c.Count("hits"))
}

func TestSavePlotWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.png")
	err := SavePlot(path, "Reward", "mean reward",
		Series{Name: "run", Values: []float64{0.1, 0.4, 0.8}})
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestSavePlotRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curve.png")
	err := SavePlot(path, "Reward", "mean reward")
	assert.Error(t, err)
}
