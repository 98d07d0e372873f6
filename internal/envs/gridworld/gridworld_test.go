package gridworld

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{Width: 3, Height: 3, TimeLimit: 20, Seed: 1}
}

func agentCell(obs []float64) int {
	for i, v := range obs {
		if v == 1 {
			return i
		}
	}
	return -1
}

func TestEvaluationResetIsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation = true
	e := New(cfg)

	for i := 0; i < 5; i++ {
		obs := e.Reset()
		assert.Equal(t, 0, agentCell(obs), "evaluation episodes start in the top-left corner")
	}
}

func TestTrainingResetNeverStartsOnGoal(t *testing.T) {
	e := New(testConfig())
	goal := e.cfg.Width*e.cfg.Height - 1
	for i := 0; i < 200; i++ {
		obs := e.Reset()
		assert.NotEqual(t, goal, agentCell(obs))
	}
}

func TestObservationIsOneHot(t *testing.T) {
	e := New(testConfig())
	obs := e.Reset()
	require.Len(t, obs, 9)
	var sum float64
	for _, v := range obs {
		sum += v
	}
	assert.Equal(t, 1.0, sum)
}

func TestReachingGoalTerminatesWithReward(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation = true
	e := New(cfg)
	e.Reset()

	// Walk the bottom-right corner: two down, two right on a 3x3 grid.
	steps := []int{ActionDown, ActionDown, ActionRight, ActionRight}
	for i, a := range steps {
		obs, reward, done, info := e.Step(a)
		if i < len(steps)-1 {
			assert.False(t, done, "step %d", i)
			assert.Equal(t, stepPenalty, reward)
			assert.Nil(t, info)
			continue
		}
		assert.True(t, done)
		assert.Equal(t, goalReward, reward)
		assert.Equal(t, 8, agentCell(obs))
		require.NotNil(t, info)
		assert.Equal(t, 1.0, info["success"])
	}
}

func TestWallsBlockMovement(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation = true
	e := New(cfg)
	e.Reset()

	obs, _, _, _ := e.Step(ActionUp)
	assert.Equal(t, 0, agentCell(obs))
	obs, _, _, _ = e.Step(ActionLeft)
	assert.Equal(t, 0, agentCell(obs))
}

func TestTimeLimitTruncates(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation = true
	cfg.TimeLimit = 3
	e := New(cfg)
	e.Reset()

	for i := 0; i < 2; i++ {
		_, _, done, _ := e.Step(ActionUp)
		require.False(t, done)
	}
	_, reward, done, info := e.Step(ActionUp)
	assert.True(t, done)
	assert.Equal(t, stepPenalty, reward)
	require.NotNil(t, info)
	assert.Equal(t, 0.0, info["success"])
}

func TestResetClearsStepCounter(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation = true
	cfg.TimeLimit = 2
	e := New(cfg)
	e.Reset()

	e.Step(ActionUp)
	_, _, done, _ := e.Step(ActionUp)
	require.True(t, done)

	e.Reset()
	_, _, done, _ = e.Step(ActionUp)
	assert.False(t, done)
}
