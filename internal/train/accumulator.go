package train

// EpisodeAccumulator tracks the running reward sum and length of the episode
// currently playing in one environment slot. The training loop owns one
// accumulator per slot and finishes it when that slot reports done.
type EpisodeAccumulator struct {
	reward float64
	length int
}

// Observe adds one step's reward.
func (a *EpisodeAccumulator) Observe(reward float64) {
	a.reward += reward
	a.length++
}

// Finish returns the completed episode's totals and resets for the next
// episode in the same slot.
func (a *EpisodeAccumulator) Finish() (reward float64, length int) {
	reward, length = a.reward, a.length
	a.reward, a.length = 0, 0
	return reward, length
}

func newAccumulators(n int) []*EpisodeAccumulator {
	out := make([]*EpisodeAccumulator, n)
	for i := range out {
		out[i] = &EpisodeAccumulator{}
	}
	return out
}
