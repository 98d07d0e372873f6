package envs

import (
	"fmt"

	"github.com/rs/zerolog"
)

type cmdKind int

const (
	cmdReset cmdKind = iota
	cmdStep
)

type workerCmd struct {
	kind   cmdKind
	action int
}

type workerReply struct {
	obs        []float64
	reward     float64
	done       bool
	info       Info
	obsSize    int
	numActions int
	err        error
}

// envWorker owns exactly one environment instance on its own goroutine.
// Communication is strict request/response: the orchestrator never has more
// than one command in flight per worker.
type envWorker struct {
	cmds    chan workerCmd
	replies chan workerReply
}

func startWorker(id int, mk Maker, logger zerolog.Logger) *envWorker {
	w := &envWorker{
		cmds:    make(chan workerCmd),
		replies: make(chan workerReply),
	}
	go w.run(id, mk, logger)
	return w
}

func (w *envWorker) run(id int, mk Maker, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Int("worker", id).Interface("panic", r).Msg("Environment worker panicked")
			w.replies <- workerReply{err: fmt.Errorf("worker %d: %v", id, r)}
		}
		close(w.replies)
	}()

	// Unprompted handshake: the orchestrator only receives during startup,
	// so a panicking constructor surfaces as an error reply instead of
	// deadlocking the command exchange.
	env := mk()
	w.replies <- workerReply{
		obsSize:    env.ObservationSize(),
		numActions: env.NumActions(),
	}

	for cmd := range w.cmds {
		switch cmd.kind {
		case cmdReset:
			w.replies <- workerReply{obs: env.Reset()}
		case cmdStep:
			obs, reward, done, info := env.Step(cmd.action)
			if done {
				obs = env.Reset()
			}
			w.replies <- workerReply{obs: obs, reward: reward, done: done, info: info}
		}
	}
}

// ParallelVectorEnv runs one worker goroutine per environment instance.
// Step is a synchronization barrier: the action batch is broadcast and the
// call blocks until every worker has answered, so a single slow worker
// delays the whole step. Any worker failure is fatal for the run.
type ParallelVectorEnv struct {
	workers []*envWorker
	obsSize int
	actions int
	closed  bool
	logger  zerolog.Logger
}

func newParallelVectorEnv(makers []Maker, logger zerolog.Logger) (*ParallelVectorEnv, error) {
	v := &ParallelVectorEnv{
		workers: make([]*envWorker, len(makers)),
		logger:  logger.With().Str("component", "parallel_vector_env").Logger(),
	}
	for i, mk := range makers {
		v.workers[i] = startWorker(i, mk, v.logger)
	}

	// Each worker announces its space sizes once its env is constructed.
	for i, w := range v.workers {
		reply, ok := <-w.replies
		if !ok || reply.err != nil {
			v.abort()
			return nil, fmt.Errorf("%w: worker %d died during startup: %v", ErrWorkerFailed, i, reply.err)
		}
		v.obsSize = reply.obsSize
		v.actions = reply.numActions
	}
	v.logger.Debug().Int("num_envs", len(makers)).Msg("Created parallel vector env")
	return v, nil
}

func (v *ParallelVectorEnv) Reset() ([][]float64, error) {
	if v.closed {
		return nil, ErrClosed
	}
	for _, w := range v.workers {
		w.cmds <- workerCmd{kind: cmdReset}
	}
	obs := make([][]float64, len(v.workers))
	for i, w := range v.workers {
		reply, ok := <-w.replies
		if !ok || reply.err != nil {
			v.abort()
			return nil, fmt.Errorf("%w: worker %d: %v", ErrWorkerFailed, i, reply.err)
		}
		obs[i] = reply.obs
	}
	return obs, nil
}

func (v *ParallelVectorEnv) Step(actions []int) (*StepResult, error) {
	if v.closed {
		return nil, ErrClosed
	}
	if err := validateActions(actions, len(v.workers)); err != nil {
		return nil, err
	}

	for i, w := range v.workers {
		w.cmds <- workerCmd{kind: cmdStep, action: actions[i]}
	}

	res := &StepResult{
		Obs:     make([][]float64, len(v.workers)),
		Rewards: make([]float64, len(v.workers)),
		Dones:   make([]bool, len(v.workers)),
		Infos:   make([]Info, len(v.workers)),
	}
	for i, w := range v.workers {
		reply, ok := <-w.replies
		if !ok || reply.err != nil {
			v.abort()
			return nil, fmt.Errorf("%w: worker %d: %v", ErrWorkerFailed, i, reply.err)
		}
		res.Obs[i] = reply.obs
		res.Rewards[i] = reply.reward
		res.Dones[i] = reply.done
		res.Infos[i] = reply.info
	}
	return res, nil
}

func (v *ParallelVectorEnv) Num() int             { return len(v.workers) }
func (v *ParallelVectorEnv) ObservationSize() int { return v.obsSize }
func (v *ParallelVectorEnv) NumActions() int      { return v.actions }

func (v *ParallelVectorEnv) Close() error {
	if v.closed {
		return nil
	}
	v.abort()
	return nil
}

func (v *ParallelVectorEnv) abort() {
	v.closed = true
	for _, w := range v.workers {
		close(w.cmds)
		// Drain so workers blocked on a pending reply can exit.
		go func(replies chan workerReply) {
			for range replies {
			}
		}(w.replies)
	}
}
