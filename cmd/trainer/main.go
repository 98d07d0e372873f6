package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/config"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/envs"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/envs/gridworld"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/policy"
	"github.com/mitchelldurbincs/GridworldPolicyOptimization/internal/train"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "trainer",
		Short: "PPO training over vectorized gridworld environments",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	root.AddCommand(trainCommand(), evalCommand())

	if err := root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func trainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Run the training loop",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := signalContext()
			defer cancel()

			loop := buildLoop()
			if err := loop.Run(ctx); err != nil {
				log.Fatal().Err(err).Msg("Training failed")
			}
			log.Info().Msg("Training finished")
		},
	}
}

func evalCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Run one evaluation pass against a checkpoint",
		Run: func(cmd *cobra.Command, args []string) {
			loop := buildLoop()
			if err := loop.Evaluate(); err != nil {
				log.Fatal().Err(err).Msg("Evaluation failed")
			}
		},
	}
}

// buildLoop wires config, logging, environments and the policy together.
// Any configuration error is fatal before the first environment step.
func buildLoop() *train.Loop {
	if err := config.Init(configPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize config")
	}
	cfg := config.Get()
	setupLogging(cfg.Training.LogLevel, cfg.Training.LogFormat)
	config.WatchConfig(func() {
		setupLogging(cfg.Training.LogLevel, cfg.Training.LogFormat)
		log.Info().Msg("Configuration reloaded")
	})

	if cfg.Env.ID != "gridworld" {
		log.Fatal().Str("env", cfg.Env.ID).Msg("Unknown environment id")
	}

	venv, err := envs.New(trainMakers(cfg), cfg.Training.Synchronous, cfg.Training.Render, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build vector env")
	}

	pol := buildPolicy(cfg, venv)
	loop, err := train.New(cfg, venv, evalEnvMaker(cfg), pol, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build training loop")
	}
	log.Info().Str("run_id", loop.RunID()).Msg("Trainer ready")
	return loop
}

func buildPolicy(cfg *config.Config, venv envs.VectorEnv) policy.Trainable {
	seed := uint64(cfg.Training.Seed)
	if cfg.Agent.Recurrent {
		return policy.NewRecurrent(venv.ObservationSize(), cfg.Agent.HiddenSize, venv.NumActions(), seed)
	}
	return policy.NewCategorical(venv.ObservationSize(), venv.NumActions(), seed)
}

// trainMakers builds one environment maker per process slot, each seeded
// with seed+rank so parallel instances decorrelate.
func trainMakers(cfg *config.Config) []envs.Maker {
	makers := make([]envs.Maker, cfg.Training.NumProcesses)
	for rank := range makers {
		makers[rank] = gridworldMaker(cfg, uint64(cfg.Training.Seed)+uint64(rank), false)
	}
	return makers
}

// evalEnvMaker seeds evaluation instances past the training range and fixes
// deterministic resets.
func evalEnvMaker(cfg *config.Config) train.EvalEnvMaker {
	return func() (envs.VectorEnv, error) {
		makers := make([]envs.Maker, cfg.Training.NumProcesses)
		for rank := range makers {
			seed := uint64(cfg.Training.Seed) + uint64(cfg.Training.NumProcesses+rank)
			makers[rank] = gridworldMaker(cfg, seed, true)
		}
		return envs.New(makers, cfg.Training.Synchronous, false, log.Logger)
	}
}

func gridworldMaker(cfg *config.Config, seed uint64, evaluation bool) envs.Maker {
	gw := gridworld.Config{
		Width:      cfg.Env.Width,
		Height:     cfg.Env.Height,
		TimeLimit:  cfg.Env.TimeLimit,
		Evaluation: evaluation,
		Seed:       seed,
	}
	return func() envs.Environment { return gridworld.New(gw) }
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

func setupLogging(level, format string) {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
}
