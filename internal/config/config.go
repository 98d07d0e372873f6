package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for a training run
type Config struct {
	Training TrainingConfig `mapstructure:"training"`
	PPO      PPOConfig      `mapstructure:"ppo"`
	Rollout  RolloutConfig  `mapstructure:"rollout"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Env      EnvConfig      `mapstructure:"env"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// TrainingConfig holds outer-loop settings
type TrainingConfig struct {
	NumEpochs     int    `mapstructure:"num_epochs"`
	NumProcesses  int    `mapstructure:"num_processes"`
	TrainSteps    int    `mapstructure:"train_steps"`
	Seed          int64  `mapstructure:"seed"`
	LogInterval   int    `mapstructure:"log_interval"`
	EvalInterval  int    `mapstructure:"eval_interval"`
	EvalSteps     int    `mapstructure:"eval_steps"`
	SaveInterval  int    `mapstructure:"save_interval"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	LoadPath      string `mapstructure:"load_path"`
	Synchronous   bool   `mapstructure:"synchronous"`
	Render        bool   `mapstructure:"render"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
}

// PPOConfig holds the clipped-objective optimizer settings
type PPOConfig struct {
	ClipParam           float64 `mapstructure:"clip_param"`
	PPOEpoch            int     `mapstructure:"ppo_epoch"`
	NumMinibatches      int     `mapstructure:"num_minibatches"`
	ValueLossCoef       float64 `mapstructure:"value_loss_coef"`
	EntropyCoef         float64 `mapstructure:"entropy_coef"`
	LearningRate        float64 `mapstructure:"learning_rate"`
	Eps                 float64 `mapstructure:"eps"`
	MaxGradNorm         float64 `mapstructure:"max_grad_norm"`
	UseClippedValueLoss bool    `mapstructure:"use_clipped_value_loss"`
}

// RolloutConfig holds return-computation settings
type RolloutConfig struct {
	Gamma  float64 `mapstructure:"gamma"`
	Tau    float64 `mapstructure:"tau"`
	UseGAE bool    `mapstructure:"use_gae"`
}

// AgentConfig holds policy network settings
type AgentConfig struct {
	HiddenSize int  `mapstructure:"hidden_size"`
	Recurrent  bool `mapstructure:"recurrent"`
}

// EnvConfig holds environment settings
type EnvConfig struct {
	ID        string `mapstructure:"id"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	TimeLimit int    `mapstructure:"time_limit"`
}

// MetricsConfig holds metrics emission settings
type MetricsConfig struct {
	PlotPath string `mapstructure:"plot_path"`
}

var (
	// Global config instance
	cfg *Config
	v   *viper.Viper
)

// setViperDefaults sets all default values using Viper's SetDefault
func setViperDefaults(v *viper.Viper) {
	// Training defaults
	v.SetDefault("training.num_epochs", 1000)
	v.SetDefault("training.num_processes", 8)
	v.SetDefault("training.train_steps", 32)
	v.SetDefault("training.seed", 0)
	v.SetDefault("training.log_interval", 10)
	v.SetDefault("training.eval_interval", 0)
	v.SetDefault("training.eval_steps", 128)
	v.SetDefault("training.save_interval", 100)
	v.SetDefault("training.checkpoint_dir", "")
	v.SetDefault("training.load_path", "")
	v.SetDefault("training.synchronous", false)
	v.SetDefault("training.render", false)
	v.SetDefault("training.log_level", "info")
	v.SetDefault("training.log_format", "console")

	// PPO defaults
	v.SetDefault("ppo.clip_param", 0.2)
	v.SetDefault("ppo.ppo_epoch", 4)
	v.SetDefault("ppo.num_minibatches", 4)
	v.SetDefault("ppo.value_loss_coef", 0.5)
	v.SetDefault("ppo.entropy_coef", 0.01)
	v.SetDefault("ppo.learning_rate", 2.5e-4)
	v.SetDefault("ppo.eps", 1e-5)
	v.SetDefault("ppo.max_grad_norm", 0.5)
	v.SetDefault("ppo.use_clipped_value_loss", true)

	// Rollout defaults
	v.SetDefault("rollout.gamma", 0.99)
	v.SetDefault("rollout.tau", 0.95)
	v.SetDefault("rollout.use_gae", true)

	// Agent defaults
	v.SetDefault("agent.hidden_size", 64)
	v.SetDefault("agent.recurrent", false)

	// Env defaults
	v.SetDefault("env.id", "gridworld")
	v.SetDefault("env.width", 5)
	v.SetDefault("env.height", 5)
	v.SetDefault("env.time_limit", 50)

	// Metrics defaults
	v.SetDefault("metrics.plot_path", "")
}

// Init initializes the configuration from file, environment and defaults
func Init(configPath string) error {
	v = viper.New()

	// Set defaults before loading any config
	setViperDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gridworld-po")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("GPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			// Specific file requested but not found - that's ok, use defaults
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// For default locations, only ignore ConfigFileNotFoundError
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults
	}

	// Unmarshal into config struct
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// Get returns the global config, initializing with defaults if needed
func Get() *Config {
	if cfg == nil {
		if err := Init(""); err != nil {
			panic("failed to initialize config with defaults: " + err.Error())
		}
	}
	return cfg
}

// GetViper returns the underlying viper instance
func GetViper() *viper.Viper {
	if v == nil {
		panic("config not initialized - call Init() first")
	}
	return v
}

// Set overrides a config value at runtime (mainly for tests and CLI flags)
func Set(key string, value interface{}) {
	if v == nil {
		panic("config not initialized - call Init() first")
	}
	v.Set(key, value)
	_ = v.Unmarshal(cfg)
}

// WatchConfig watches the config file and re-unmarshals on change
func WatchConfig(onChange func()) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		// Re-unmarshal on change
		_ = v.Unmarshal(cfg)
		if onChange != nil {
			onChange()
		}
	})
}

// Validate checks configuration invariants before any environment interaction
func Validate(c *Config) error {
	if c.Training.NumEpochs <= 0 {
		return fmt.Errorf("training.num_epochs must be positive")
	}
	if c.Training.NumProcesses <= 0 {
		return fmt.Errorf("training.num_processes must be positive")
	}
	if c.Training.TrainSteps <= 0 {
		return fmt.Errorf("training.train_steps must be positive")
	}
	if c.Training.LogInterval <= 0 {
		return fmt.Errorf("training.log_interval must be positive")
	}
	if c.Training.EvalInterval < 0 {
		return fmt.Errorf("training.eval_interval must be non-negative")
	}
	if c.Training.EvalInterval > 0 && c.Training.EvalSteps <= 0 {
		return fmt.Errorf("training.eval_steps must be positive when evaluation is enabled")
	}
	if c.Training.SaveInterval < 0 {
		return fmt.Errorf("training.save_interval must be non-negative")
	}

	if c.PPO.ClipParam <= 0 || c.PPO.ClipParam >= 1 {
		return fmt.Errorf("ppo.clip_param must be in (0, 1)")
	}
	if c.PPO.PPOEpoch <= 0 {
		return fmt.Errorf("ppo.ppo_epoch must be positive")
	}
	if c.PPO.NumMinibatches <= 0 {
		return fmt.Errorf("ppo.num_minibatches must be positive")
	}
	if c.Agent.Recurrent {
		if c.PPO.NumMinibatches > c.Training.NumProcesses {
			return fmt.Errorf("ppo.num_minibatches must not exceed training.num_processes for a recurrent agent")
		}
	} else if c.PPO.NumMinibatches > c.Training.TrainSteps*c.Training.NumProcesses {
		return fmt.Errorf("ppo.num_minibatches must not exceed train_steps * num_processes")
	}
	if c.PPO.LearningRate <= 0 {
		return fmt.Errorf("ppo.learning_rate must be positive")
	}
	if c.PPO.Eps <= 0 {
		return fmt.Errorf("ppo.eps must be positive")
	}
	if c.PPO.MaxGradNorm < 0 {
		return fmt.Errorf("ppo.max_grad_norm must be non-negative")
	}

	if c.Rollout.Gamma < 0 || c.Rollout.Gamma >= 1 {
		return fmt.Errorf("rollout.gamma must be in [0, 1)")
	}
	if c.Rollout.Tau < 0 || c.Rollout.Tau > 1 {
		return fmt.Errorf("rollout.tau must be in [0, 1]")
	}

	if c.Agent.HiddenSize <= 0 {
		return fmt.Errorf("agent.hidden_size must be positive")
	}

	if c.Env.Width <= 0 || c.Env.Height <= 0 {
		return fmt.Errorf("env dimensions must be positive")
	}
	if c.Env.TimeLimit <= 0 {
		return fmt.Errorf("env.time_limit must be positive")
	}

	return nil
}
