// Package config holds the typed rig configuration. One Config value is built
// at startup (defaults, then YAML, then environment) and passed by value into
// every component constructor.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// #region seconds

// Seconds is a duration expressed in (fractional) seconds in YAML.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// #endregion seconds

// #region config

// Config is the complete rig configuration.
type Config struct {
	Session  SessionConfig  `yaml:"session" json:"session"`
	Trial    TrialConfig    `yaml:"trial" json:"trial"`
	Phases   PhaseConfig    `yaml:"phases" json:"phases"`
	Rules    RuleConfig     `yaml:"rules" json:"rules"`
	Analog   AnalogConfig   `yaml:"analog" json:"analog"`
	Camera   CameraConfig   `yaml:"camera" json:"camera"`
	Saver    SaverConfig    `yaml:"saver" json:"saver"`
	Hardware HardwareConfig `yaml:"hardware" json:"hardware"`
	Control  ControlConfig  `yaml:"control" json:"control"`
	Levels   []LevelConfig  `yaml:"levels" json:"levels"`
}

// SessionConfig identifies the session and its lifecycle timing.
type SessionConfig struct {
	Subject       string  `yaml:"subject" json:"subject"`
	Condition     int     `yaml:"condition" json:"condition"`
	Manipulations []int   `yaml:"manipulations" json:"manipulations"` // used by levels that leave manipulation unset
	DataDir       string  `yaml:"data_dir" json:"data_dir"`
	LogLevel      string  `yaml:"log_level" json:"log_level"`
	SyncTimeout   Seconds `yaml:"sync_timeout" json:"sync_timeout"`
	SyncInterval  Seconds `yaml:"sync_interval" json:"sync_interval"`
	PollInterval  Seconds `yaml:"poll_interval" json:"poll_interval"`
	MinITI        Seconds `yaml:"min_iti" json:"min_iti"`
	StopTimeout   Seconds `yaml:"stop_timeout" json:"stop_timeout"`
}

// DistConfig describes a discretized normal duration distribution.
type DistConfig struct {
	Mean Seconds `yaml:"mean" json:"mean"`
	Std  Seconds `yaml:"std" json:"std"`
	N    int     `yaml:"n" json:"n"`
}

// TrialConfig parameterizes trial generation.
type TrialConfig struct {
	RateSum            float64    `yaml:"rate_sum" json:"rate_sum"`
	StimDuration       Seconds    `yaml:"stim_duration" json:"stim_duration"` // length of one puff pulse
	StimPhaseDuration  DistConfig `yaml:"stim_phase_duration" json:"stim_phase_duration"`
	DelayPhaseDuration DistConfig `yaml:"delay_phase_duration" json:"delay_phase_duration"`
	StimPhasePad       [2]Seconds `yaml:"stim_phase_pad" json:"stim_phase_pad"`
	MinISI             Seconds    `yaml:"min_isi" json:"min_isi"`
	NPreviousLevel     int        `yaml:"n_previous_level" json:"n_previous_level"`
	BiasCorrection     int        `yaml:"bias_correction" json:"bias_correction"`
	MaxBiasCorrection  float64    `yaml:"max_bias_correction" json:"max_bias_correction"`
	HistoryWindow      int        `yaml:"history_window" json:"history_window"`
	Seed               uint64     `yaml:"seed" json:"seed"` // 0 seeds from the clock
}

// PhaseConfig holds fixed phase durations. Stimulus and delay durations come
// from the trial plan.
type PhaseConfig struct {
	Intro                    Seconds `yaml:"intro" json:"intro"`
	Response                 Seconds `yaml:"response" json:"response"`
	Reward                   Seconds `yaml:"reward" json:"reward"`
	ITI                      Seconds `yaml:"iti" json:"iti"`
	PenaltyITIFrac           float64 `yaml:"penalty_iti_frac" json:"penalty_iti_frac"`
	EnforceStimPhaseDuration bool    `yaml:"enforce_stim_phase_duration" json:"enforce_stim_phase_duration"`
	Tick                     Seconds `yaml:"tick" json:"tick"`
}

// RuleConfig holds session-wide behavioral rule switches.
type RuleConfig struct {
	HoldRule     bool    `yaml:"hold_rule" json:"hold_rule"`
	PuffsOn      bool    `yaml:"puffs_on" json:"puffs_on"`
	RewardsOn    bool    `yaml:"rewards_on" json:"rewards_on"`
	HintInterval Seconds `yaml:"hint_interval" json:"hint_interval"`
}

// AnalogConfig configures the analog input stream (lick and motion sensors).
type AnalogConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Name          string   `yaml:"name" json:"name"`
	Ports         []string `yaml:"ports" json:"ports"`
	PortNames     []string `yaml:"port_names" json:"port_names"`
	RuntimePorts  [2]int   `yaml:"runtime_ports" json:"runtime_ports"` // left, right lick ports
	MotionPort    int      `yaml:"motion_port" json:"motion_port"`     // -1 disables motion detection
	MotionThresh  float64  `yaml:"motion_thresh" json:"motion_thresh"`
	MotionWindow  int      `yaml:"motion_window" json:"motion_window"`
	LickThresh    float64  `yaml:"lick_thresh" json:"lick_thresh"`
	HoldingThresh Seconds  `yaml:"holding_thresh" json:"holding_thresh"`
	SampleRate    float64  `yaml:"sample_rate" json:"sample_rate"`
	ReadBlock     int      `yaml:"read_block" json:"read_block"`
	History       int      `yaml:"history" json:"history"`
	SaveBuffer    int      `yaml:"save_buffer" json:"save_buffer"`
	MinFlush      int      `yaml:"min_flush" json:"min_flush"`
	ReadTimeout   Seconds  `yaml:"read_timeout" json:"read_timeout"`
}

// CameraConfig configures the camera stream and eyelid extraction.
type CameraConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Name         string  `yaml:"name" json:"name"`
	Width        int     `yaml:"width" json:"width"`
	Height       int     `yaml:"height" json:"height"`
	FPS          float64 `yaml:"fps" json:"fps"`
	History      int     `yaml:"history" json:"history"`
	MinFlush     int     `yaml:"min_flush" json:"min_flush"`
	Buffer       int     `yaml:"buffer" json:"buffer"`
	ReadTimeout  Seconds `yaml:"read_timeout" json:"read_timeout"`
	StallResets  int     `yaml:"stall_resets" json:"stall_resets"`
	EyelidWindow int     `yaml:"eyelid_window" json:"eyelid_window"`
	EyelidThresh float64 `yaml:"eyelid_thresh" json:"eyelid_thresh"`
}

// SaverConfig configures the durable writer.
type SaverConfig struct {
	FieldBufferSize int     `yaml:"field_buffer_size" json:"field_buffer_size"`
	QueueSize       int     `yaml:"queue_size" json:"queue_size"`
	EnqueueTimeout  Seconds `yaml:"enqueue_timeout" json:"enqueue_timeout"`
	BackupPath      string  `yaml:"backup_path" json:"backup_path"`
}

// HardwareConfig names the digital output lines driven by the controller.
type HardwareConfig struct {
	StimLines      [2]string  `yaml:"stim_lines" json:"stim_lines"`
	RewardLines    [2]string  `yaml:"reward_lines" json:"reward_lines"`
	RewardDuration [2]Seconds `yaml:"reward_duration" json:"reward_duration"`
	LightLine      string     `yaml:"light_line" json:"light_line"`
	ManipLine      string     `yaml:"manip_line" json:"manip_line"`
}

// ControlConfig configures the operator control service.
type ControlConfig struct {
	Addr string `yaml:"addr" json:"addr"` // empty disables the service
}

// CriteriaConfig holds level-advancement criteria.
type CriteriaConfig struct {
	N     int     `yaml:"n" json:"n"`
	Win   int     `yaml:"win" json:"win"`
	Perc  float64 `yaml:"perc" json:"perc"`
	Bias  float64 `yaml:"bias" json:"bias"`
	Valid float64 `yaml:"valid" json:"valid"`
}

// LevelConfig is one rung of the training ladder.
type LevelConfig struct {
	Criteria           CriteriaConfig `yaml:"criteria" json:"criteria"`
	Rule               string         `yaml:"rule" json:"rule"`
	Ratio              []float64      `yaml:"ratio" json:"ratio"`
	Manipulation       []int          `yaml:"manipulation" json:"manipulation"`
	StimPhaseDuration  *DistConfig    `yaml:"stim_phase_duration,omitempty" json:"stim_phase_duration,omitempty"`
	DelayPhaseDuration *DistConfig    `yaml:"delay_phase_duration,omitempty" json:"delay_phase_duration,omitempty"`
}

// #endregion config

// #region load

// Load reads a YAML file over the defaults, applies environment overrides and
// validates the result. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := decode(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg = ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected fields from RIG_* environment variables.
func ApplyEnv(cfg Config) Config {
	cfg.Session.DataDir = envOr("RIG_DATA_DIR", cfg.Session.DataDir)
	cfg.Session.LogLevel = envOr("RIG_LOG_LEVEL", cfg.Session.LogLevel)
	cfg.Session.Subject = envOr("RIG_SUBJECT", cfg.Session.Subject)
	cfg.Control.Addr = envOr("RIG_CONTROL_ADDR", cfg.Control.Addr)
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load
