package config

// #region defaults

var (
	defaultRatio = []float64{8.0}
	finalRatios  = []float64{1.5, 2.0, 4.0, 8.0}

	stimPhaseDurs = []DistConfig{
		{Mean: 0.5, Std: 0.1, N: 10},
		{Mean: 0.7, Std: 0.13, N: 10},
		{Mean: 1.0, Std: 0.2, N: 10},
	}
	delayPhaseDurs = []DistConfig{
		{Mean: 0.2, Std: 0.1, N: 10},
		{Mean: 0.4, Std: 0.13, N: 10},
		{Mean: 0.7, Std: 0.2, N: 10},
	}
)

// Default returns the standard rig parameters.
func Default() Config {
	return Config{
		Session: SessionConfig{
			Subject:       "",
			Manipulations: []int{0},
			DataDir:       "data",
			LogLevel:      "info",
			SyncTimeout:   10.0,
			SyncInterval:  0.001,
			PollInterval:  0.005,
			MinITI:        0.0,
			StopTimeout:   10.0,
		},
		Trial: TrialConfig{
			RateSum:            5.0,
			StimDuration:       0.040,
			StimPhaseDuration:  DistConfig{Mean: 1.5, Std: 0.4, N: 10},
			DelayPhaseDuration: DistConfig{Mean: 1.5, Std: 0.4, N: 10},
			StimPhasePad:       [2]Seconds{0.0, 0.050},
			MinISI:             0.070,
			NPreviousLevel:     20,
			BiasCorrection:     8,
			MaxBiasCorrection:  0.1,
			HistoryWindow:      15,
		},
		Phases: PhaseConfig{
			Intro:                    1.0,
			Response:                 4.0,
			Reward:                   4.0,
			ITI:                      3.5,
			PenaltyITIFrac:           2.0,
			EnforceStimPhaseDuration: true,
			Tick:                     0.002,
		},
		Rules: RuleConfig{
			HoldRule:     true,
			PuffsOn:      true,
			RewardsOn:    true,
			HintInterval: 0.200,
		},
		Analog: AnalogConfig{
			Enabled:       true,
			Name:          "analogreader",
			Ports:         []string{"ai0", "ai1", "ai5", "ai6"},
			PortNames:     []string{"lickl", "lickr", "puffl", "puffr"},
			RuntimePorts:  [2]int{0, 1},
			MotionPort:    -1,
			MotionThresh:  0.5,
			MotionWindow:  50,
			LickThresh:    6.0,
			HoldingThresh: 1.0,
			SampleRate:    500.0,
			ReadBlock:     10,
			History:       2000,
			SaveBuffer:    8000,
			MinFlush:      500,
			ReadTimeout:   0.5,
		},
		Camera: CameraConfig{
			Enabled:      false,
			Name:         "cam0",
			Width:        320,
			Height:       240,
			FPS:          60,
			History:      300,
			MinFlush:     200,
			Buffer:       6000,
			ReadTimeout:  0.5,
			StallResets:  10,
			EyelidWindow: 5,
			EyelidThresh: 128,
		},
		Saver: SaverConfig{
			FieldBufferSize: 10,
			QueueSize:       4096,
			EnqueueTimeout:  0.050,
			BackupPath:      "crash.backup",
		},
		Hardware: HardwareConfig{
			StimLines:      [2]string{"port0/line0", "port0/line1"},
			RewardLines:    [2]string{"port0/line2", "port0/line3"},
			RewardDuration: [2]Seconds{0.106, 0.108},
			LightLine:      "port0/line4",
			ManipLine:      "port0/line5",
		},
		Levels: DefaultLevels(),
	}
}

// DefaultLevels returns the ten-level training ladder. Level indices are
// persisted with every trial, so entries must not be reordered.
func DefaultLevels() []LevelConfig {
	lvl := func(c CriteriaConfig, rule string, ratio []float64, stim, delay *DistConfig) LevelConfig {
		return LevelConfig{Criteria: c, Rule: rule, Ratio: ratio, StimPhaseDuration: stim, DelayPhaseDuration: delay}
	}
	return []LevelConfig{
		lvl(CriteriaConfig{N: 80, Win: 45, Perc: 0.0, Bias: 1.0, Valid: 0.6}, "passive", defaultRatio, nil, nil),
		lvl(CriteriaConfig{N: 40, Win: 40, Perc: 0.1, Bias: 1.0, Valid: 0.5}, "phase", defaultRatio, &stimPhaseDurs[0], &delayPhaseDurs[0]),
		lvl(CriteriaConfig{N: 40, Win: 40, Perc: 0.1, Bias: 1.0, Valid: 0.6}, "phase", defaultRatio, &stimPhaseDurs[1], &delayPhaseDurs[1]),
		lvl(CriteriaConfig{N: 40, Win: 40, Perc: 0.1, Bias: 1.0, Valid: 0.6}, "phase", defaultRatio, &stimPhaseDurs[2], &delayPhaseDurs[2]),
		lvl(CriteriaConfig{N: 120, Win: 40, Perc: 0.3, Bias: 0.7, Valid: 0.7}, "phase", defaultRatio, nil, nil),
		lvl(CriteriaConfig{N: 120, Win: 40, Perc: 0.7, Bias: 0.6, Valid: 0.6}, "fault", defaultRatio, nil, nil),
		lvl(CriteriaConfig{N: 120, Win: 40, Perc: 0.8, Bias: 0.6, Valid: 0.65}, "hint", defaultRatio, nil, nil),
		lvl(CriteriaConfig{N: 12000, Win: 40, Perc: 0.8, Bias: 0.6, Valid: 0.65}, "full", defaultRatio, nil, &delayPhaseDurs[2]),
		lvl(CriteriaConfig{N: 120, Win: 40, Perc: 0.8, Bias: 0.6, Valid: 0.65}, "full", defaultRatio, nil, nil),
		lvl(CriteriaConfig{N: 500, Win: 500, Perc: 0.9, Bias: 0.5, Valid: 0.9}, "full", finalRatios, nil, nil),
	}
}

// #endregion defaults
