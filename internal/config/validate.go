package config

import (
	"errors"
	"fmt"
)

var knownRules = map[string]bool{
	"passive": true,
	"phase":   true,
	"fault":   true,
	"hint":    true,
	"full":    true,
}

// Validate reports every out-of-range or missing field. The returned error
// joins one error per violation.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Session.SyncTimeout <= 0 {
		add("session.sync_timeout must be positive")
	}
	if c.Session.PollInterval <= 0 {
		add("session.poll_interval must be positive")
	}
	if c.Session.DataDir == "" {
		add("session.data_dir is required")
	}
	if len(c.Session.Manipulations) == 0 {
		add("session.manipulations must not be empty")
	}
	for _, m := range c.Session.Manipulations {
		if m < 0 || m > 5 {
			add("session.manipulations: unknown code %d", m)
		}
	}

	if c.Trial.RateSum <= 0 {
		add("trial.rate_sum must be positive")
	}
	if c.Trial.MinISI <= 0 {
		add("trial.min_isi must be positive")
	}
	if c.Trial.BiasCorrection < 0 {
		add("trial.bias_correction must be >= 0")
	}
	if c.Trial.MaxBiasCorrection <= 0 || c.Trial.MaxBiasCorrection >= 1 {
		add("trial.max_bias_correction must be in (0,1)")
	}
	if c.Trial.NPreviousLevel < 0 {
		add("trial.n_previous_level must be >= 0")
	}

	if c.Phases.PenaltyITIFrac < 1 {
		add("phases.penalty_iti_frac must be >= 1")
	}
	if c.Phases.Tick <= 0 {
		add("phases.tick must be positive")
	}

	if c.Analog.Enabled {
		if c.Analog.History <= 0 {
			add("analog.history must be positive")
		}
		if c.Analog.SaveBuffer <= 0 {
			add("analog.save_buffer must be positive")
		}
		if c.Analog.SampleRate <= 0 {
			add("analog.sample_rate must be positive")
		}
		for _, p := range c.Analog.RuntimePorts {
			if p < 0 || p >= len(c.Analog.Ports) {
				add("analog.runtime_ports: port %d out of range", p)
			}
		}
		if c.Analog.MotionPort >= len(c.Analog.Ports) {
			add("analog.motion_port: port %d out of range", c.Analog.MotionPort)
		}
		if len(c.Analog.PortNames) != len(c.Analog.Ports) {
			add("analog.port_names must name every port")
		}
	}
	if c.Camera.Enabled {
		if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
			add("camera.width and camera.height must be positive")
		}
		if c.Camera.Buffer <= 0 || c.Camera.MinFlush > c.Camera.Buffer {
			add("camera.buffer must be positive and >= camera.min_flush")
		}
	}

	if c.Saver.FieldBufferSize <= 0 {
		add("saver.field_buffer_size must be positive")
	}
	if c.Saver.QueueSize <= 0 {
		add("saver.queue_size must be positive")
	}

	if len(c.Levels) == 0 {
		add("levels must not be empty")
	}
	for i, l := range c.Levels {
		if !knownRules[l.Rule] {
			add("levels[%d]: unknown rule %q", i, l.Rule)
		}
		if len(l.Ratio) == 0 {
			add("levels[%d]: ratio must not be empty", i)
		}
		for _, r := range l.Ratio {
			if r < 1 {
				add("levels[%d]: ratio %v must be >= 1", i, r)
			}
		}
		if l.Criteria.Win <= 0 {
			add("levels[%d]: criteria.win must be positive", i)
		}
		if l.Criteria.Perc < 0 || l.Criteria.Perc > 1 || l.Criteria.Valid < 0 || l.Criteria.Valid > 1 {
			add("levels[%d]: criteria fractions must be in [0,1]", i)
		}
	}

	return errors.Join(errs...)
}
