package workflow

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryPolicy bounds transient-failure retries of a step.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// Backoff returns the delay before the retry that follows the given number
// of consecutive failures (1-based).
func (p RetryPolicy) Backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(failures-1))
	if d > float64(p.MaxBackoff) || math.IsInf(d, 0) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

func (p RetryPolicy) withDefaults(def RetryPolicy) RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// PollPolicy controls how often a poll-step is re-invoked and how long it may
// wait in total before failing with a timeout.
type PollPolicy struct {
	Interval time.Duration `yaml:"interval"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

func (p PollPolicy) withDefaults(def PollPolicy) PollPolicy {
	if p.Interval == 0 {
		p.Interval = def.Interval
	}
	if p.MaxWait == 0 {
		p.MaxWait = def.MaxWait
	}
	return p
}

// StepPolicy overrides the defaults for a single step name.
type StepPolicy struct {
	Retry *RetryPolicy `yaml:"retry"`
	Poll  *PollPolicy  `yaml:"poll"`
}

// Policy is the engine's retry and polling configuration.
type Policy struct {
	DefaultRetry RetryPolicy           `yaml:"default_retry"`
	DefaultPoll  PollPolicy            `yaml:"default_poll"`
	Steps        map[string]StepPolicy `yaml:"steps"`
}

// DefaultPolicy is used when no policy file is configured.
func DefaultPolicy() Policy {
	return Policy{
		DefaultRetry: RetryPolicy{
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			Multiplier:     2,
		},
		DefaultPoll: PollPolicy{
			Interval: 15 * time.Second,
			MaxWait:  30 * time.Minute,
		},
	}
}

// LoadPolicy reads a YAML policy file. Values the file leaves out keep their
// DefaultPolicy values.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy document.
func ParsePolicy(data []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	def := DefaultPolicy()
	p.DefaultRetry = p.DefaultRetry.withDefaults(def.DefaultRetry)
	p.DefaultPoll = p.DefaultPoll.withDefaults(def.DefaultPoll)
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects policies that would retry forever or never back off.
func (p Policy) Validate() error {
	check := func(name string, r RetryPolicy) error {
		if r.MaxAttempts < 1 {
			return fmt.Errorf("%s: max_attempts must be at least 1", name)
		}
		if r.InitialBackoff <= 0 || r.MaxBackoff < r.InitialBackoff {
			return fmt.Errorf("%s: backoff bounds are invalid", name)
		}
		if r.Multiplier < 1 {
			return fmt.Errorf("%s: multiplier must be >= 1", name)
		}
		return nil
	}
	checkPoll := func(name string, pp PollPolicy) error {
		if pp.Interval <= 0 || pp.MaxWait < pp.Interval {
			return fmt.Errorf("%s: poll interval and max_wait are invalid", name)
		}
		return nil
	}

	if err := check("default_retry", p.DefaultRetry); err != nil {
		return err
	}
	if err := checkPoll("default_poll", p.DefaultPoll); err != nil {
		return err
	}
	for name, sp := range p.Steps {
		if sp.Retry != nil {
			if err := check("steps."+name+".retry", sp.Retry.withDefaults(p.DefaultRetry)); err != nil {
				return err
			}
		}
		if sp.Poll != nil {
			if err := checkPoll("steps."+name+".poll", sp.Poll.withDefaults(p.DefaultPoll)); err != nil {
				return err
			}
		}
	}
	return nil
}

// RetryFor resolves the retry policy for a step. A policy file entry wins
// over the step's own default, which wins over the global default.
func (p Policy) RetryFor(s Step) RetryPolicy {
	base := p.DefaultRetry
	if s.Retry != nil {
		base = s.Retry.withDefaults(base)
	}
	if sp, ok := p.Steps[s.Name]; ok && sp.Retry != nil {
		return sp.Retry.withDefaults(base)
	}
	return base
}

// PollFor resolves the poll policy for a poll-step.
func (p Policy) PollFor(s Step) PollPolicy {
	base := p.DefaultPoll
	if s.Poll != nil {
		base = s.Poll.withDefaults(base)
	}
	if sp, ok := p.Steps[s.Name]; ok && sp.Poll != nil {
		return sp.Poll.withDefaults(base)
	}
	return base
}
