package queue

import (
	"time"

	"github.com/ifuryst/murmur/internal/config"
)

// Stage names a queue. Each stage has its own retry policy.
type Stage string

const (
	StageContentGeneration Stage = config.StageContentGeneration
	StageImageGeneration   Stage = config.StageImageGeneration
	StageApprovalDispatch  Stage = config.StageApprovalDispatch
	StagePublishing        Stage = config.StagePublishing
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageContentGeneration, StageImageGeneration, StageApprovalDispatch, StagePublishing}

type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

type Backoff struct {
	Kind  BackoffKind
	Delay time.Duration
}

type RetryPolicy struct {
	Attempts int
	Backoff  Backoff
}

// DelayAfter returns the wait before the next delivery once attempt has failed.
// Exponential doubles from the base delay: base, 2*base, 4*base...
func (p RetryPolicy) DelayAfter(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff.Kind == BackoffFixed {
		return p.Backoff.Delay
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	return p.Backoff.Delay * time.Duration(1<<shift)
}

// DefaultPolicies: three attempts everywhere, exponential from 5s, publishing from 10s.
func DefaultPolicies() map[Stage]RetryPolicy {
	return map[Stage]RetryPolicy{
		StageContentGeneration: {Attempts: 3, Backoff: Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}},
		StageImageGeneration:   {Attempts: 3, Backoff: Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}},
		StageApprovalDispatch:  {Attempts: 3, Backoff: Backoff{Kind: BackoffExponential, Delay: 5 * time.Second}},
		StagePublishing:        {Attempts: 3, Backoff: Backoff{Kind: BackoffExponential, Delay: 10 * time.Second}},
	}
}

// PoliciesFromConfig overlays configured stage policies on the defaults.
func PoliciesFromConfig(cfg config.QueueConfig) map[Stage]RetryPolicy {
	policies := DefaultPolicies()
	for name, pc := range cfg.Stages {
		stage := Stage(name)
		p, ok := policies[stage]
		if !ok {
			continue
		}
		if pc.Attempts > 0 {
			p.Attempts = pc.Attempts
		}
		switch BackoffKind(pc.Backoff) {
		case BackoffExponential, BackoffFixed:
			p.Backoff.Kind = BackoffKind(pc.Backoff)
		}
		if pc.Delay != "" {
			p.Backoff.Delay = pc.DelayDuration()
		}
		policies[stage] = p
	}
	return policies
}
