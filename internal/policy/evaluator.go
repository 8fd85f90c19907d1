// Package policy evaluates a mission, block, or step error-policy fragment
// into a concrete action with defaulted retry parameters.
package policy

import "github.com/fleetops/missionctl/internal/domain"

// Policy is the evaluated form of a domain.PolicySpec: an action plus the
// retry parameters that apply when the action is retry.
type Policy struct {
	Action  domain.PolicyAction
	Count   int
	Backoff int
}

// defaultPolicy is what an absent onerror fragment resolves to: abort
// immediately.
var defaultPolicy = Policy{Action: domain.PolicyAbort, Count: 1, Backoff: 0}

// Evaluate resolves a PolicySpec into a Policy, applying retry defaults
// (count=3, backoff=10) when Type is "retry" and the fields are unset. A
// nil spec evaluates to the default abort policy.
func Evaluate(spec *domain.PolicySpec) Policy {
	if spec == nil || spec.Type == "" {
		return defaultPolicy
	}

	p := Policy{Action: domain.PolicyAction(spec.Type), Count: 1, Backoff: 0}
	if p.Action == domain.PolicyRetry {
		p.Count = 3
		p.Backoff = 10
		if spec.Count != nil {
			p.Count = *spec.Count
		}
		if spec.Backoff != nil {
			p.Backoff = *spec.Backoff
		}
	}
	return p
}

// Resolve walks step, block, then mission policy in that precedence order
// and evaluates the first non-nil one.
func Resolve(step, block, mission *domain.PolicySpec) Policy {
	switch {
	case step != nil:
		return Evaluate(step)
	case block != nil:
		return Evaluate(block)
	case mission != nil:
		return Evaluate(mission)
	default:
		return defaultPolicy
	}
}
