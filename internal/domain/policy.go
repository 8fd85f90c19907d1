package domain

import "gopkg.in/yaml.v3"

// PolicyAction is the decoded action an error policy resolves to.
type PolicyAction string

const (
	PolicyAbort    PolicyAction = "abort"
	PolicyBreak    PolicyAction = "break"
	PolicyContinue PolicyAction = "continue"
	PolicyIgnore   PolicyAction = "ignore"
	PolicyRetry    PolicyAction = "retry"
)

// PolicySpec is the raw, undecoded {type, count?, backoff?} error-policy
// fragment as it appears in mission YAML, at step, block, or mission scope.
// internal/policy turns this into an evaluated {action, count, backoff}.
type PolicySpec struct {
	Type    string
	Count   *int
	Backoff *int
}

func decodePolicySpec(m map[string]interface{}) *PolicySpec {
	spec := &PolicySpec{}
	if t, ok := m["type"].(string); ok {
		spec.Type = t
	}
	if c, ok := toFloat(m["count"]); ok {
		n := int(c)
		spec.Count = &n
	}
	if b, ok := toFloat(m["backoff"]); ok {
		n := int(b)
		spec.Backoff = &n
	}
	return spec
}

// UnmarshalYAML decodes a PolicySpec the same way Step's onerror field does,
// so mission- and block-level onerror fragments share one code path.
func (p *PolicySpec) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = *decodePolicySpec(raw)
	return nil
}
