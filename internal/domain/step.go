package domain

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepKind tags which instrument verb or control operation a Step
// represents. Classification happens once at decode time, so the executor
// and interpreter dispatch on the tag rather than re-inspecting the record.
type StepKind string

const (
	StepExecute       StepKind = "execute"
	StepGet           StepKind = "get"
	StepSet           StepKind = "set"
	StepGetState      StepKind = "get_state"
	StepDiscover      StepKind = "discover"
	StepReset         StepKind = "reset"
	StepPing          StepKind = "ping"
	StepConnect       StepKind = "connect"
	StepDisconnect    StepKind = "disconnect"
	StepSetInitParams StepKind = "set_init_params"
	StepConfigure     StepKind = "configure"
	StepSleep         StepKind = "sleep"
	StepBlock         StepKind = "block_name"
	StepUnknown       StepKind = ""
)

// Condition guards a block_name step: the block runs only if the run's
// variable table satisfies {variable, value, comparator}.
type Condition struct {
	Variable   string      `yaml:"variable"`
	Value      interface{} `yaml:"value"`
	Comparator string      `yaml:"comparator"` // "equal" | "not_equal", defaults to "equal"
}

// Step is a single tagged step record. Only the fields relevant to Kind are
// populated; Raw holds the decoded map as written, for event logging.
type Step struct {
	Kind      StepKind
	Target    string
	Command   string
	Kwargs    map[string]interface{}
	Parameter string
	Value     interface{}
	Config    map[string]interface{}
	SleepSecs float64
	BlockName string
	Loop      int
	Condition *Condition
	Timeout   float64
	OnError   *PolicySpec
	Raw       map[string]interface{}
}

const defaultTimeoutSeconds = 30

// UnmarshalYAML decodes a step record by inspecting which distinguished
// key word is present. block_name and sleep are checked first since those
// steps never reach the instrument API; among the instrument verbs the
// order only matters for malformed records carrying two keys.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode step: %w", err)
	}
	s.Raw = raw
	s.Timeout = defaultTimeoutSeconds
	if t, ok := toFloat(raw["timeout"]); ok {
		s.Timeout = t
	}
	if op, ok := raw["onerror"]; ok {
		if m, ok := op.(map[string]interface{}); ok {
			s.OnError = decodePolicySpec(m)
		}
	}
	if loop, ok := toFloat(raw["loop"]); ok {
		s.Loop = int(loop)
	} else {
		s.Loop = 1
	}
	if cond, ok := raw["condition"].(map[string]interface{}); ok {
		c := &Condition{Comparator: "equal"}
		if v, ok := cond["variable"].(string); ok {
			c.Variable = v
		}
		c.Value = cond["value"]
		if cmp, ok := cond["comparator"].(string); ok && cmp != "" {
			c.Comparator = cmp
		}
		s.Condition = c
	}

	switch {
	case has(raw, "block_name"):
		s.Kind = StepBlock
		s.BlockName, _ = raw["block_name"].(string)
	case has(raw, "sleep"):
		s.Kind = StepSleep
		s.SleepSecs, _ = toFloat(raw["sleep"])
	case has(raw, "execute"):
		s.Kind = StepExecute
		s.Target, _ = raw["execute"].(string)
		s.Command, _ = raw["command"].(string)
		s.Kwargs, _ = raw["kwargs"].(map[string]interface{})
	case has(raw, "reset"):
		s.Kind = StepReset
		s.Target, _ = raw["reset"].(string)
	case has(raw, "ping"):
		s.Kind = StepPing
		s.Target, _ = raw["ping"].(string)
	case has(raw, "discover"):
		s.Kind = StepDiscover
		s.Target, _ = raw["discover"].(string)
	case has(raw, "get_state"):
		s.Kind = StepGetState
		s.Target, _ = raw["get_state"].(string)
	case has(raw, "get"):
		s.Kind = StepGet
		s.Target, _ = raw["get"].(string)
		s.Parameter, _ = raw["parameter"].(string)
	case has(raw, "set"):
		s.Kind = StepSet
		s.Target, _ = raw["set"].(string)
		s.Parameter, _ = raw["parameter"].(string)
		s.Value = raw["value"]
	case has(raw, "disconnect"):
		s.Kind = StepDisconnect
		s.Target, _ = raw["disconnect"].(string)
	case has(raw, "connect"):
		s.Kind = StepConnect
		s.Target, _ = raw["connect"].(string)
	case has(raw, "set_init_params"):
		s.Kind = StepSetInitParams
		s.Target, _ = raw["set_init_params"].(string)
		s.Config, _ = raw["config"].(map[string]interface{})
	case has(raw, "configure"):
		s.Kind = StepConfigure
		s.Target, _ = raw["configure"].(string)
		s.Config, _ = raw["config"].(map[string]interface{})
	default:
		s.Kind = StepUnknown
	}
	return nil
}

func has(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
