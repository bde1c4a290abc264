package synthetic

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ScenarioFromOptions decodes a scenario from a provider options map, as
// found under providers.*.options in the config file. Keys use the yaml
// names of [Scenario]; durations are Go duration strings. Absent keys keep
// the values of [DefaultScenario], so an empty map yields the default.
func ScenarioFromOptions(opts map[string]any) (Scenario, error) {
	sc := DefaultScenario()
	if len(opts) == 0 {
		return sc, nil
	}
	raw, err := yaml.Marshal(opts)
	if err != nil {
		return Scenario{}, fmt.Errorf("synthetic: encode options: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return Scenario{}, fmt.Errorf("synthetic: decode options: %w", err)
	}
	if err := node.Decode(&sc); err != nil {
		return Scenario{}, fmt.Errorf("synthetic: decode options: %w", err)
	}
	sc = sc.withDefaults()
	if err := sc.Validate(); err != nil {
		return Scenario{}, err
	}
	return sc, nil
}
