package schema

// MenuDefinition is a declarative description of actions, groups and the
// surfaces that show them, loaded from YAML.
type MenuDefinition struct {
	Version  int                          `json:"version" yaml:"version"`
	Data     map[string]DataKeyDefinition `json:"data,omitempty" yaml:"data,omitempty"`
	Surfaces map[string]SurfaceDefinition `json:"surfaces" yaml:"surfaces"`
	Actions  []ActionDefinition           `json:"actions" yaml:"actions"`
}

// DataKeyDefinition declares one data-context key, resolved by a jq query
// over the state document. Fast keys are part of the cheap snapshot; Delay
// simulates a slow provider.
type DataKeyDefinition struct {
	Query string `json:"query" yaml:"query"`
	Fast  bool   `json:"fast,omitempty" yaml:"fast,omitempty"`
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// SurfaceDefinition binds a toolbar or menu to its root group.
type SurfaceDefinition struct {
	Root         string `json:"root" yaml:"root"`
	Place        string `json:"place,omitempty" yaml:"place,omitempty"`
	HideDisabled bool   `json:"hide_disabled,omitempty" yaml:"hide_disabled,omitempty"`
	// Refresh is a cron spec ("@every 2s") for periodic updates.
	Refresh string `json:"refresh,omitempty" yaml:"refresh,omitempty"`
}

// ActionDefinition is one action or group. Conditions are expr
// expressions, PerformIf is a CEL guard; both see the keys listed in Uses.
type ActionDefinition struct {
	ID          string   `json:"id" yaml:"id"`
	Text        string   `json:"text,omitempty" yaml:"text,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Icon        string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Uses        []string `json:"uses,omitempty" yaml:"uses,omitempty"`
	Visible     string   `json:"visible,omitempty" yaml:"visible,omitempty"`
	Enabled     string   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Selected    string   `json:"selected,omitempty" yaml:"selected,omitempty"`
	Background  bool     `json:"background,omitempty" yaml:"background,omitempty"`
	// Cost simulates a slow update hook ("15ms").
	Cost          string `json:"cost,omitempty" yaml:"cost,omitempty"`
	AlwaysVisible bool   `json:"always_visible,omitempty" yaml:"always_visible,omitempty"`

	// Group fields.
	Group          bool     `json:"group,omitempty" yaml:"group,omitempty"`
	Popup          bool     `json:"popup,omitempty" yaml:"popup,omitempty"`
	Compact        bool     `json:"compact,omitempty" yaml:"compact,omitempty"`
	HideIfEmpty    bool     `json:"hide_if_empty,omitempty" yaml:"hide_if_empty,omitempty"`
	DisableIfEmpty bool     `json:"disable_if_empty,omitempty" yaml:"disable_if_empty,omitempty"`
	PerformIf      string   `json:"perform_if,omitempty" yaml:"perform_if,omitempty"`
	Children       []string `json:"children,omitempty" yaml:"children,omitempty"`
}

// SeparatorRef is the child entry for a plain separator. "- Title" makes a
// titled one.
const SeparatorRef = "-"
