package action

import (
	"maps"
	"reflect"
)

// Well-known client property keys.
const (
	// PropPerformOnly marks a popup group with no meaningful children that
	// is shown only to be invoked as a single action.
	PropPerformOnly = "actionkit.performOnly"
)

// Icons holds the icon variants of a presentation, by icon reference.
type Icons struct {
	Default  string `json:"default,omitempty"`
	Disabled string `json:"disabled,omitempty"`
	Selected string `json:"selected,omitempty"`
	Hovered  string `json:"hovered,omitempty"`
}

// Presentation is the display state of one action. Values published by the
// presentation cache are never mutated; passes work on clones.
type Presentation struct {
	Text        string `json:"text,omitempty"`
	Description string `json:"description,omitempty"`
	Icons       Icons  `json:"icons,omitempty"`

	Enabled  bool `json:"enabled"`
	Visible  bool `json:"visible"`
	Selected bool `json:"selected,omitempty"`

	// Group behavior.
	PopupGroup          bool `json:"popup_group,omitempty"`
	HideGroupIfEmpty    bool `json:"hide_group_if_empty,omitempty"`
	DisableGroupIfEmpty bool `json:"disable_group_if_empty,omitempty"`
	PerformGroup        bool `json:"perform_group,omitempty"`

	props map[string]any
}

// NewPresentation returns an enabled, visible presentation with the given text.
func NewPresentation(text string) *Presentation {
	return &Presentation{Text: text, Enabled: true, Visible: true}
}

// Clone returns a deep copy. The property bag is copied one level deep.
func (p *Presentation) Clone() *Presentation {
	if p == nil {
		return nil
	}
	c := *p
	c.props = maps.Clone(p.props)
	return &c
}

// CopyFrom merges every field of src into p, property by property.
// Properties set to nil in src are removed from p.
func (p *Presentation) CopyFrom(src *Presentation) {
	if src == nil || src == p {
		return
	}
	props := p.props
	*p = *src
	p.props = props
	for k, v := range src.props {
		p.putProp(k, v)
	}
}

// RefreshFromTemplate copies the template-owned fields (text, description,
// icons) from tpl. Flags are left as the last pass computed them.
func (p *Presentation) RefreshFromTemplate(tpl *Presentation) {
	if tpl == nil {
		return
	}
	p.Text = tpl.Text
	p.Description = tpl.Description
	p.Icons = tpl.Icons
}

// ResetFlags restores the enabled and visible flags from tpl and clears
// the marks the updater sets, so every pass computes them afresh.
// Properties are set to false rather than removed so that the reset
// survives a CopyFrom merge.
func (p *Presentation) ResetFlags(tpl *Presentation) {
	if tpl != nil {
		p.Enabled = tpl.Enabled
		p.Visible = tpl.Visible
	}
	if p.BoolProperty(PropPerformOnly) {
		p.putProp(PropPerformOnly, false)
	}
}

// ClientProperty returns the property stored under key, or nil.
func (p *Presentation) ClientProperty(key string) any {
	return p.props[key]
}

// BoolProperty returns the property under key when it is a true bool.
func (p *Presentation) BoolProperty(key string) bool {
	v, _ := p.props[key].(bool)
	return v
}

// PutClientProperty stores value under key; a nil value removes it.
func (p *Presentation) PutClientProperty(key string, value any) {
	p.putProp(key, value)
}

// Properties returns a copy of the property bag.
func (p *Presentation) Properties() map[string]any {
	return maps.Clone(p.props)
}

// Equal reports whether two presentations hold the same state.
func (p *Presentation) Equal(o *Presentation) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Text == o.Text &&
		p.Description == o.Description &&
		p.Icons == o.Icons &&
		p.Enabled == o.Enabled &&
		p.Visible == o.Visible &&
		p.Selected == o.Selected &&
		p.PopupGroup == o.PopupGroup &&
		p.HideGroupIfEmpty == o.HideGroupIfEmpty &&
		p.DisableGroupIfEmpty == o.DisableGroupIfEmpty &&
		p.PerformGroup == o.PerformGroup &&
		maps.EqualFunc(p.props, o.props, func(a, b any) bool { return reflect.DeepEqual(a, b) })
}

// ActiveIcon returns the icon matching the current enabled/selected state.
func (p *Presentation) ActiveIcon() string {
	switch {
	case !p.Enabled && p.Icons.Disabled != "":
		return p.Icons.Disabled
	case p.Selected && p.Icons.Selected != "":
		return p.Icons.Selected
	default:
		return p.Icons.Default
	}
}

func (p *Presentation) putProp(key string, value any) {
	if value == nil {
		delete(p.props, key)
		return
	}
	if p.props == nil {
		p.props = make(map[string]any)
	}
	p.props[key] = value
}
