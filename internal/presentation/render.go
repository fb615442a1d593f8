package presentation

import (
	"strings"

	"github.com/rendis/actionkit/pkg/action"
)

// Item is the published state of one listed node, flattened for output.
type Item struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text"`
	Separator   bool   `json:"separator,omitempty"`
	Enabled     bool   `json:"enabled"`
	Popup       bool   `json:"popup,omitempty"`
	PerformOnly bool   `json:"perform_only,omitempty"`
}

// Render reads the published presentation of every node in list.
func (f *Factory) Render(list []*action.Node) []Item {
	out := make([]Item, 0, len(list))
	for _, n := range list {
		if n.IsSeparator() {
			out = append(out, Item{Separator: true, Text: n.SeparatorText()})
			continue
		}
		p := f.Get(n)
		out = append(out, Item{
			ID:          n.ID(),
			Text:        p.Text,
			Enabled:     p.Enabled,
			Popup:       n.IsGroup() && p.PopupGroup,
			PerformOnly: p.BoolProperty(action.PropPerformOnly),
		})
	}
	return out
}

// Line renders the item as one line of a text menu.
func (it Item) Line() string {
	if it.Separator {
		if it.Text == "" {
			return "----"
		}
		return "---- " + it.Text + " ----"
	}
	var b strings.Builder
	b.WriteString(it.Text)
	if it.Popup {
		b.WriteString(" >")
	}
	if !it.Enabled {
		b.WriteString(" (disabled)")
	}
	if it.PerformOnly {
		b.WriteString(" (action)")
	}
	return b.String()
}
