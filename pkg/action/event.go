package action

import (
	"context"

	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// Event is handed to node hooks. Presentation is the pass-private clone the
// hook may mutate.
type Event struct {
	ctx          context.Context
	Presentation *Presentation
	DataContext  datactx.DataContext
	Place        schema.Place
	Session      Session
}

// NewEvent builds an event for one hook invocation.
func NewEvent(ctx context.Context, p *Presentation, dc datactx.DataContext, place schema.Place, s Session) *Event {
	if dc == nil {
		dc = datactx.Empty
	}
	return &Event{ctx: ctx, Presentation: p, DataContext: dc, Place: place, Session: s}
}

// Context returns the pass context. Long-running hooks should honor it.
func (e *Event) Context() context.Context {
	return e.ctx
}

// Data looks key up in the event's data context.
func (e *Event) Data(key datactx.Key) (any, bool) {
	return e.DataContext.Get(e.ctx, key)
}

// IsFromContextMenu reports whether the update is for a context menu.
func (e *Event) IsFromContextMenu() bool {
	return schema.IsPopupPlace(e.Place)
}

// IsFromToolbar reports whether the update is for a toolbar.
func (e *Event) IsFromToolbar() bool {
	return schema.IsToolbarPlace(e.Place)
}
