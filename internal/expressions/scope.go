package expressions

import (
	"context"

	"github.com/rendis/actionkit/pkg/datactx"
)

// Scope builds the data map an expression sees. Only the keys a hook
// declares are resolved, so a hook never asks a cheap snapshot for a key
// it does not use.
type Scope struct {
	keys []datactx.Key
}

// NewScope creates a scope over keys.
func NewScope(keys ...datactx.Key) Scope {
	return Scope{keys: keys}
}

// Keys returns the declared keys.
func (s Scope) Keys() []datactx.Key { return s.keys }

// Bind resolves every declared key from dc. Keys that resolve to nothing
// are present with a nil value. place is bound under PlaceVar.
func (s Scope) Bind(ctx context.Context, dc datactx.DataContext, place string) map[string]any {
	data := make(map[string]any, len(s.keys)+1)
	for _, k := range s.keys {
		v, ok := dc.Get(ctx, k)
		if !ok {
			v = nil
		}
		data[string(k)] = v
	}
	data[PlaceVar] = place
	return data
}
