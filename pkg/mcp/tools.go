package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/schema"
)

// surfaceInfo describes one surface in actionkit.surfaces output.
type surfaceInfo struct {
	Name         string `json:"name"`
	Place        string `json:"place"`
	HideDisabled bool   `json:"hide_disabled"`
}

// expandResult is the actionkit.expand output.
type expandResult struct {
	Surface string              `json:"surface"`
	Place   string              `json:"place"`
	Items   []presentation.Item `json:"items"`
}

// updateResult is the actionkit.update output.
type updateResult struct {
	Action   string `json:"action"`
	Text     string `json:"text"`
	Visible  bool   `json:"visible"`
	Enabled  bool   `json:"enabled"`
	Runnable bool   `json:"runnable"`
}

// handleSurfaces lists the surfaces of the workspace.
func (s *Server) handleSurfaces(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names := s.workspace.Surfaces()
	out := make([]surfaceInfo, 0, len(names))
	for _, name := range names {
		req, err := s.workspace.Request(name, "", false)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out = append(out, surfaceInfo{Name: name, Place: string(req.Place), HideDisabled: req.HideDisabled})
	}
	return marshalResult(out)
}

// handleExpand runs an update pass for a surface and returns what it shows.
func (s *Server) handleExpand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	surface, err := req.RequireString("surface")
	if err != nil {
		return mcp.NewToolResultError("surface is required"), nil
	}
	place := req.GetString("place", "")
	hideDisabled := req.GetBool("hide_disabled", false)

	ereq, reqErr := s.workspace.Request(surface, place, hideDisabled)
	if reqErr != nil {
		return mcp.NewToolResultError(reqErr.Error()), nil
	}
	list, expandErr := s.engine.Expand(ctx, ereq)
	if expandErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("expand %s failed: %v", surface, expandErr)), nil
	}

	return marshalResult(expandResult{
		Surface: ereq.Surface,
		Place:   string(ereq.Place),
		Items:   s.factory.Render(list),
	})
}

// handleUpdate refreshes one action on the pre-invocation lane.
func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	place := schema.Place(req.GetString("place", string(schema.PlaceKeyboardShortcut)))

	n, ok := s.workspace.Action(id)
	if !ok || n.IsSeparator() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", id)), nil
	}
	p, updateErr := s.engine.UpdateBeforePerform(ctx, n, s.workspace.DataContext(), place)
	if updateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update %s failed: %v", id, updateErr)), nil
	}
	if p == nil {
		p = n.Template()
		p.Visible, p.Enabled = false, false
	}

	return marshalResult(updateResult{
		Action:   id,
		Text:     p.Text,
		Visible:  p.Visible,
		Enabled:  p.Enabled,
		Runnable: runnable(n, p),
	})
}

// runnable reports whether invoking n would do anything: a plain action
// must be visible and enabled, a group only runs through its perform hook.
func runnable(n *action.Node, p *action.Presentation) bool {
	if !p.Visible || !p.Enabled {
		return false
	}
	if n.IsGroup() {
		return p.PerformGroup
	}
	return true
}

// handleState returns the state document, replacing it first when a new one
// is given.
func (s *Server) handleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if doc := mcp.ParseStringMap(req, "state", nil); doc != nil {
		s.state.Set(doc)
		if s.registry != nil {
			s.registry.InvalidateAll(ctx)
		}
		s.logger.InfoContext(ctx, "state document replaced", "keys", len(doc))
	}
	return marshalResult(map[string]any{"state": s.state.Doc()})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
