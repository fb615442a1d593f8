package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/actionkit/internal/engine"
	"github.com/rendis/actionkit/internal/presentation"
	"github.com/rendis/actionkit/internal/streaming"
	"github.com/rendis/actionkit/pkg/action"
	"github.com/rendis/actionkit/pkg/datactx"
	"github.com/rendis/actionkit/pkg/schema"
)

// Workspace resolves surfaces and actions of a loaded menu.
// Satisfied by *menu.Workspace.
type Workspace interface {
	Surfaces() []string
	Request(surface, place string, hideDisabled bool) (engine.Request, error)
	Action(id string) (*action.Node, bool)
	DataContext() datactx.DataContext
}

// StateStore holds the IDE state document. Satisfied by *menu.State.
type StateStore interface {
	Doc() any
	Set(doc any)
}

// Engine runs update passes. Satisfied by *engine.Driver.
type Engine interface {
	Expand(ctx context.Context, req engine.Request) ([]*action.Node, error)
	UpdateBeforePerform(ctx context.Context, n *action.Node, dc datactx.DataContext, place schema.Place) (*action.Presentation, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Workspace Workspace
	State     StateStore
	Engine    Engine
	Factory   *presentation.Factory
	Registry  *presentation.Registry
	Hub       streaming.EventHub
	Logger    *slog.Logger
}

// Server wraps an MCP server with actionkit tool handlers.
type Server struct {
	workspace Workspace
	state     StateStore
	engine    Engine
	factory   *presentation.Factory
	registry  *presentation.Registry
	hub       streaming.EventHub
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	factory := deps.Factory
	if factory == nil {
		factory = presentation.NewFactory("mcp")
	}

	s := &Server{
		workspace: deps.Workspace,
		state:     deps.State,
		engine:    deps.Engine,
		factory:   factory,
		registry:  deps.Registry,
		hub:       deps.Hub,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"actionkit",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("actionkit computes what IDE toolbars and popup menus show for the current IDE state. Use actionkit.surfaces to list them, actionkit.expand to compute one, actionkit.update to check a single action right before invoking it, and actionkit.state to read or replace the IDE state document."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		go s.forwardEvents(ctx)
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// forwardEvents pushes finished passes to every connected client.
func (s *Server) forwardEvents(ctx context.Context) {
	events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{
		EventTypes: []string{schema.EventPassSucceeded, schema.EventPassFailed, schema.EventPassCancelled},
	})
	if err != nil {
		s.logger.Warn("cannot subscribe to pass events", slog.String("error", err.Error()))
		return
	}
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.mcpServer.SendNotificationToAllClients("notifications/message", map[string]any{
				"level":  "info",
				"logger": "actionkit",
				"data":   ev,
			})
		}
	}
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: surfacesTool(), Handler: s.handleSurfaces},
		{Tool: expandTool(), Handler: s.handleExpand},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: stateTool(), Handler: s.handleState},
	}
}

// --- Tool definitions ---

func surfacesTool() mcp.Tool {
	return mcp.NewTool("actionkit.surfaces",
		mcp.WithDescription("List the toolbars and menus of the loaded menu definition"),
	)
}

func expandTool() mcp.Tool {
	return mcp.NewTool("actionkit.expand",
		mcp.WithDescription("Compute the items a toolbar or menu shows for the current IDE state"),
		mcp.WithString("surface", mcp.Required(), mcp.Description("Surface name, as listed by actionkit.surfaces")),
		mcp.WithString("place", mcp.Description("Override the surface's place (e.g. EditorPopup, MainToolbar)")),
		mcp.WithBoolean("hide_disabled", mcp.Description("Drop disabled items")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("actionkit.update",
		mcp.WithDescription("Update one action right before invoking it and report whether it may run"),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action id")),
		mcp.WithString("place", mcp.Description("Place the invocation comes from (default: keyboard shortcut)")),
	)
}

func stateTool() mcp.Tool {
	return mcp.NewTool("actionkit.state",
		mcp.WithDescription("Read the IDE state document, or replace it when state is given"),
		mcp.WithObject("state", mcp.Description("New state document")),
	)
}
