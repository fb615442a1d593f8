package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/actionkit/pkg/mcp"
)

func serveCmd() *cobra.Command {
	var (
		menuPath  string
		statePath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the menu over MCP on stdio",
		Long: `serve exposes the loaded menu as MCP tools on stdin/stdout so an agent
can list surfaces, expand them, check single actions and replace the IDE
state document. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(ctx, cfg, menuPath, statePath, logger)
			if err != nil {
				return err
			}
			defer rt.stop()

			srv := mcp.NewServer(mcp.ServerDeps{
				Workspace: rt.workspace,
				State:     rt.workspace.State,
				Engine:    rt.driver,
				Factory:   rt.factory,
				Registry:  rt.factories,
				Hub:       rt.hub,
				Logger:    logger,
			})
			logger.Info("serving MCP on stdio")
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&menuPath, "menu", "", "menu definition (YAML)")
	cmd.Flags().StringVar(&statePath, "state", "", "IDE state document (JSON)")
	_ = cmd.MarkFlagRequired("menu")
	return cmd
}
