package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/actionkit/internal/engine"
)

func expandCmd() *cobra.Command {
	var (
		menuPath     string
		statePath    string
		surface      string
		place        string
		hideDisabled bool
		all          bool
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Expand one surface, or every surface with --all, and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && surface == "" {
				return fmt.Errorf("either --surface or --all is required")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), cfg, menuPath, statePath, logger)
			if err != nil {
				return err
			}
			defer rt.stop()

			names := []string{surface}
			if all {
				names = rt.workspace.Surfaces()
			}

			reqs := make([]engine.Request, len(names))
			for i, name := range names {
				if reqs[i], err = rt.workspace.Request(name, place, hideDisabled); err != nil {
					return err
				}
			}

			out := make([]renderedSurface, len(reqs))
			g, ctx := errgroup.WithContext(cmd.Context())
			for i, req := range reqs {
				g.Go(func() error {
					list, err := rt.driver.Expand(ctx, req)
					if err != nil {
						return fmt.Errorf("expand %s: %w", req.Surface, err)
					}
					out[i] = rt.render(req, list)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return writeSurfaces(cmd.OutOrStdout(), out, asJSON)
		},
	}

	cmd.Flags().StringVar(&menuPath, "menu", "", "menu definition (YAML)")
	cmd.Flags().StringVar(&statePath, "state", "", "IDE state document (JSON)")
	cmd.Flags().StringVar(&surface, "surface", "", "surface to expand")
	cmd.Flags().StringVar(&place, "place", "", "override the surface's place")
	cmd.Flags().BoolVar(&hideDisabled, "hide-disabled", false, "drop disabled actions")
	cmd.Flags().BoolVar(&all, "all", false, "expand every surface concurrently")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("menu")
	return cmd
}
