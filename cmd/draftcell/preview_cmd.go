package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"draftcell/internal/config"
	"draftcell/internal/server"
)

func newPreviewCmd(cfg *config.Config) *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Serve the current draft on a local preview page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := addrFlag
			if raw == "" {
				raw = cfg.PreviewAddr
			}
			addr, err := server.ListenAddr(raw)
			if err != nil {
				return err
			}

			a, err := openApp(cfg, server.BlobPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := writePlain("preview at http://%s/ (ctrl-c to stop)\n", addr); err != nil {
				return err
			}
			srv := server.New(addr, a.drafts, a.drafts.Handles(), slog.Default())
			return srv.ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (defaults to preview_addr)")
	return cmd
}
