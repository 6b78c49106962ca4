package main

import (
	"errors"

	"github.com/spf13/cobra"

	"draftcell/internal/apperr"
	"draftcell/internal/box"
	"draftcell/internal/config"
	"draftcell/internal/models"
)

type installView struct {
	Box models.Box           `json:"box"`
	Log []models.StatusEntry `json:"log"`
}

func newBoxCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "box",
		Short: "Inspect or install the blog box in your cell",
	}
	cmd.AddCommand(newBoxStatusCmd(cfg, jsonOutput), newBoxInstallCmd(cfg, jsonOutput))
	return cmd
}

func newBoxStatusCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the box is installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				p, _, err := a.provisioner(cmd.Context())
				if err != nil {
					return err
				}
				b, err := p.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(b)
				}
				return writeBox(b)
			})
		},
	}
}

func newBoxInstallCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the box from the app bar archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.AppCellURL == "" {
				return apperr.New(apperr.CodeInvalidArgument, "app_cell_url is not configured")
			}
			return withApp(cfg, func(a *app) error {
				p, _, err := a.provisioner(cmd.Context())
				if err != nil {
					return err
				}
				b, err := p.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				if b.State == models.BoxAbsent {
					b, err = p.Install(cmd.Context())
					var installErr *box.InstallError
					if err != nil && !errors.As(err, &installErr) {
						err = &box.InstallError{Log: p.Log(), Err: err}
					}
					if err != nil {
						return err
					}
				}
				if *jsonOutput {
					return writeJSON(installView{Box: b, Log: p.Log()})
				}
				for _, entry := range p.Log() {
					if err := writePlain("%s %s\n", formatTime(entry.Time), entry.Text); err != nil {
						return err
					}
				}
				return writeBox(b)
			})
		},
	}
}

func writeBox(b models.Box) error {
	if b.URL == "" {
		return writePlain("state: %s\n", b.State)
	}
	return writePlain("state: %s\nurl: %s\n", b.State, b.URL)
}
