package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"draftcell/internal/apperr"
	"draftcell/internal/config"
	"draftcell/internal/models"
	"draftcell/internal/publish"
)

func newPublishCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <article-id>",
		Short: "Publish the current draft as an article in your box",
		Args:  requireArticleID,
		RunE: func(cmd *cobra.Command, args []string) error {
			articleID := args[0]
			if err := publish.ValidateArticleID(articleID); err != nil {
				return err
			}

			return withApp(cfg, func(a *app) error {
				p, session, err := a.provisioner(cmd.Context())
				if err != nil {
					return err
				}
				b, err := p.Refresh(cmd.Context())
				if err != nil {
					return err
				}
				if b.State != models.BoxProvisioned {
					return apperr.New(apperr.CodeNotFound, fmt.Sprintf("box %q is not installed; run `draftcell box install`", cfg.BoxName))
				}

				remote, err := a.remote(b.URL, session)
				if err != nil {
					return err
				}
				publisher, err := publish.New(remote, a.drafts, publish.Options{
					BoxURL:       b.URL,
					TemplatePath: cfg.TemplatePath,
				})
				if err != nil {
					return err
				}
				res, err := publisher.Run(cmd.Context(), articleID)
				if err != nil {
					return fmt.Errorf("publish %s: %w", articleID, err)
				}

				if *jsonOutput {
					return writeJSON(res)
				}
				return writePlain("published %s (%d images)\n%s\n", res.ArticleID, res.ImagesUploaded, res.URL)
			})
		},
	}
}
