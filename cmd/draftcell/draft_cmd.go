package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"draftcell/internal/apperr"
	"draftcell/internal/config"
	"draftcell/internal/markdown"
	"draftcell/internal/models"
)

func newDraftCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Edit the local working draft",
	}
	cmd.AddCommand(
		newDraftShowCmd(cfg, jsonOutput),
		newDraftSetCmd(cfg, jsonOutput),
		newDraftImportCmd(cfg, jsonOutput),
		newDraftImageCmd(cfg, jsonOutput),
		newDraftImagesCmd(cfg, jsonOutput),
		newDraftResetCmd(cfg),
	)
	return cmd
}

func newDraftShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var resolve bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				current, persisted, err := a.drafts.CurrentDraft(cmd.Context())
				if err != nil {
					return err
				}
				if resolve || !persisted {
					if current, err = a.drafts.LoadDraft(cmd.Context()); err != nil {
						return err
					}
				}
				if *jsonOutput {
					return writeJSON(current)
				}
				return writeDraftSummary(current, persisted)
			})
		},
	}

	cmd.Flags().BoolVar(&resolve, "resolve", false, "replace local image keys with preview handles")
	return cmd
}

func newDraftSetCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "set <file|->",
		Short: "Replace the draft with editor JSON from a file or stdin",
		Args:  requireExactlyArgs(1, "draft file is required (use - for stdin)"),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var next models.Draft
			dec := json.NewDecoder(bytes.NewReader(data))
			if err := dec.Decode(&next); err != nil {
				return apperr.Wrap(apperr.CodeInvalidArgument, "invalid draft json", err)
			}
			if next.Blocks == nil {
				next.Blocks = []models.Block{}
			}

			return withApp(cfg, func(a *app) error {
				if err := checkImageKeys(cmd.Context(), a, next); err != nil {
					return err
				}
				if err := a.drafts.UpdateDraft(cmd.Context(), next); err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(map[string]int{"blocks": len(next.Blocks)})
				}
				return writePlain("draft saved (%d blocks)\n", len(next.Blocks))
			})
		},
	}
}

func newDraftImportCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.md>",
		Short: "Replace the draft with a markdown document",
		Args:  requireExactlyArgs(1, "markdown file is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withApp(cfg, func(a *app) error {
				doc, err := markdown.Import(cmd.Context(), src, markdown.Options{
					BaseDir: filepath.Dir(args[0]),
					Images:  a.drafts,
				})
				if err != nil {
					return fmt.Errorf("import %s: %w", args[0], err)
				}
				if err := a.drafts.UpdateDraft(cmd.Context(), doc.Draft); err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(doc)
				}
				return writePlain("imported %d blocks, %d images stored\n", len(doc.Draft.Blocks), doc.ImagesStored)
			})
		},
	}
}

func newDraftResetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Replace the draft with an empty one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				if err := a.drafts.Reset(cmd.Context()); err != nil {
					return err
				}
				return writePlain("draft reset\n")
			})
		},
	}
}

// checkImageKeys rejects drafts that reference images the store does not
// hold; such a draft could neither be previewed nor published.
func checkImageKeys(ctx context.Context, a *app, d models.Draft) error {
	for _, key := range d.LocalKeys() {
		ok, err := a.store.ImageExists(ctx, string(key))
		if err != nil {
			return err
		}
		if !ok {
			return apperr.New(apperr.CodeInvalidArgument, fmt.Sprintf("draft references unknown image %s", key))
		}
	}
	return nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
