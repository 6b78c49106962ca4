package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"draftcell/internal/config"
	"draftcell/internal/models"
)

type imageAddView struct {
	Image  models.LocalImage `json:"image"`
	Handle string            `json:"handle"`
	Blocks int               `json:"blocks"`
}

func newDraftImageCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage draft images",
	}
	cmd.AddCommand(newDraftImageAddCmd(cfg, jsonOutput))
	return cmd
}

func newDraftImageAddCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var caption, mediaType string
	var stretched, withBorder, withBackground bool

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Store an image and append it to the draft",
		Args:  requireExactlyArgs(1, "image path is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withApp(cfg, func(a *app) error {
				ctx := cmd.Context()
				image, handle, err := a.drafts.StoreImage(ctx, f, filepath.Base(args[0]), mediaType)
				if err != nil {
					return err
				}
				current, _, err := a.drafts.CurrentDraft(ctx)
				if err != nil {
					return err
				}
				key := image.Key
				current.Blocks = append(current.Blocks, models.NewBlock(models.ImageData{
					File:           models.ImageFile{Key: &key},
					Caption:        caption,
					Stretched:      stretched,
					WithBorder:     withBorder,
					WithBackground: withBackground,
				}))
				if err := a.drafts.UpdateDraft(ctx, current); err != nil {
					return err
				}

				if *jsonOutput {
					return writeJSON(imageAddView{Image: image, Handle: handle, Blocks: len(current.Blocks)})
				}
				return writePlain("added %s (%s) as block %d\n", image.Key, image.MediaType, len(current.Blocks))
			})
		},
	}

	cmd.Flags().StringVar(&caption, "caption", "", "image caption")
	cmd.Flags().StringVar(&mediaType, "type", "", "media type (sniffed when empty)")
	cmd.Flags().BoolVar(&stretched, "stretched", false, "stretch to the article width")
	cmd.Flags().BoolVar(&withBorder, "border", false, "draw a border")
	cmd.Flags().BoolVar(&withBackground, "background", false, "draw a background")
	return cmd
}

func newDraftImagesCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "List stored images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				images, err := a.drafts.ListImages(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					if images == nil {
						images = []models.LocalImage{}
					}
					return writeJSON(images)
				}
				return writeImageList(images, a.now())
			})
		},
	}
}
