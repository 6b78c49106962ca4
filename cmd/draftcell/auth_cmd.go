package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"draftcell/internal/apperr"
	"draftcell/internal/auth"
	"draftcell/internal/config"
	"draftcell/internal/models"
)

const defaultLoginWait = 5 * time.Minute

type whoamiView struct {
	CellURL    string    `json:"cell_url,omitempty"`
	Authorized bool      `json:"authorized"`
	TokenType  string    `json:"token_type,omitempty"`
	Expiry     time.Time `json:"expiry,omitzero"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

func newLoginCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var cellURL, token string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize draftcell against your cell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cell := strings.TrimSpace(cellURL)
			if cell == "" {
				cell = cfg.CellURL
			}
			if cell == "" {
				return apperr.New(apperr.CodeInvalidArgument, "cell url is required (--cell or cell_url)")
			}
			if !strings.HasSuffix(cell, "/") {
				cell += "/"
			}

			return withApp(cfg, func(a *app) error {
				session := models.Session{CellURL: cell, AccessToken: strings.TrimSpace(token), TokenType: "Bearer"}
				if session.AccessToken == "" {
					var err error
					session, err = authorize(cmd.Context(), cfg, cell, wait, cmd.ErrOrStderr())
					if err != nil {
						return err
					}
				}
				session.UpdatedAt = a.now().UTC()
				if err := a.store.SaveSession(cmd.Context(), session); err != nil {
					return fmt.Errorf("save session: %w", err)
				}
				if *jsonOutput {
					return writeJSON(viewSession(session))
				}
				return writePlain("logged in to %s\n", session.CellURL)
			})
		},
	}

	cmd.Flags().StringVar(&cellURL, "cell", "", "cell url (defaults to cell_url)")
	cmd.Flags().StringVar(&token, "token", "", "store this access token instead of running the browser flow")
	cmd.Flags().DurationVar(&wait, "wait", defaultLoginWait, "how long to wait for the authorization redirect")
	return cmd
}

// authorize runs the browser flow: it asks the app cell for an authorization
// URL, waits for the redirect on the local callback listener and exchanges the
// code for a token.
func authorize(ctx context.Context, cfg *config.Config, cell string, wait time.Duration, prompt io.Writer) (models.Session, error) {
	if cfg.AppCellURL == "" {
		return models.Session{}, apperr.New(apperr.CodeInvalidArgument, "app_cell_url is not configured")
	}
	authz, err := auth.NewAuthorizer(cfg.AppCellURL, auth.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout.Duration}))
	if err != nil {
		return models.Session{}, err
	}
	listener, err := auth.ListenCallback(cfg.CallbackAddr, cfg.RedirectPath)
	if err != nil {
		return models.Session{}, err
	}
	defer listener.Close()

	authURL, err := authz.RequestAuthURL(ctx, cell, listener.RedirectURL())
	if err != nil {
		return models.Session{}, err
	}
	fmt.Fprintf(prompt, "Open this URL in your browser to authorize draftcell:\n\n  %s\n\n", authURL)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	code, err := listener.Wait(waitCtx)
	if err != nil {
		return models.Session{}, err
	}

	tok, err := authz.Exchange(ctx, cell, code.Code, code.State)
	if err != nil {
		return models.Session{}, err
	}
	return models.Session{
		CellURL:      cell,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func newLogoutCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				if err := a.store.ClearSession(cmd.Context()); err != nil {
					return err
				}
				return writePlain("logged out\n")
			})
		},
	}
}

func newWhoamiCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(a *app) error {
				session, err := a.store.GetSession(cmd.Context())
				if err != nil {
					return err
				}
				view := viewSession(session)
				if *jsonOutput {
					return writeJSON(view)
				}
				if !view.Authorized {
					return writePlain("not logged in\n")
				}
				lines := []string{"cell: " + view.CellURL}
				if !view.Expiry.IsZero() {
					lines = append(lines, "expires: "+formatTime(view.Expiry))
				}
				return writePlain("%s\n", strings.Join(lines, "\n"))
			})
		},
	}
}

func viewSession(session models.Session) whoamiView {
	return whoamiView{
		CellURL:    session.CellURL,
		Authorized: session.Authorized(),
		TokenType:  session.TokenType,
		Expiry:     session.Expiry,
		UpdatedAt:  session.UpdatedAt,
	}
}
