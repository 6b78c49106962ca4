package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"draftcell/internal/apperr"
	"draftcell/internal/config"
	"draftcell/internal/models"
	"draftcell/internal/publish"
	"draftcell/internal/store"
	"draftcell/internal/webdav/webdavtest"
)

var testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type cliEnv struct {
	cfg *config.Config
	srv *webdavtest.Server
	out *bytes.Buffer
}

func newCLIEnv(t *testing.T, opts ...webdavtest.Option) *cliEnv {
	t.Helper()
	t.Setenv(logLevelEnvKey, "error")

	srv := webdavtest.NewServer(t, opts...)
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.AppCellURL = srv.AppCellURL()
	cfg.CellURL = srv.CellURL()
	cfg.Install.PollInterval = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Install.Timeout = config.Duration{Duration: 2 * time.Second}

	out := &bytes.Buffer{}
	prev := outputWriter
	outputWriter = out
	t.Cleanup(func() { outputWriter = prev })

	return &cliEnv{cfg: &cfg, srv: srv, out: out}
}

func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	e.out.Reset()
	cmd := newRootCmd(e.cfg)
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return e.out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, "", args...)
	if err != nil {
		t.Fatalf("draftcell %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func (e *cliEnv) login(t *testing.T) {
	t.Helper()
	e.mustRun(t, "login", "--token", e.srv.Token)
}

func TestLoginWithTokenAndWhoami(t *testing.T) {
	env := newCLIEnv(t)

	if out := env.mustRun(t, "whoami"); out != "not logged in\n" {
		t.Fatalf("unexpected whoami before login: %q", out)
	}

	env.mustRun(t, "login", "--token", env.srv.Token, "--cell", strings.TrimSuffix(env.srv.CellURL(), "/"))
	out := env.mustRun(t, "--json", "whoami")
	var view whoamiView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode whoami: %v", err)
	}
	if !view.Authorized || view.CellURL != env.srv.CellURL() {
		t.Fatalf("unexpected session view %#v", view)
	}
	if strings.Contains(out, env.srv.Token) {
		t.Fatal("whoami must not print the access token")
	}

	env.mustRun(t, "logout")
	if out := env.mustRun(t, "whoami"); out != "not logged in\n" {
		t.Fatalf("unexpected whoami after logout: %q", out)
	}
}

func TestPublishRequiresLogin(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "", "publish", "first")
	if !errors.Is(err, apperr.ErrNotAuthorized) {
		t.Fatalf("expected not authorized, got %v", err)
	}
}

func TestPublishEndToEnd(t *testing.T) {
	env := newCLIEnv(t)
	if err := env.srv.WriteFile("__template/index.html", []byte("<!doctype html><title>viewer</title>")); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	env.login(t)

	imagePath := filepath.Join(t.TempDir(), "cat.png")
	if err := os.WriteFile(imagePath, testPNG, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	env.mustRun(t, "draft", "image", "add", imagePath, "--caption", "a cat")

	out := env.mustRun(t, "--json", "publish", "first")
	var res publish.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.URL != env.srv.BoxURL()+"first/index.html" || res.ImagesUploaded != 1 || !res.CreatedFolder {
		t.Fatalf("unexpected result %#v", res)
	}

	manifest, err := env.srv.ReadFile("first/content.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var published models.Draft
	if err := json.Unmarshal(manifest, &published); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	img, ok := published.Blocks[0].Image()
	if !ok || img.IsLocal() || !strings.HasPrefix(img.File.URL, "images/") || img.Caption != "a cat" {
		t.Fatalf("unexpected published image %#v", published.Blocks[0])
	}
	names, err := env.srv.List("first/images")
	if err != nil || len(names) != 1 {
		t.Fatalf("expected one uploaded image, got %v (err %v)", names, err)
	}
}

func TestPublishRefusesAbsentBox(t *testing.T) {
	env := newCLIEnv(t, webdavtest.WithBoxInstalled(false))
	env.login(t)

	_, err := env.run(t, "", "publish", "first")
	if apperr.CodeOf(err) != apperr.CodeNotFound || !strings.Contains(err.Error(), "box install") {
		t.Fatalf("expected box-not-installed error, got %v", err)
	}
	for _, req := range env.srv.Requests() {
		if req.Method == "MKCOL" || req.Method == http.MethodPut {
			t.Fatalf("nothing should be written, saw %s %s", req.Method, req.Path)
		}
	}
}

func TestBoxInstallCommand(t *testing.T) {
	env := newCLIEnv(t, webdavtest.WithBoxInstalled(false))
	env.srv.ScriptInstall(http.StatusAccepted, "copying", "ready")
	env.login(t)

	if out := env.mustRun(t, "box", "status"); out != "state: absent\n" {
		t.Fatalf("unexpected status %q", out)
	}

	out := env.mustRun(t, "--json", "box", "install")
	var view installView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode install view: %v", err)
	}
	if view.Box.State != models.BoxProvisioned || view.Box.URL != env.srv.BoxURL() {
		t.Fatalf("unexpected box %#v", view.Box)
	}
	if len(view.Log) == 0 || view.Log[len(view.Log)-1].Text != "ready" {
		t.Fatalf("unexpected install log %#v", view.Log)
	}

	if out := env.mustRun(t, "box", "install"); !strings.Contains(out, "state: provisioned") {
		t.Fatalf("second install should report the existing box, got %q", out)
	}
}

func TestBoxStatusSchemaQuery(t *testing.T) {
	env := newCLIEnv(t)
	env.login(t)

	probeQuery := func() string {
		t.Helper()
		for _, req := range env.srv.Requests() {
			if req.Method == http.MethodGet && req.Path == "/cell/__box" {
				return req.Query
			}
		}
		t.Fatal("no box request recorded")
		return ""
	}

	env.srv.ResetRequests()
	env.mustRun(t, "box", "status")
	if q := probeQuery(); q != "" {
		t.Fatalf("box probe sent %q without a configured schema", q)
	}

	env.cfg.BoxSchemaURL = env.srv.AppCellURL()
	env.srv.ResetRequests()
	env.mustRun(t, "box", "status")
	if q := probeQuery(); !strings.HasPrefix(q, "schema=") {
		t.Fatalf("expected schema query, got %q", q)
	}
}

func TestDraftSetAndShow(t *testing.T) {
	env := newCLIEnv(t)

	if out := env.mustRun(t, "draft", "show"); !strings.Contains(out, "welcome draft") {
		t.Fatalf("expected welcome draft summary, got %q", out)
	}

	doc := `{"blocks":[{"type":"header","data":{"text":"Hello","level":1}},{"type":"paragraph","data":{"text":"World"}}]}`
	if _, err := env.run(t, doc, "draft", "set", "-"); err != nil {
		t.Fatalf("draft set: %v", err)
	}
	out := env.mustRun(t, "draft", "show")
	if !strings.Contains(out, "blocks: 2") || !strings.Contains(out, "h1 Hello") {
		t.Fatalf("unexpected summary %q", out)
	}
}

func TestDraftSetRejectsUnknownImage(t *testing.T) {
	env := newCLIEnv(t)
	doc := `{"blocks":[{"type":"image","data":{"file":{"url":"","key":"img-nope00"}}}]}`
	_, err := env.run(t, doc, "draft", "set", "-")
	if apperr.CodeOf(err) != apperr.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestDraftImportMarkdown(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cat.png"), testPNG, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	src := "---\ntitle: Cats\n---\n\nSome *text*.\n\n![cat](cat.png)\n"
	mdPath := filepath.Join(dir, "post.md")
	if err := os.WriteFile(mdPath, []byte(src), 0o644); err != nil {
		t.Fatalf("write markdown: %v", err)
	}

	if out := env.mustRun(t, "draft", "import", mdPath); out != "imported 3 blocks, 1 images stored\n" {
		t.Fatalf("unexpected import output %q", out)
	}
	out := env.mustRun(t, "draft", "images")
	if !strings.Contains(out, "cat.png") || !strings.Contains(out, "image/png") {
		t.Fatalf("unexpected image listing %q", out)
	}
}

func TestMigrateDryRun(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "--json", "migrate", "--dry-run")
	var plan store.MigrationStatus
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.CurrentVersion != 0 || len(plan.Pending) == 0 {
		t.Fatalf("expected pending migrations on a fresh data dir, got %#v", plan)
	}

	if out := env.mustRun(t, "migrate"); !strings.Contains(out, "No pending migrations.") {
		t.Fatalf("unexpected migrate output %q", out)
	}
}
