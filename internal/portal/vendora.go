package portal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
	"github.com/merchant-ops/portalsync/internal/session"
)

// Vendora fingerprints browsers aggressively, so it runs on a persistent
// Chrome profile. The whole profile directory is archived as session
// material after the browser shuts down, and restored before the next
// run's browser starts.
type Vendora struct {
	cfg     config.PortalConfig
	tempDir string
}

func NewVendora(cfg config.PortalConfig, tempDir string) *Vendora {
	return &Vendora{cfg: cfg, tempDir: tempDir}
}

func (v *Vendora) Name() string    { return "vendora" }
func (v *Vendora) Kinds() []string { return []string{"sales", "inventory"} }

func (v *Vendora) Authenticate(ctx context.Context, sess *Session) error {
	profileDir := filepath.Join(v.tempDir, "vendora-profile")
	if err := os.RemoveAll(profileDir); err != nil {
		return eris.Wrap(err, "vendora: clear stale profile")
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return eris.Wrap(err, "vendora: create profile dir")
	}
	sess.ProfileDir = profileDir

	if sess.Material != nil {
		if err := session.UnpackDir(sess.Material.Data, profileDir); err != nil {
			zap.L().Warn("vendora: stored profile unusable, starting clean", zap.Error(err))
		}
	}

	// Allocated from the lifecycle context so the profile-backed browser is
	// still running when Retrieve exports its cookies; the phase deadline
	// bounds the login actions only.
	browser, cancels, err := NewBrowser(sess.Root, v.cfg.Headless, profileDir)
	if err != nil {
		return err
	}
	sess.AttachBrowser(browser, cancels...)

	runCtx, cancel := withPhaseDeadline(browser, ctx)
	defer cancel()

	var loggedIn bool
	err = chromedp.Run(runCtx,
		chromedp.Navigate(v.url("/portal/home")),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.querySelector('#signin-form') === null`, &loggedIn),
	)
	if err != nil {
		return eris.Wrap(err, "vendora: open portal")
	}

	if !loggedIn {
		zap.L().Info("vendora: profile session expired, logging in")
		err = chromedp.Run(runCtx,
			chromedp.WaitVisible(`#signin-form input[name=email]`),
			chromedp.SetValue(`#signin-form input[name=email]`, v.cfg.Username),
			chromedp.SetValue(`#signin-form input[name=password]`, v.cfg.Password),
			chromedp.Click(`#signin-form button[type=submit]`),
			chromedp.WaitVisible(`nav .user-badge`),
		)
		if err != nil {
			return eris.Wrap(err, "vendora: form login")
		}
	}

	return nil
}

func (v *Vendora) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	runCtx, cancel := withPhaseDeadline(sess.Browser, ctx)
	defer cancel()

	cookies, err := ExportCookies(runCtx)
	if err != nil {
		return extract.Artifact{}, err
	}
	if err := CookiesIntoJar(cookies, sess.HTTP, v.cfg.BaseURL); err != nil {
		return extract.Artifact{}, err
	}

	u := fmt.Sprintf("%s?date=%s", v.url("/portal/reports/"+kind+".xlsx"), date.Format("2006-01-02"))
	filename := fmt.Sprintf("vendora_%s_%s.xlsx", kind, date.Format("2006-01-02"))

	path, err := DownloadToFile(ctx, sess.HTTP, u, nil, v.tempDir, filename)
	if err != nil {
		return extract.Artifact{}, err
	}

	return extract.Artifact{
		Portal:   v.Name(),
		Kind:     kind,
		Path:     path,
		Contract: v.contract(kind),
	}, nil
}

// Terminate shuts the browser down first so Chrome flushes the profile to
// disk, then archives the profile as this run's session material.
func (v *Vendora) Terminate(ctx context.Context, sess *Session) error {
	sess.CloseBrowser()

	if sess.ProfileDir == "" {
		return nil
	}
	data, err := session.ArchiveDir(sess.ProfileDir)
	if err != nil {
		return eris.Wrap(err, "vendora: archive profile")
	}
	sess.Stage(data)
	return nil
}

func (v *Vendora) contract(kind string) extract.Contract {
	switch kind {
	case "inventory":
		return extract.Contract{
			Format:          extract.FormatXLSX,
			RequiredColumns: []string{"item code", "on hand", "reserved"},
		}
	default:
		return extract.Contract{
			Format:          extract.FormatXLSX,
			RequiredColumns: []string{"item code", "units", "net sales"},
		}
	}
}

func (v *Vendora) Mapping(kind string) normalize.Mapping {
	switch kind {
	case "inventory":
		return normalize.Mapping{
			SKUColumn: "item code",
			Metrics: map[string]string{
				"units_on_hand":  "on hand",
				"units_reserved": "reserved",
			},
		}
	default:
		return normalize.Mapping{
			SKUColumn: "item code",
			Metrics: map[string]string{
				"units_sold": "units",
				"revenue":    "net sales",
			},
		}
	}
}

func (v *Vendora) url(p string) string {
	return strings.TrimRight(v.cfg.BaseURL, "/") + p
}
