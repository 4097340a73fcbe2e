package portal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
)

// Cartwheel has no API. Login happens through a browser form; exports are
// XLSX files fetched over plain HTTP once the browser's cookies are copied
// into the HTTP client. Session material is the serialized cookie jar.
type Cartwheel struct {
	cfg     config.PortalConfig
	tempDir string
}

func NewCartwheel(cfg config.PortalConfig, tempDir string) *Cartwheel {
	return &Cartwheel{cfg: cfg, tempDir: tempDir}
}

func (c *Cartwheel) Name() string    { return "cartwheel" }
func (c *Cartwheel) Kinds() []string { return []string{"sales"} }

func (c *Cartwheel) Authenticate(ctx context.Context, sess *Session) error {
	// The browser outlives this phase: Retrieve reads its cookies after the
	// auth context is gone. Allocate from the lifecycle context and bound
	// only the login actions with the phase deadline.
	browser, cancels, err := NewBrowser(sess.Root, c.cfg.Headless, "")
	if err != nil {
		return err
	}
	sess.AttachBrowser(browser, cancels...)

	runCtx, cancel := withPhaseDeadline(browser, ctx)
	defer cancel()

	if sess.Material != nil {
		if err := ImportCookies(runCtx, sess.Material.Data); err != nil {
			zap.L().Warn("cartwheel: stored cookies unusable", zap.Error(err))
		}
	}

	var loggedIn bool
	err = chromedp.Run(runCtx,
		chromedp.Navigate(c.url("/dashboard")),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`document.querySelector('form#login') === null`, &loggedIn),
	)
	if err != nil {
		return eris.Wrap(err, "cartwheel: open dashboard")
	}

	if !loggedIn {
		zap.L().Info("cartwheel: no live session, logging in through form")
		err = chromedp.Run(runCtx,
			chromedp.WaitVisible(`form#login input[name=username]`),
			chromedp.SetValue(`form#login input[name=username]`, c.cfg.Username),
			chromedp.SetValue(`form#login input[name=password]`, c.cfg.Password),
			chromedp.Click(`form#login button[type=submit]`),
			chromedp.WaitVisible(`#account-menu`),
		)
		if err != nil {
			return eris.Wrap(err, "cartwheel: form login")
		}
	}

	cookies, err := ExportCookies(runCtx)
	if err != nil {
		return err
	}
	sess.Stage(cookies)
	return nil
}

func (c *Cartwheel) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	runCtx, cancel := withPhaseDeadline(sess.Browser, ctx)
	defer cancel()

	cookies, err := ExportCookies(runCtx)
	if err != nil {
		return extract.Artifact{}, err
	}
	if err := CookiesIntoJar(cookies, sess.HTTP, c.cfg.BaseURL); err != nil {
		return extract.Artifact{}, err
	}

	u := fmt.Sprintf("%s?date=%s&format=xlsx", c.url("/exports/"+kind), date.Format("2006-01-02"))
	filename := fmt.Sprintf("cartwheel_%s_%s.xlsx", kind, date.Format("2006-01-02"))

	path, err := DownloadToFile(ctx, sess.HTTP, u, nil, c.tempDir, filename)
	if err != nil {
		return extract.Artifact{}, err
	}

	return extract.Artifact{
		Portal: c.Name(),
		Kind:   kind,
		Path:   path,
		Contract: extract.Contract{
			Format:          extract.FormatXLSX,
			RequiredColumns: []string{"product code", "region city", "sold", "sales value"},
		},
	}, nil
}

// Terminate leaves the portal session alive; the exported cookies carry it
// into the next run.
func (c *Cartwheel) Terminate(ctx context.Context, sess *Session) error {
	sess.CloseBrowser()
	return nil
}

func (c *Cartwheel) Mapping(kind string) normalize.Mapping {
	return normalize.Mapping{
		SKUColumn:  "product code",
		CityColumn: "region city",
		Metrics: map[string]string{
			"units_sold": "sold",
			"revenue":    "sales value",
		},
	}
}

func (c *Cartwheel) url(p string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + p
}
