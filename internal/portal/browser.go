package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// NewBrowser starts a Chrome instance and returns a tab context plus the
// cancel funcs that tear it down, in teardown order. profileDir empty means
// a throwaway profile.
func NewBrowser(parent context.Context, headless bool, profileDir string) (context.Context, []context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// Force the browser process up now so failures surface here, not in
	// the middle of a login flow.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, nil, eris.Wrap(err, "portal: start browser")
	}

	return tabCtx, []context.CancelFunc{cancelTab, cancelAlloc}, nil
}

// withPhaseDeadline bounds chromedp actions by the phase context's deadline
// without tying the browser's lifetime to the phase. Cancelling the returned
// context stops in-flight actions; the tab stays alive.
func withPhaseDeadline(browser, phase context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := phase.Deadline(); ok {
		return context.WithDeadline(browser, deadline)
	}
	return context.WithCancel(browser)
}

// browserCookie is the serialized form of one browser cookie in session
// material.
type browserCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
}

// ExportCookies serializes all cookies in the browser context.
func ExportCookies(ctx context.Context) ([]byte, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, eris.Wrap(err, "portal: export cookies")
	}

	out := make([]browserCookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, browserCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, eris.Wrap(err, "portal: marshal cookies")
	}
	return data, nil
}

// ImportCookies loads serialized cookies into the browser context.
func ImportCookies(ctx context.Context, data []byte) error {
	var cookies []browserCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return eris.Wrap(err, "portal: unmarshal cookies")
	}

	return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				param = param.WithExpires(&expiry)
			}
			if err := param.Do(ctx); err != nil {
				return eris.Wrapf(err, "portal: set cookie %s", c.Name)
			}
		}
		return nil
	}))
}

// CookiesIntoJar copies serialized browser cookies into an http.Client's
// cookie jar so file downloads can bypass the browser.
func CookiesIntoJar(data []byte, client *http.Client, baseURL string) error {
	var cookies []browserCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return eris.Wrap(err, "portal: unmarshal cookies")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return eris.Wrap(err, "portal: parse base url")
	}

	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		httpCookies = append(httpCookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Path:   c.Path,
			Domain: c.Domain,
			Secure: c.Secure,
		})
	}
	client.Jar.SetCookies(u, httpCookies)
	return nil
}

// Screenshot captures the current page into dir and returns the file path.
func Screenshot(ctx context.Context, dir, portal, kind, phase string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "portal: create diagnostic dir")
	}

	var buf []byte
	shotCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return "", eris.Wrap(err, "portal: capture screenshot")
	}

	name := fmt.Sprintf("%s_%s_%s_%s.png", portal, kind, phase, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", eris.Wrap(err, "portal: write screenshot")
	}
	return path, nil
}
