package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
)

// BazaarHub requires a TOTP code on every login and expires sessions
// within minutes, so it authenticates fresh each run and never stages
// session material. Its sales export carries unit price, not revenue.
type BazaarHub struct {
	cfg     config.PortalConfig
	tempDir string
	now     func() time.Time
}

func NewBazaarHub(cfg config.PortalConfig, tempDir string) *BazaarHub {
	return &BazaarHub{cfg: cfg, tempDir: tempDir, now: time.Now}
}

func (b *BazaarHub) Name() string    { return "bazaarhub" }
func (b *BazaarHub) Kinds() []string { return []string{"sales"} }

func (b *BazaarHub) Authenticate(ctx context.Context, sess *Session) error {
	RateLimit(sess.HTTP, 2, 2)

	code, err := TOTP(b.cfg.TOTPSecret, b.now())
	if err != nil {
		return eris.Wrap(err, "bazaarhub: compute totp")
	}

	body, err := json.Marshal(map[string]string{
		"username": b.cfg.Username,
		"password": b.cfg.Password,
		"otp":      code,
	})
	if err != nil {
		return eris.Wrap(err, "bazaarhub: marshal login")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url("/api/login"), bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "bazaarhub: create login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sess.HTTP.Do(req)
	if err != nil {
		return eris.Wrap(err, "bazaarhub: login request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized {
		return eris.New("bazaarhub: credentials or otp rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("bazaarhub: login returned status %d", resp.StatusCode)
	}

	var out tokenMaterial
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return eris.Wrap(err, "bazaarhub: decode login response")
	}
	if out.Token == "" {
		return eris.New("bazaarhub: login returned empty token")
	}
	sess.Token = out.Token
	return nil
}

func (b *BazaarHub) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	u := fmt.Sprintf("%s?date=%s", b.url("/api/export/"+kind), date.Format("2006-01-02"))
	filename := fmt.Sprintf("bazaarhub_%s_%s.csv", kind, date.Format("2006-01-02"))

	path, err := DownloadToFile(ctx, sess.HTTP, u,
		map[string]string{"Authorization": "Bearer " + sess.Token},
		b.tempDir, filename)
	if err != nil {
		return extract.Artifact{}, err
	}

	return extract.Artifact{
		Portal: b.Name(),
		Kind:   kind,
		Path:   path,
		Contract: extract.Contract{
			Format:          extract.FormatCSV,
			RequiredColumns: []string{"item sku", "city", "qty", "unit price"},
		},
	}, nil
}

// Terminate logs out so the short-lived session does not linger.
func (b *BazaarHub) Terminate(ctx context.Context, sess *Session) error {
	if sess.Token == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url("/api/logout"), nil)
	if err != nil {
		return eris.Wrap(err, "bazaarhub: create logout request")
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)

	resp, err := sess.HTTP.Do(req)
	if err != nil {
		return eris.Wrap(err, "bazaarhub: logout request")
	}
	resp.Body.Close() //nolint:errcheck
	return nil
}

func (b *BazaarHub) Mapping(kind string) normalize.Mapping {
	return normalize.Mapping{
		SKUColumn:   "item sku",
		CityColumn:  "city",
		Metrics:     map[string]string{"units_sold": "qty"},
		PriceColumn: "unit price",
	}
}

func (b *BazaarHub) url(p string) string {
	return strings.TrimRight(b.cfg.BaseURL, "/") + p
}
