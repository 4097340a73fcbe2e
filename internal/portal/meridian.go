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
	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
)

// Meridian is a pure REST portal: token login, CSV exports, tokens that
// stay valid for days. Session material is the bearer token.
type Meridian struct {
	cfg     config.PortalConfig
	tempDir string
}

func NewMeridian(cfg config.PortalConfig, tempDir string) *Meridian {
	return &Meridian{cfg: cfg, tempDir: tempDir}
}

func (m *Meridian) Name() string    { return "meridian" }
func (m *Meridian) Kinds() []string { return []string{"sales", "inventory"} }

type tokenMaterial struct {
	Token string `json:"token"`
}

func (m *Meridian) Authenticate(ctx context.Context, sess *Session) error {
	RateLimit(sess.HTTP, 5, 5)

	if sess.Material != nil {
		var saved tokenMaterial
		if err := json.Unmarshal(sess.Material.Data, &saved); err == nil && saved.Token != "" {
			if m.tokenValid(ctx, sess, saved.Token) {
				sess.Token = saved.Token
				zap.L().Debug("meridian: reusing stored token")
				return nil
			}
			zap.L().Info("meridian: stored token rejected, logging in")
		}
	}

	body, err := json.Marshal(map[string]string{
		"username": m.cfg.Username,
		"password": m.cfg.Password,
	})
	if err != nil {
		return eris.Wrap(err, "meridian: marshal login")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url("/api/v1/auth/login"), bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "meridian: create login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sess.HTTP.Do(req)
	if err != nil {
		return eris.Wrap(err, "meridian: login request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusUnauthorized {
		return eris.New("meridian: credentials rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("meridian: login returned status %d", resp.StatusCode)
	}

	var out tokenMaterial
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return eris.Wrap(err, "meridian: decode login response")
	}
	if out.Token == "" {
		return eris.New("meridian: login returned empty token")
	}

	sess.Token = out.Token
	data, err := json.Marshal(tokenMaterial{Token: out.Token})
	if err != nil {
		return eris.Wrap(err, "meridian: marshal session material")
	}
	sess.Stage(data)
	return nil
}

func (m *Meridian) tokenValid(ctx context.Context, sess *Session, token string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url("/api/v1/me"), nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := sess.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

func (m *Meridian) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	u := fmt.Sprintf("%s?date=%s", m.url("/api/v1/exports/"+kind), date.Format("2006-01-02"))
	filename := fmt.Sprintf("meridian_%s_%s.csv", kind, date.Format("2006-01-02"))

	path, err := DownloadToFile(ctx, sess.HTTP, u,
		map[string]string{"Authorization": "Bearer " + sess.Token},
		m.tempDir, filename)
	if err != nil {
		return extract.Artifact{}, err
	}

	return extract.Artifact{
		Portal:   m.Name(),
		Kind:     kind,
		Path:     path,
		Contract: m.contract(kind),
	}, nil
}

// Terminate is a no-op: meridian tokens are long lived and invalidating
// one would defeat session reuse.
func (m *Meridian) Terminate(ctx context.Context, sess *Session) error { return nil }

func (m *Meridian) contract(kind string) extract.Contract {
	switch kind {
	case "inventory":
		return extract.Contract{
			Format:          extract.FormatCSV,
			RequiredColumns: []string{"sku", "on hand", "reserved"},
		}
	default:
		return extract.Contract{
			Format:          extract.FormatCSV,
			RequiredColumns: []string{"sku", "city", "units sold", "revenue"},
		}
	}
}

func (m *Meridian) Mapping(kind string) normalize.Mapping {
	switch kind {
	case "inventory":
		return normalize.Mapping{
			SKUColumn: "sku",
			Metrics: map[string]string{
				"units_on_hand":  "on hand",
				"units_reserved": "reserved",
			},
		}
	default:
		return normalize.Mapping{
			SKUColumn:  "sku",
			CityColumn: "city",
			Metrics: map[string]string{
				"units_sold": "units sold",
				"revenue":    "revenue",
			},
		}
	}
}

func (m *Meridian) url(p string) string {
	return strings.TrimRight(m.cfg.BaseURL, "/") + p
}
