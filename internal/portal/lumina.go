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

// Lumina challenges every credential login with an emailed one-time code
// and serves exports through queued report jobs: submit, poll until ready,
// then download a ZIP-wrapped CSV. Tokens survive across runs, so a stored
// token usually skips the whole email dance.
type Lumina struct {
	cfg     config.PortalConfig
	tempDir string
	mailbox *MailboxClient
}

func NewLumina(cfg config.PortalConfig, tempDir string) *Lumina {
	return &Lumina{
		cfg:     cfg,
		tempDir: tempDir,
		mailbox: &MailboxClient{
			BaseURL: cfg.Mailbox.BaseURL,
			Token:   cfg.Mailbox.Token,
			HTTP:    &http.Client{Timeout: 15 * time.Second},
		},
	}
}

func (l *Lumina) Name() string    { return "lumina" }
func (l *Lumina) Kinds() []string { return []string{"sales", "inventory"} }

func (l *Lumina) Authenticate(ctx context.Context, sess *Session) error {
	RateLimit(sess.HTTP, 3, 3)

	if sess.Material != nil {
		var saved tokenMaterial
		if err := json.Unmarshal(sess.Material.Data, &saved); err == nil && saved.Token != "" {
			if l.tokenValid(ctx, sess, saved.Token) {
				sess.Token = saved.Token
				zap.L().Debug("lumina: reusing stored token")
				return nil
			}
			zap.L().Info("lumina: stored token rejected, full login with emailed code")
		}
	}

	loginStart := time.Now().UTC()

	var challenge struct {
		ChallengeID string `json:"challenge_id"`
	}
	status, err := l.postJSON(ctx, sess, "/api/v2/login", map[string]string{
		"username": l.cfg.Username,
		"password": l.cfg.Password,
	}, &challenge)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return eris.New("lumina: credentials rejected")
	}
	if status != http.StatusAccepted || challenge.ChallengeID == "" {
		return eris.Errorf("lumina: login returned status %d without challenge", status)
	}

	code, err := l.mailbox.WaitForCode(ctx, loginStart, 5*time.Second)
	if err != nil {
		return eris.Wrap(err, "lumina: emailed code never arrived")
	}

	var out tokenMaterial
	status, err = l.postJSON(ctx, sess, "/api/v2/login/verify", map[string]string{
		"challenge_id": challenge.ChallengeID,
		"code":         code,
	}, &out)
	if err != nil {
		return err
	}
	if status != http.StatusOK || out.Token == "" {
		return eris.Errorf("lumina: code verification returned status %d", status)
	}

	sess.Token = out.Token
	data, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "lumina: marshal session material")
	}
	sess.Stage(data)
	return nil
}

func (l *Lumina) tokenValid(ctx context.Context, sess *Session, token string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url("/api/v2/session"), nil)
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

type luminaJob struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	Error       string `json:"error"`
}

// Retrieve submits a report job and polls until the portal marks it ready
// or the phase deadline kills the wait.
func (l *Lumina) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	var job luminaJob
	status, err := l.postJSON(ctx, sess, "/api/v2/reports", map[string]string{
		"type": kind,
		"date": date.Format("2006-01-02"),
	}, &job)
	if err != nil {
		return extract.Artifact{}, err
	}
	if status != http.StatusAccepted || job.JobID == "" {
		return extract.Artifact{}, eris.Errorf("lumina: report submit returned status %d", status)
	}

	zap.L().Info("lumina: report job queued",
		zap.String("job_id", job.JobID),
		zap.String("kind", kind),
	)

	downloadURL, err := l.pollJob(ctx, sess, job.JobID)
	if err != nil {
		return extract.Artifact{}, err
	}

	filename := fmt.Sprintf("lumina_%s_%s.zip", kind, date.Format("2006-01-02"))
	path, err := DownloadToFile(ctx, sess.HTTP, downloadURL,
		map[string]string{"Authorization": "Bearer " + sess.Token},
		l.tempDir, filename)
	if err != nil {
		return extract.Artifact{}, err
	}

	return extract.Artifact{
		Portal:   l.Name(),
		Kind:     kind,
		Path:     path,
		Contract: l.contract(kind),
	}, nil
}

func (l *Lumina) pollJob(ctx context.Context, sess *Session, jobID string) (string, error) {
	ticker := time.NewTicker(l.cfg.PollInterval())
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url("/api/v2/reports/"+jobID), nil)
		if err != nil {
			return "", eris.Wrap(err, "lumina: create poll request")
		}
		req.Header.Set("Authorization", "Bearer "+sess.Token)

		resp, err := sess.HTTP.Do(req)
		if err != nil {
			return "", eris.Wrap(err, "lumina: poll report job")
		}

		var job luminaJob
		err = json.NewDecoder(resp.Body).Decode(&job)
		resp.Body.Close() //nolint:errcheck
		if err != nil {
			return "", eris.Wrap(err, "lumina: decode job status")
		}

		switch job.Status {
		case "ready":
			if job.DownloadURL == "" {
				return "", eris.New("lumina: job ready without download url")
			}
			if strings.HasPrefix(job.DownloadURL, "/") {
				return l.url(job.DownloadURL), nil
			}
			return job.DownloadURL, nil
		case "failed":
			return "", eris.Errorf("lumina: report job failed: %s", job.Error)
		}

		select {
		case <-ctx.Done():
			return "", eris.Wrapf(ctx.Err(), "lumina: report job %s not ready before deadline", jobID)
		case <-ticker.C:
		}
	}
}

// Terminate keeps the token alive so the next run can skip the emailed
// code challenge.
func (l *Lumina) Terminate(ctx context.Context, sess *Session) error { return nil }

func (l *Lumina) contract(kind string) extract.Contract {
	switch kind {
	case "inventory":
		return extract.Contract{
			Format:          extract.FormatZipCSV,
			RequiredColumns: []string{"sku", "warehouse city", "available", "held"},
		}
	default:
		return extract.Contract{
			Format:          extract.FormatZipCSV,
			RequiredColumns: []string{"sku", "city", "quantity", "gross revenue"},
		}
	}
}

func (l *Lumina) Mapping(kind string) normalize.Mapping {
	switch kind {
	case "inventory":
		return normalize.Mapping{
			SKUColumn:  "sku",
			CityColumn: "warehouse city",
			Metrics: map[string]string{
				"units_on_hand":  "available",
				"units_reserved": "held",
			},
		}
	default:
		return normalize.Mapping{
			SKUColumn:  "sku",
			CityColumn: "city",
			Metrics: map[string]string{
				"units_sold": "quantity",
				"revenue":    "gross revenue",
			},
		}
	}
}

func (l *Lumina) postJSON(ctx context.Context, sess *Session, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, eris.Wrap(err, "lumina: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url(path), bytes.NewReader(body))
	if err != nil {
		return 0, eris.Wrap(err, "lumina: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	resp, err := sess.HTTP.Do(req)
	if err != nil {
		return 0, eris.Wrapf(err, "lumina: POST %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, eris.Wrapf(err, "lumina: decode response from %s", path)
		}
	}
	return resp.StatusCode, nil
}

func (l *Lumina) url(p string) string {
	return strings.TrimRight(l.cfg.BaseURL, "/") + p
}
