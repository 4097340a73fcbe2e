package portal

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LimitedTransport throttles a client's outgoing requests. Merchant
// portals ban aggressive clients, so every adapter's HTTP traffic goes
// through one of these.
type LimitedTransport struct {
	Base    http.RoundTripper
	Limiter *rate.Limiter
}

func (t *LimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// RateLimit wraps the client's transport with a per-second request limit.
func RateLimit(client *http.Client, perSecond rate.Limit, burst int) {
	client.Transport = &LimitedTransport{
		Base:    client.Transport,
		Limiter: rate.NewLimiter(perSecond, burst),
	}
}

// DownloadToFile fetches a URL and writes the body into destDir under
// filename, returning the full path.
func DownloadToFile(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, destDir, filename string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "portal: create download request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "portal: download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("portal: download: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "portal: create download dir")
	}

	path := filepath.Join(destDir, filename)
	file, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "portal: create download file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "portal: write download")
	}

	zap.L().Debug("artifact downloaded",
		zap.String("url", rawURL),
		zap.String("path", path),
		zap.Int64("bytes", n),
	)
	return path, nil
}
