package portal

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TOTP computes an RFC 6238 one-time code (SHA-1, 30 second step, 6
// digits) from a base32 shared secret. This is the profile every portal
// authenticator app uses; nothing configurable is needed.
func TOTP(secret string, at time.Time) (string, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	normalized = strings.TrimRight(normalized, "=")

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return "", eris.Wrap(err, "portal: decode totp secret")
	}

	counter := uint64(at.Unix()) / 30

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%06d", code%1_000_000), nil
}

var otpCodePattern = regexp.MustCompile(`\b(\d{6})\b`)

// MailboxClient polls a mailbox REST endpoint for one-time codes delivered
// by email. Portals that challenge with emailed codes get their code from
// here during Authenticate.
type MailboxClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

type mailboxMessage struct {
	ID         string `json:"id"`
	ReceivedAt string `json:"received_at"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// WaitForCode polls for a message received after since and extracts the
// first six-digit code from its body. It gives up when ctx expires.
func (c *MailboxClient) WaitForCode(ctx context.Context, since time.Time, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		code, err := c.checkOnce(ctx, since)
		if err != nil {
			zap.L().Warn("mailbox poll failed", zap.Error(err))
		} else if code != "" {
			return code, nil
		}

		select {
		case <-ctx.Done():
			return "", eris.Wrap(ctx.Err(), "portal: waiting for emailed code")
		case <-ticker.C:
		}
	}
}

func (c *MailboxClient) checkOnce(ctx context.Context, since time.Time) (string, error) {
	u := fmt.Sprintf("%s/messages?since=%s", strings.TrimRight(c.BaseURL, "/"),
		url.QueryEscape(since.UTC().Format(time.RFC3339)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", eris.Wrap(err, "portal: create mailbox request")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "portal: query mailbox")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", eris.Errorf("portal: mailbox returned status %d", resp.StatusCode)
	}

	var messages []mailboxMessage
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return "", eris.Wrap(err, "portal: decode mailbox response")
	}

	// Newest last; take the most recent code.
	for i := len(messages) - 1; i >= 0; i-- {
		if m := otpCodePattern.FindStringSubmatch(messages[i].Body); m != nil {
			return m[1], nil
		}
	}
	return "", nil
}
