package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchant-ops/portalsync/internal/config"
	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/session"
)

type meridianServer struct {
	validToken string
	logins     int
	exports    int
}

func (s *meridianServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer "+s.validToken {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.logins++
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "acct" || creds["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(tokenMaterial{Token: s.validToken})
	})
	mux.HandleFunc("/api/v1/exports/sales", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.exports++
		_, _ = w.Write([]byte("sku,city,units sold,revenue\nA-1,Chicago,5,100\n"))
	})
	return mux
}

func meridianForTest(t *testing.T, baseURL string) *Meridian {
	t.Helper()
	return NewMeridian(config.PortalConfig{
		BaseURL:  baseURL,
		Username: "acct",
		Password: "pw",
	}, t.TempDir())
}

func TestMeridian_ReusesStoredToken(t *testing.T) {
	srv := &meridianServer{validToken: "tok-live"}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	m := meridianForTest(t, ts.URL)
	material, _ := json.Marshal(tokenMaterial{Token: "tok-live"})
	sess := newSession("meridian", &session.Material{Portal: "meridian", Data: material}, time.Minute)

	require.NoError(t, m.Authenticate(context.Background(), sess))
	assert.Equal(t, "tok-live", sess.Token)
	assert.Zero(t, srv.logins, "a valid stored token must not trigger a login")
	assert.Nil(t, sess.staged, "reused sessions are not re-persisted")
}

func TestMeridian_StaleTokenFallsBackToLogin(t *testing.T) {
	srv := &meridianServer{validToken: "tok-new"}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	m := meridianForTest(t, ts.URL)
	material, _ := json.Marshal(tokenMaterial{Token: "tok-expired"})
	sess := newSession("meridian", &session.Material{Portal: "meridian", Data: material}, time.Minute)

	require.NoError(t, m.Authenticate(context.Background(), sess))
	assert.Equal(t, "tok-new", sess.Token)
	assert.Equal(t, 1, srv.logins)

	var staged tokenMaterial
	require.NoError(t, json.Unmarshal(sess.staged, &staged))
	assert.Equal(t, "tok-new", staged.Token)
}

func TestMeridian_NoMaterialDoesFullLogin(t *testing.T) {
	srv := &meridianServer{validToken: "tok-new"}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	m := meridianForTest(t, ts.URL)
	sess := newSession("meridian", nil, time.Minute)

	require.NoError(t, m.Authenticate(context.Background(), sess))
	assert.Equal(t, 1, srv.logins)
}

func TestMeridian_BadCredentials(t *testing.T) {
	srv := &meridianServer{validToken: "tok"}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	m := NewMeridian(config.PortalConfig{BaseURL: ts.URL, Username: "acct", Password: "wrong"}, t.TempDir())
	sess := newSession("meridian", nil, time.Minute)

	err := m.Authenticate(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials rejected")
}

func TestMeridian_Retrieve(t *testing.T) {
	srv := &meridianServer{validToken: "tok"}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	m := meridianForTest(t, ts.URL)
	sess := newSession("meridian", nil, time.Minute)
	sess.Token = "tok"

	date := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	artifact, err := m.Retrieve(context.Background(), sess, date, "sales")
	require.NoError(t, err)
	assert.Equal(t, extract.FormatCSV, artifact.Contract.Format)

	data, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "A-1,Chicago,5,100")

	// The downloaded file satisfies the declared contract end to end.
	rows, err := extract.Rows(artifact)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "5", rows[0].Get("units sold"))
}
