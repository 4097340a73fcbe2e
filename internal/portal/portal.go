// Package portal defines the adapter contract for merchant portals and the
// three-phase lifecycle that drives every retrieval: authenticate, retrieve,
// terminate. Adapters own portal-specific mechanics; the lifecycle owns
// ordering, timeouts, diagnostics, and session persistence.
package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
	"github.com/merchant-ops/portalsync/internal/session"
)

// AuthError marks a failure in the authenticate phase.
type AuthError struct {
	Portal string
	Err    error
}

func (e *AuthError) Error() string { return fmt.Sprintf("portal %s: authentication: %v", e.Portal, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// RetrievalError marks a failure in the retrieve phase: the portal accepted
// our credentials but would not hand over the artifact.
type RetrievalError struct {
	Portal string
	Kind   string
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("portal %s: retrieve %s: %v", e.Portal, e.Kind, e.Err)
}
func (e *RetrievalError) Unwrap() error { return e.Err }

// Session is the mutable state of one lifecycle run. The lifecycle creates
// it; the adapter fills in whatever transport it needs.
type Session struct {
	Portal   string
	Material *session.Material // persisted state from a previous run, nil if absent

	HTTP  *http.Client
	Token string

	// Root spans the whole lifecycle. Browser processes must be allocated
	// from it, never from a phase context: each phase context is cancelled
	// as its phase ends, and the browser has to survive Authenticate so
	// Retrieve can still drive it.
	Root context.Context

	Browser    context.Context // chromedp tab context, nil for API-only portals
	ProfileDir string

	cancels       []context.CancelFunc
	staged        []byte
	authenticated bool
}

func newSession(portal string, m *session.Material, timeout time.Duration) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		Portal:   portal,
		Material: m,
		HTTP: &http.Client{
			Timeout: timeout,
			Jar:     jar,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Stage records session material to be persisted once the lifecycle
// completes its terminate phase. Staging nothing means nothing is stored.
func (s *Session) Stage(data []byte) { s.staged = data }

// AttachBrowser registers a chromedp context and its cancel funcs so the
// lifecycle can capture diagnostics and guarantee teardown.
func (s *Session) AttachBrowser(ctx context.Context, cancels ...context.CancelFunc) {
	s.Browser = ctx
	s.cancels = append(s.cancels, cancels...)
}

// CloseBrowser tears down any attached browser. Safe to call twice.
func (s *Session) CloseBrowser() {
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
	s.cancels = nil
	s.Browser = nil
}

// Adapter is one portal's implementation of the lifecycle phases.
//
// Authenticate must try staged material first when Session.Material is set
// and fall back to a full credential login if it is stale. Retrieve runs
// only after a successful Authenticate. Terminate is best effort and is
// called even when an earlier phase failed, so it must tolerate a
// half-built session.
type Adapter interface {
	Name() string
	Kinds() []string
	Authenticate(ctx context.Context, sess *Session) error
	Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error)
	Terminate(ctx context.Context, sess *Session) error

	// Mapping describes how this portal's columns translate to canonical
	// fact records for a data kind.
	Mapping(kind string) normalize.Mapping
}
