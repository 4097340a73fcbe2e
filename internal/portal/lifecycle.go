package portal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/session"
)

// LifecycleOpts bounds the phases of a run.
type LifecycleOpts struct {
	AuthTimeout     time.Duration
	RetrieveTimeout time.Duration
	DiagnosticDir   string // screenshot destination for browser portals, empty disables
}

// RunLifecycle drives one full authenticate/retrieve/terminate cycle for a
// single portal and data kind.
//
// Ordering rules it enforces:
//   - Retrieve never runs unless Authenticate succeeded.
//   - Terminate always runs, even after a phase failure, so portal-side
//     sessions are not leaked. Its errors are logged, never returned.
//   - Staged session material is persisted only after Terminate, and only
//     when Authenticate succeeded. A failed run never clobbers a stored
//     session that might still be good.
func RunLifecycle(ctx context.Context, ad Adapter, store session.Store, date time.Time, kind string, opts LifecycleOpts) (extract.Artifact, error) {
	log := zap.L().With(zap.String("portal", ad.Name()), zap.String("kind", kind))

	material, err := store.Fetch(ctx, ad.Name())
	if err != nil {
		// A broken session store should not block ingestion; proceed as if
		// no material existed and let the adapter do a full login.
		log.Warn("session fetch failed, falling back to credential login", zap.Error(err))
		material = nil
	}

	sess := newSession(ad.Name(), material, opts.RetrieveTimeout)
	sess.Root = ctx
	defer sess.CloseBrowser()

	authCtx, cancel := context.WithTimeout(ctx, opts.AuthTimeout)
	err = ad.Authenticate(authCtx, sess)
	cancel()
	if err != nil {
		captureDiagnostics(sess, opts.DiagnosticDir, kind, "authenticate")
		terminate(ctx, ad, sess, log)
		return extract.Artifact{}, &AuthError{Portal: ad.Name(), Err: err}
	}
	sess.authenticated = true
	log.Debug("authenticated", zap.Bool("session_reused", material != nil))

	retrCtx, cancel := context.WithTimeout(ctx, opts.RetrieveTimeout)
	artifact, err := ad.Retrieve(retrCtx, sess, date, kind)
	cancel()
	if err != nil {
		captureDiagnostics(sess, opts.DiagnosticDir, kind, "retrieve")
		terminate(ctx, ad, sess, log)
		persistMaterial(ctx, store, sess, log)
		return extract.Artifact{}, &RetrievalError{Portal: ad.Name(), Kind: kind, Err: err}
	}

	terminate(ctx, ad, sess, log)
	persistMaterial(ctx, store, sess, log)

	log.Info("artifact retrieved", zap.String("path", artifact.Path))
	return artifact, nil
}

func terminate(ctx context.Context, ad Adapter, sess *Session, log *zap.Logger) {
	// Terminate gets its own deadline; the phase context may already be dead.
	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := ad.Terminate(termCtx, sess); err != nil {
		log.Warn("terminate phase failed", zap.Error(err))
	}
	sess.CloseBrowser()
}

func persistMaterial(ctx context.Context, store session.Store, sess *Session, log *zap.Logger) {
	if !sess.authenticated || len(sess.staged) == 0 {
		return
	}

	m := &session.Material{Portal: sess.Portal, Data: sess.staged, UpdatedAt: time.Now().UTC()}
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	// Retrieval already succeeded or failed on its own terms; a store
	// write error only costs the next run a full login.
	if err := store.Put(putCtx, sess.Portal, m); err != nil {
		log.Warn("session material not persisted", zap.Error(err))
	}
}

func captureDiagnostics(sess *Session, dir, kind, phase string) {
	if dir == "" || sess.Browser == nil {
		return
	}
	path, err := Screenshot(sess.Browser, dir, sess.Portal, kind, phase)
	if err != nil {
		zap.L().Warn("diagnostic screenshot failed",
			zap.String("portal", sess.Portal),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("diagnostic screenshot captured",
		zap.String("portal", sess.Portal),
		zap.String("path", path),
	)
}
