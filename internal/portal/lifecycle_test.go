package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchant-ops/portalsync/internal/extract"
	"github.com/merchant-ops/portalsync/internal/normalize"
	"github.com/merchant-ops/portalsync/internal/session"
)

type memStore struct {
	materials map[string][]byte
	fetchErr  error
	puts      int
}

func newMemStore() *memStore {
	return &memStore{materials: make(map[string][]byte)}
}

func (s *memStore) Fetch(ctx context.Context, portal string) (*session.Material, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	data, ok := s.materials[portal]
	if !ok {
		return nil, nil
	}
	return &session.Material{Portal: portal, Data: data}, nil
}

func (s *memStore) Put(ctx context.Context, portal string, m *session.Material) error {
	s.puts++
	s.materials[portal] = m.Data
	return nil
}

type fakeAdapter struct {
	calls       []string
	authErr     error
	retrieveErr error
	stage       []byte
	sawMaterial *session.Material
}

func (f *fakeAdapter) Name() string    { return "fakeportal" }
func (f *fakeAdapter) Kinds() []string { return []string{"sales"} }

func (f *fakeAdapter) Authenticate(ctx context.Context, sess *Session) error {
	f.calls = append(f.calls, "authenticate")
	f.sawMaterial = sess.Material
	if f.authErr != nil {
		return f.authErr
	}
	if f.stage != nil {
		sess.Stage(f.stage)
	}
	return nil
}

func (f *fakeAdapter) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	f.calls = append(f.calls, "retrieve")
	if f.retrieveErr != nil {
		return extract.Artifact{}, f.retrieveErr
	}
	return extract.Artifact{Portal: f.Name(), Kind: kind, Path: "/tmp/fake.csv"}, nil
}

func (f *fakeAdapter) Terminate(ctx context.Context, sess *Session) error {
	f.calls = append(f.calls, "terminate")
	return nil
}

func (f *fakeAdapter) Mapping(kind string) normalize.Mapping {
	return normalize.Mapping{SKUColumn: "sku", Metrics: map[string]string{"units_sold": "units"}}
}

func lifecycleOpts() LifecycleOpts {
	return LifecycleOpts{AuthTimeout: 5 * time.Second, RetrieveTimeout: 5 * time.Second}
}

func TestRunLifecycle_PhaseOrder(t *testing.T) {
	ad := &fakeAdapter{stage: []byte("state")}
	store := newMemStore()

	artifact, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/fake.csv", artifact.Path)
	assert.Equal(t, []string{"authenticate", "retrieve", "terminate"}, ad.calls)

	// Material staged during authenticate lands in the store after terminate.
	assert.Equal(t, 1, store.puts)
	assert.Equal(t, []byte("state"), store.materials["fakeportal"])
}

func TestRunLifecycle_AuthFailureSkipsRetrieve(t *testing.T) {
	ad := &fakeAdapter{authErr: errors.New("bad credentials"), stage: []byte("x")}
	store := newMemStore()

	_, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.Error(t, err)

	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, "fakeportal", authErr.Portal)

	// Terminate still ran; retrieve never did; nothing was persisted.
	assert.Equal(t, []string{"authenticate", "terminate"}, ad.calls)
	assert.Zero(t, store.puts)
}

func TestRunLifecycle_RetrieveFailureStillPersists(t *testing.T) {
	ad := &fakeAdapter{retrieveErr: errors.New("export endpoint 500"), stage: []byte("fresh")}
	store := newMemStore()

	_, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.Error(t, err)

	var retrErr *RetrievalError
	assert.ErrorAs(t, err, &retrErr)
	assert.Equal(t, "sales", retrErr.Kind)

	assert.Equal(t, []string{"authenticate", "retrieve", "terminate"}, ad.calls)

	// Auth worked, so the session is worth keeping even though retrieval failed.
	assert.Equal(t, 1, store.puts)
}

func TestRunLifecycle_StoredMaterialReachesAdapter(t *testing.T) {
	ad := &fakeAdapter{}
	store := newMemStore()
	store.materials["fakeportal"] = []byte("old-state")

	_, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.NoError(t, err)
	require.NotNil(t, ad.sawMaterial)
	assert.Equal(t, []byte("old-state"), ad.sawMaterial.Data)
}

func TestRunLifecycle_FetchErrorFallsBackToFullLogin(t *testing.T) {
	ad := &fakeAdapter{}
	store := newMemStore()
	store.fetchErr = errors.New("bucket unreachable")

	_, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.NoError(t, err)
	assert.Nil(t, ad.sawMaterial, "a store error must look like an absent session")
}

// browserAdapter mimics the browser portals: it allocates a context from
// Session.Root during authenticate and reads it back during retrieve, the
// same shape NewBrowser produces.
type browserAdapter struct {
	fakeAdapter
	browserErrAtRetrieve error
}

func (b *browserAdapter) Authenticate(ctx context.Context, sess *Session) error {
	browser, cancel := context.WithCancel(sess.Root)
	sess.AttachBrowser(browser, cancel)
	return nil
}

func (b *browserAdapter) Retrieve(ctx context.Context, sess *Session, date time.Time, kind string) (extract.Artifact, error) {
	b.browserErrAtRetrieve = sess.Browser.Err()
	return extract.Artifact{Portal: b.Name(), Kind: kind}, nil
}

func TestRunLifecycle_BrowserSurvivesIntoRetrieve(t *testing.T) {
	ad := &browserAdapter{}
	store := newMemStore()

	_, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.NoError(t, err)
	assert.NoError(t, ad.browserErrAtRetrieve,
		"a browser allocated during authenticate must still be alive during retrieve")
}

func TestWithPhaseDeadline(t *testing.T) {
	browser, cancelBrowser := context.WithCancel(context.Background())
	defer cancelBrowser()

	phase, cancelPhase := context.WithTimeout(context.Background(), time.Hour)
	defer cancelPhase()

	bounded, cancel := withPhaseDeadline(browser, phase)
	defer cancel()

	deadline, ok := bounded.Deadline()
	require.True(t, ok)
	phaseDeadline, _ := phase.Deadline()
	assert.Equal(t, phaseDeadline, deadline)

	// Ending the bounded actions must not take the browser down with them.
	cancel()
	assert.Error(t, bounded.Err())
	assert.NoError(t, browser.Err())
}

func TestRunLifecycle_NothingStagedNothingStored(t *testing.T) {
	ad := &fakeAdapter{} // never stages
	store := newMemStore()

	_, err := RunLifecycle(context.Background(), ad, store, time.Now(), "sales", lifecycleOpts())
	require.NoError(t, err)
	assert.Zero(t, store.puts)
}
