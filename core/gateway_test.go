package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingClassifier struct {
	calls atomic.Int32
	fn    func(ctx context.Context, imagePath string) (string, error)
}

func (c *countingClassifier) Classify(ctx context.Context, imagePath string) (string, error) {
	c.calls.Add(1)
	return c.fn(ctx, imagePath)
}

func labelClassifier(label string) *countingClassifier {
	return &countingClassifier{fn: func(context.Context, string) (string, error) { return label, nil }}
}

type gatewayFixture struct {
	store    *MemoryStore
	issuer   *Issuer
	gateway  *Gateway
	upload   string
	now      time.Time
	classify *countingClassifier
}

func newGatewayFixture(t *testing.T, classifier *countingClassifier, timeout time.Duration) *gatewayFixture {
	t.Helper()
	now := time.Date(2026, time.May, 5, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	upload := filepath.Join(t.TempDir(), "uploads")

	gw, err := NewGateway(GatewayConfig{
		Validator:  NewValidator(store, 4*time.Hour, false, fixedClock(now)),
		Classifier: classifier,
		UploadDir:  upload,
		Timeout:    timeout,
		Logger:     testLogger(),
		Metrics:    NewMetrics(),
	})
	require.NoError(t, err)

	return &gatewayFixture{
		store:    store,
		issuer:   NewIssuer(store, fixedClock(now)),
		gateway:  gw,
		upload:   upload,
		now:      now,
		classify: classifier,
	}
}

func (f *gatewayFixture) credential(t *testing.T) Credential {
	t.Helper()
	c, err := f.issuer.Issue(context.Background())
	require.NoError(t, err)
	return c
}

func TestNewGateway_RequiresCollaborators(t *testing.T) {
	v := NewValidator(NewMemoryStore(), 0, false, nil)

	_, err := NewGateway(GatewayConfig{Classifier: labelClassifier("x"), UploadDir: t.TempDir()})
	assert.Error(t, err)
	_, err = NewGateway(GatewayConfig{Validator: v, UploadDir: t.TempDir()})
	assert.Error(t, err)
	_, err = NewGateway(GatewayConfig{Validator: v, Classifier: labelClassifier("x")})
	assert.Error(t, err)
}

func TestGateway_UnknownCredentialNeverReachesClassifier(t *testing.T) {
	f := newGatewayFixture(t, labelClassifier("cat"), 0)

	for _, id := range []string{"", "made-up"} {
		_, err := f.gateway.Classify(context.Background(), ClassifyRequest{
			CredentialID: id,
			Image:        []byte("img"),
			Filename:     "a.jpg",
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Zero(t, f.classify.calls.Load())

	entries, err := os.ReadDir(f.upload)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written for unauthorized callers")
}

func TestGateway_EmptyImageIsBadRequest(t *testing.T) {
	f := newGatewayFixture(t, labelClassifier("cat"), 0)
	c := f.credential(t)

	_, err := f.gateway.Classify(context.Background(), ClassifyRequest{CredentialID: c.ID, Filename: "a.jpg"})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Zero(t, f.classify.calls.Load())
}

func TestGateway_ClassifierErrorIsWrapped(t *testing.T) {
	boom := errors.New("model weights missing")
	f := newGatewayFixture(t, &countingClassifier{fn: func(context.Context, string) (string, error) {
		return "", boom
	}}, 0)
	c := f.credential(t)

	_, err := f.gateway.Classify(context.Background(), ClassifyRequest{CredentialID: c.ID, Image: []byte("img"), Filename: "a.jpg"})

	var classErr *ClassificationError
	require.ErrorAs(t, err, &classErr)
	assert.ErrorIs(t, err, ErrClassification)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "An error occurred during image classification: model weights missing", classErr.Error())
}

func TestGateway_ClassifierPanicIsWrapped(t *testing.T) {
	f := newGatewayFixture(t, &countingClassifier{fn: func(context.Context, string) (string, error) {
		panic("tensor shape mismatch")
	}}, 0)
	c := f.credential(t)

	_, err := f.gateway.Classify(context.Background(), ClassifyRequest{CredentialID: c.ID, Image: []byte("img"), Filename: "a.jpg"})
	require.ErrorIs(t, err, ErrClassification)
	assert.Contains(t, err.Error(), "tensor shape mismatch")
}

func TestGateway_ClassifierDeadline(t *testing.T) {
	f := newGatewayFixture(t, &countingClassifier{fn: func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}, 20*time.Millisecond)
	c := f.credential(t)

	_, err := f.gateway.Classify(context.Background(), ClassifyRequest{CredentialID: c.ID, Image: []byte("img"), Filename: "a.jpg"})
	require.ErrorIs(t, err, ErrClassification)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGateway_DeadlineHoldsWhenClassifierIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f := newGatewayFixture(t, &countingClassifier{fn: func(context.Context, string) (string, error) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		return "too late", nil
	}}, 30*time.Millisecond)
	c := f.credential(t)

	start := time.Now()
	_, err := f.gateway.Classify(context.Background(), ClassifyRequest{CredentialID: c.ID, Image: []byte("img"), Filename: "a.jpg"})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrClassification)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, time.Second)
}

func TestGateway_SuccessStoresUploadAndReturnsLabel(t *testing.T) {
	var seenPath string
	f := newGatewayFixture(t, &countingClassifier{fn: func(_ context.Context, p string) (string, error) {
		seenPath = p
		return "cat", nil
	}}, 0)
	c := f.credential(t)

	res, err := f.gateway.Classify(context.Background(), ClassifyRequest{
		CredentialID: c.ID,
		Image:        []byte("pixels"),
		Filename:     "../../etc/kitty.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, ClassifyResult{Filename: "../../etc/kitty.jpg", Classification: "cat"}, res)

	assert.Equal(t, filepath.Join(f.upload, "kitty.jpg"), seenPath)
	raw, err := os.ReadFile(seenPath)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(raw))
}

type findCountingStore struct {
	*MemoryStore
	finds atomic.Int32
}

func (s *findCountingStore) Find(ctx context.Context, id string) (Credential, bool, error) {
	s.finds.Add(1)
	return s.MemoryStore.Find(ctx, id)
}

func TestGateway_AuthorizeThenClassifyScansOnce(t *testing.T) {
	ctx := context.Background()
	store := &findCountingStore{MemoryStore: NewMemoryStore()}
	gw, err := NewGateway(GatewayConfig{
		Validator:  NewValidator(store, 0, false, nil),
		Classifier: labelClassifier("cat"),
		UploadDir:  t.TempDir(),
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	c, err := NewIssuer(store, nil).Issue(ctx)
	require.NoError(t, err)

	require.NoError(t, gw.Authorize(ctx, c.ID))
	res, err := gw.ClassifyAuthorized(ctx, ClassifyRequest{CredentialID: c.ID, Image: []byte("img"), Filename: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "cat", res.Classification)
	assert.EqualValues(t, 1, store.finds.Load())

	_, err = gw.ClassifyAuthorized(ctx, ClassifyRequest{CredentialID: c.ID, Filename: "a.jpg"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestGateway_AuthorizeSurfacesStorageErrors(t *testing.T) {
	gw, err := NewGateway(GatewayConfig{
		Validator:  NewValidator(failingStore{err: ErrStorage}, 0, false, nil),
		Classifier: labelClassifier("cat"),
		UploadDir:  t.TempDir(),
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	err = gw.Authorize(context.Background(), "x")
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestUploadName(t *testing.T) {
	assert.Equal(t, "cat.jpg", uploadName("cat.jpg"))
	assert.Equal(t, "cat.jpg", uploadName("/tmp/x/cat.jpg"))
	assert.Equal(t, "cat.jpg", uploadName(`C:\photos\cat.jpg`))
	assert.Regexp(t, `^upload-[0-9a-f-]{36}$`, uploadName(""))
	assert.Regexp(t, `^upload-`, uploadName(".."))
}
