package remember

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/extractor"
	"github.com/starford/vaultkeeper/internal/linkgraph"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/resolver"
	"github.com/starford/vaultkeeper/internal/storage"
	"github.com/starford/vaultkeeper/internal/testutil"
	"github.com/starford/vaultkeeper/internal/vault"
)

type harness struct {
	svc  *Service
	env  *testutil.Env
	fake *testutil.FakeCapability
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessOn(t, testutil.NewEnv(t, vault.WithMaxAttempts(100)), opts)
}

func newHarnessOn(t *testing.T, env *testutil.Env, opts Options) *harness {
	t.Helper()
	fake := &testutil.FakeCapability{}
	log := testutil.Quiet()
	ex := extractor.New(fake, extractor.Options{SelfEntity: "Me"}, log)
	res := resolver.New(env.Store, env.DB, resolver.Options{SelfEntity: "Me"}, log)
	svc := New(ex, res, env.Store, linkgraph.New(env.Store, log), opts, log)
	return &harness{svc: svc, env: env, fake: fake}
}

func (h *harness) remember(t *testing.T, text string) *Result {
	t.Helper()
	res, err := h.svc.Remember(context.Background(), models.Utterance{Text: text})
	require.NoError(t, err)
	return res
}

func (h *harness) note(t *testing.T, id string) *models.Note {
	t.Helper()
	n, err := h.env.Store.Read(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestRememberSelfFact(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.remember(t, "I like cookies")

	require.Len(t, res.Facts, 1)
	assert.Equal(t, OutcomeAdded, res.Facts[0].Outcome)
	assert.Equal(t, []string{"me.md"}, h.env.Files(t))

	me := h.note(t, "me")
	require.Len(t, me.Facts["likes"], 1)
	f := me.Facts["likes"][0]
	assert.Equal(t, "cookies", f.Value)
	assert.Equal(t, res.UtteranceID, f.Source)
	assert.Equal(t, 1, f.Seen)
	assert.NotEmpty(t, f.ID)
}

func TestRememberIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.remember(t, "Michael likes flowers")
	res := h.remember(t, "Michael likes flowers")

	assert.Equal(t, OutcomeRestated, res.Facts[0].Outcome)
	likes := h.note(t, "michael").Facts["likes"]
	require.Len(t, likes, 1)
	assert.Equal(t, 2, likes[0].Seen)
	assert.Equal(t, []string{"michael.md"}, h.env.Files(t))
}

func TestRememberAccumulates(t *testing.T) {
	h := newHarness(t, Options{})
	h.remember(t, "Michael likes flowers")
	h.remember(t, "Michael likes jazz")

	likes := h.note(t, "michael").Facts["likes"]
	require.Len(t, likes, 2)
	assert.Equal(t, "flowers", likes[0].Value)
	assert.Equal(t, "jazz", likes[1].Value)
}

func TestRememberSingleValuedMovesBacklink(t *testing.T) {
	h := newHarness(t, Options{Single: []string{"partner"}})
	first := h.remember(t, "my partner is Anna")
	assert.Len(t, first.Created, 2)
	anna := h.note(t, "anna")
	require.Len(t, anna.Backlinks, 1)
	assert.Equal(t, "me", anna.Backlinks[0].Entity)

	res := h.remember(t, "my partner is Bella")
	assert.Equal(t, OutcomeReplaced, res.Facts[0].Outcome)

	partner := h.note(t, "me").Facts["partner"]
	require.Len(t, partner, 1)
	assert.Equal(t, "Bella", partner[0].Value)
	assert.Equal(t, "bella", partner[0].Target)

	assert.Empty(t, h.note(t, "anna").Backlinks)
	bella := h.note(t, "bella")
	require.Len(t, bella.Backlinks, 1)
	assert.Equal(t, partner[0].ID, bella.Backlinks[0].Fact)
}

func TestRememberEntityValueLinksOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.remember(t, "Michael's sister is Anna")
	h.remember(t, "Michael's sister is anna")

	sister := h.note(t, "michael").Facts["sister"]
	require.Len(t, sister, 1)
	assert.Equal(t, "Anna", sister[0].Value)
	assert.Len(t, h.note(t, "anna").Backlinks, 1)
}

func TestRememberAmbiguityWritesNothing(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	for id, name := range map[string]string{"jon-smith": "Jon Smith", "jan-smith": "Jan Smith"} {
		_, err := h.env.Store.Create(ctx, models.NewNote(id, name))
		require.NoError(t, err)
	}
	before := h.env.Snapshot(t)

	_, err := h.svc.Remember(ctx, models.Utterance{Text: "Jen Smith likes tea"})
	require.Error(t, err)
	var amb *apperr.AmbiguityError
	assert.True(t, apperr.As(err, &amb))
	assert.Equal(t, before, h.env.Snapshot(t))
}

func TestRememberExtractionFailure(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.svc.Remember(context.Background(), models.Utterance{Text: "hmm"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrExtraction))
	assert.Equal(t, "hmm", apperr.RawText(err))
	assert.Empty(t, h.env.Files(t))
}

func TestRememberCancelledLeavesVaultUnchanged(t *testing.T) {
	h := newHarness(t, Options{})
	h.remember(t, "Michael likes flowers")
	before := h.env.Snapshot(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.svc.Remember(ctx, models.Utterance{Text: "Michael likes jazz"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, h.env.Snapshot(t))
}

func TestRememberKeepsProseBody(t *testing.T) {
	h := newHarness(t, Options{})
	n := models.NewNote("michael", "Michael")
	n.Body = "Met at the climbing gym.\n"
	_, err := h.env.Store.Create(context.Background(), n)
	require.NoError(t, err)

	h.remember(t, "Michael likes flowers")
	assert.Equal(t, "Met at the climbing gym.\n", h.note(t, "michael").Body)
}

func TestRememberConcurrentSameEntity(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.env.Store.Create(context.Background(), models.NewNote("michael", "Michael"))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Remember(context.Background(), models.Utterance{Text: fmt.Sprintf("Michael likes thing%d", i)})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, h.note(t, "michael").Facts["likes"], n)
}

func TestRememberConcurrentDisjointEntities(t *testing.T) {
	h := newHarness(t, Options{})
	names := []string{"Anna", "Bella", "Carl", "Dora", "Emil"}
	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = h.svc.Remember(context.Background(), models.Utterance{Text: name + " likes tea"})
		}(i, name)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, h.env.Files(t), len(names))
}

// failingFS fails updates (not creations) of one path a set number of times.
type failingFS struct {
	storage.Provider
	path  string
	mu    sync.Mutex
	fails int
}

func (f *failingFS) CompareAndSwap(path, expected string, content []byte) error {
	f.mu.Lock()
	fail := path == f.path && expected != "" && f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()
	if fail {
		return apperr.VaultIO(fmt.Errorf("disk full"), "write "+path)
	}
	return f.Provider.CompareAndSwap(path, expected, content)
}

func failingEnv(t *testing.T, path string, fails int) *testutil.Env {
	t.Helper()
	env := testutil.NewEnv(t)
	env.Store = vault.New(&failingFS{Provider: env.FS, path: path, fails: fails},
		vault.WithIndex(env.DB), vault.WithLogger(testutil.Quiet()))
	return env
}

func TestRememberReconcilesAfterFailedBacklinkWrite(t *testing.T) {
	h := newHarnessOn(t, failingEnv(t, "anna.md", 1), Options{})

	h.remember(t, "my sister is Anna")

	sister := h.note(t, "me").Facts["sister"]
	require.Len(t, sister, 1)
	anna := h.note(t, "anna")
	require.Len(t, anna.Backlinks, 1)
	assert.Equal(t, sister[0].ID, anna.Backlinks[0].Fact)
	assert.Equal(t, "me", anna.Backlinks[0].Entity)
}

func TestRememberReportsUnrecoverableBacklinkFailure(t *testing.T) {
	h := newHarnessOn(t, failingEnv(t, "anna.md", 100), Options{})

	_, err := h.svc.Remember(context.Background(), models.Utterance{Text: "my sister is Anna"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrVaultIO), "err = %v", err)

	// The fact is committed; a later repair restores its backlink.
	sister := h.note(t, "me").Facts["sister"]
	require.Len(t, sister, 1)
	assert.Empty(t, h.note(t, "anna").Backlinks)
}
