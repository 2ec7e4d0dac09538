package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcwatch/rcwatch/internal/store"
	"github.com/rcwatch/rcwatch/internal/watch"
)

type fakeFetcher struct {
	pages map[string]watch.Page
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (watch.Page, error) {
	if err, ok := f.errs[rawURL]; ok {
		return watch.Page{}, err
	}
	page, ok := f.pages[rawURL]
	if !ok {
		return watch.Page{}, fmt.Errorf("%w: no fixture for %s", watch.ErrFetchUnavailable, rawURL)
	}
	return page, nil
}

func (f *fakeFetcher) Close() {}

type fakeNotifier struct {
	mu         sync.Mutex
	deltas     []watch.Delta
	heartbeats []watch.Target
	failures   []error
	notifyErr  error
}

func (f *fakeNotifier) Notify(_ context.Context, delta watch.Delta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.deltas = append(f.deltas, delta)
	return nil
}

func (f *fakeNotifier) NotifyNoChanges(_ context.Context, target watch.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, target)
	return nil
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, _ watch.Target, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, cause)
	return nil
}

type fakeArchive struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (f *fakeArchive) SavePage(_ context.Context, targetID string, body []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[targetID] = append([]byte(nil), body...)
	return "fake://" + targetID, nil
}

type brokenStore struct {
	*store.Memory
	saveErr error
}

func (b *brokenStore) Save(ctx context.Context, target watch.Target, state watch.KnownState) error {
	if b.saveErr != nil {
		return b.saveErr
	}
	return b.Memory.Save(ctx, target, state)
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func record(vehicle, motor string) watch.Record {
	return watch.Record{
		Vehicle:  vehicle,
		Motor:    motor,
		Price:    "From $73,900",
		Wheels:   "Twenty-one Road",
		Interior: "Black Mountain",
		Exterior: "Limestone",
	}
}

// recordsByURL builds an extractor that looks records up by page URL,
// treating a missing entry as a schema mismatch.
func recordsByURL(byURL map[string][]watch.Record) Extractor {
	return func(page watch.Page) ([]watch.Record, error) {
		records, ok := byURL[page.URL]
		if !ok {
			return nil, fmt.Errorf("%w: no listings on %s", watch.ErrSchemaMismatch, page.URL)
		}
		return records, nil
	}
}

func newTestRunner(t *testing.T, fetcher *fakeFetcher, extractor Extractor, st store.Store, notifier *fakeNotifier, arch *fakeArchive, cfg Config) *Runner {
	t.Helper()
	clock := fixedClock{at: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)}
	return New(fetcher, extractor, st, notifier, arch, clock, cfg, zap.NewNop())
}

func TestRunNotifiesOnNewConfiguration(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t", Description: "R1T"}
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>v1</html>")},
	}}
	rec := record("R1T Adventure", "Dual-Motor")
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {rec}})
	st := store.NewMemory()
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.False(t, report.Failed())
	require.Len(t, report.Results, 1)
	require.Equal(t, watch.StageDone, report.Results[0].Stage)
	require.Equal(t, 1, report.Results[0].NewRecords)

	require.Len(t, notifier.deltas, 1)
	require.Equal(t, []watch.Record{rec}, notifier.deltas[0].NewRecords)

	state, found, err := st.Load(context.Background(), target.ID())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{rec.Key()}, state.Keys)
	require.Equal(t, watch.ContentHash([]byte("<html>v1</html>")), state.ContentHash)
}

func TestRunIsQuietWhenNothingChanged(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1s"}
	rec := record("R1S Adventure", "Quad-Motor")
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>same</html>")},
	}}
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {rec}})
	st := store.NewMemory()
	require.NoError(t, st.Save(context.Background(), target, watch.KnownState{Keys: []string{rec.Key()}}))
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.False(t, report.Failed())
	require.Empty(t, notifier.deltas)
	require.Empty(t, notifier.heartbeats)
}

func TestRunIsIdempotentAcrossRuns(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	rec := record("R1T Adventure", "Dual-Motor")
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>v1</html>")},
	}}
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {rec}})
	st := store.NewMemory()
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	first := r.Run(context.Background(), "run-1", []watch.Target{target})
	second := r.Run(context.Background(), "run-2", []watch.Target{target})

	require.False(t, first.Failed())
	require.False(t, second.Failed())
	require.Len(t, notifier.deltas, 1)
	require.Equal(t, 0, second.Results[0].NewRecords)
}

func TestRunFetchFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	fetcher := &fakeFetcher{errs: map[string]error{
		target.URL: fmt.Errorf("%w: navigation failed", watch.ErrFetchTimeout),
	}}
	st := store.NewMemory()
	prior := watch.KnownState{Keys: []string{"known|key"}, ContentHash: "abc"}
	require.NoError(t, st.Save(context.Background(), target, prior))
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, recordsByURL(nil), st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.True(t, report.Failed())
	require.Equal(t, watch.StageFetching, report.Results[0].Stage)
	require.ErrorIs(t, report.Results[0].Err, watch.ErrFetchTimeout)

	require.Len(t, notifier.failures, 1)
	require.ErrorIs(t, notifier.failures[0], watch.ErrFetchTimeout)

	state, found, err := st.Load(context.Background(), target.ID())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, prior.Keys, state.Keys)
	require.Equal(t, prior.ContentHash, state.ContentHash)
}

func TestRunRemovalReportingIsOptIn(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	recX := record("R1T Adventure", "Dual-Motor")
	recY := record("R1T Adventure", "Quad-Motor")
	recZ := record("R1T Ascend", "Tri-Motor")

	setup := func(t *testing.T, reportRemovals bool) (*fakeNotifier, watch.Report) {
		t.Helper()
		fetcher := &fakeFetcher{pages: map[string]watch.Page{
			target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>v2</html>")},
		}}
		extractor := recordsByURL(map[string][]watch.Record{target.URL: {recY, recZ}})
		st := store.NewMemory()
		require.NoError(t, st.Save(context.Background(), target, watch.KnownState{
			Keys: []string{recX.Key(), recY.Key()},
		}))
		notifier := &fakeNotifier{}
		r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{},
			Config{Parallelism: 1, ReportRemovals: reportRemovals})
		return notifier, r.Run(context.Background(), "run-1", []watch.Target{target})
	}

	t.Run("default off", func(t *testing.T) {
		t.Parallel()
		notifier, report := setup(t, false)
		require.False(t, report.Failed())
		require.Len(t, notifier.deltas, 1)
		require.Equal(t, []watch.Record{recZ}, notifier.deltas[0].NewRecords)
		require.Empty(t, notifier.deltas[0].RemovedKeys)
	})

	t.Run("opted in", func(t *testing.T) {
		t.Parallel()
		notifier, report := setup(t, true)
		require.False(t, report.Failed())
		require.Len(t, notifier.deltas, 1)
		require.Equal(t, []watch.Record{recZ}, notifier.deltas[0].NewRecords)
		require.Equal(t, []string{recX.Key()}, notifier.deltas[0].RemovedKeys)
	})
}

func TestRunSchemaMismatchArchivesSnapshot(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	body := []byte("<html>redesigned layout</html>")
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: body},
	}}
	st := store.NewMemory()
	notifier := &fakeNotifier{}
	arch := &fakeArchive{}

	r := newTestRunner(t, fetcher, recordsByURL(nil), st, notifier, arch, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.True(t, report.Failed())
	require.Equal(t, watch.StageExtracting, report.Results[0].Stage)
	require.ErrorIs(t, report.Results[0].Err, watch.ErrSchemaMismatch)

	require.Equal(t, body, arch.saved[target.ID()])
	require.Len(t, notifier.failures, 1)
	require.ErrorIs(t, notifier.failures[0], watch.ErrSchemaMismatch)

	_, found, err := st.Load(context.Background(), target.ID())
	require.NoError(t, err)
	require.False(t, found)
}

func TestRunTargetsAreIsolated(t *testing.T) {
	t.Parallel()

	broken := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	healthy := watch.Target{URL: "https://example.com/rc?filter=r1s"}
	rec := record("R1S Adventure", "Quad-Motor")
	fetcher := &fakeFetcher{
		pages: map[string]watch.Page{
			healthy.URL: {URL: healthy.URL, StatusCode: 200, Body: []byte("<html>ok</html>")},
		},
		errs: map[string]error{
			broken.URL: fmt.Errorf("%w: connection refused", watch.ErrFetchUnavailable),
		},
	}
	extractor := recordsByURL(map[string][]watch.Record{healthy.URL: {rec}})
	st := store.NewMemory()
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 2})
	report := r.Run(context.Background(), "run-1", []watch.Target{broken, healthy})

	require.True(t, report.Failed())
	require.Equal(t, watch.StageFetching, report.Results[0].Stage)
	require.Equal(t, watch.StageDone, report.Results[1].Stage)
	require.Equal(t, 1, report.Results[1].NewRecords)
	require.Len(t, notifier.deltas, 1)
}

func TestRunNoisyModeSendsHeartbeat(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1s"}
	rec := record("R1S Adventure", "Quad-Motor")
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>same</html>")},
	}}
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {rec}})
	st := store.NewMemory()
	require.NoError(t, st.Save(context.Background(), target, watch.KnownState{Keys: []string{rec.Key()}}))
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1, Noisy: true})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.False(t, report.Failed())
	require.Empty(t, notifier.deltas)
	require.Len(t, notifier.heartbeats, 1)
	require.Equal(t, target, notifier.heartbeats[0])
}

func TestRunPersistFailureSkipsNotification(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	rec := record("R1T Adventure", "Dual-Motor")
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>v1</html>")},
	}}
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {rec}})
	st := &brokenStore{
		Memory:  store.NewMemory(),
		saveErr: fmt.Errorf("%w: connection reset", watch.ErrStoreUnavailable),
	}
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.True(t, report.Failed())
	require.Equal(t, watch.StagePersisting, report.Results[0].Stage)
	require.ErrorIs(t, report.Results[0].Err, watch.ErrStoreUnavailable)
	require.Empty(t, notifier.deltas)
}

func TestRunNotifyFailureAfterPersist(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	rec := record("R1T Adventure", "Dual-Motor")
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>v1</html>")},
	}}
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {rec}})
	st := store.NewMemory()
	notifier := &fakeNotifier{
		notifyErr: fmt.Errorf("%w: webhook returned 500", watch.ErrNotifyUnavailable),
	}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.True(t, report.Failed())
	require.Equal(t, watch.StageNotifying, report.Results[0].Stage)
	require.ErrorIs(t, report.Results[0].Err, watch.ErrNotifyUnavailable)

	// State advanced despite the dropped notification; the next run stays quiet.
	state, found, err := st.Load(context.Background(), target.ID())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{rec.Key()}, state.Keys)
}

func TestRunEmptyExtractionReplacesState(t *testing.T) {
	t.Parallel()

	target := watch.Target{URL: "https://example.com/rc?filter=r1t"}
	fetcher := &fakeFetcher{pages: map[string]watch.Page{
		target.URL: {URL: target.URL, StatusCode: 200, Body: []byte("<html>no matches</html>")},
	}}
	extractor := recordsByURL(map[string][]watch.Record{target.URL: {}})
	st := store.NewMemory()
	require.NoError(t, st.Save(context.Background(), target, watch.KnownState{Keys: []string{"old|key"}}))
	notifier := &fakeNotifier{}

	r := newTestRunner(t, fetcher, extractor, st, notifier, &fakeArchive{}, Config{Parallelism: 1})
	report := r.Run(context.Background(), "run-1", []watch.Target{target})

	require.False(t, report.Failed())
	require.Empty(t, notifier.deltas)

	state, found, err := st.Load(context.Background(), target.ID())
	require.NoError(t, err)
	require.True(t, found)
	require.Empty(t, state.Keys)
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	r := New(&fakeFetcher{}, nil, store.NewMemory(), &fakeNotifier{}, nil, nil, Config{}, nil)
	require.NotNil(t, r.extractor)
	require.NotNil(t, r.archive)
	require.NotNil(t, r.clock)
	require.Equal(t, 1, r.cfg.Parallelism)
	require.NotNil(t, r.logger)
}
