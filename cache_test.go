package indexcache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeSource is an in-memory EventSource for tests. Watch records the
// subscribed roots and events are pushed by hand.
type fakeSource struct {
	mu       sync.Mutex
	watched  []string
	watchErr error

	events chan Event
	errs   chan error

	closeOnce sync.Once
	closed    bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan Event, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeSource) Watch(root string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil {
		return f.watchErr
	}
	f.watched = append(f.watched, root)
	return nil
}

func (f *fakeSource) Events() <-chan Event { return f.events }

func (f *fakeSource) Errors() <-chan error { return f.errs }

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeSource) emit(ev Event) {
	f.events <- ev
}

func (f *fakeSource) watchCount(root string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.watched {
		if r == root {
			count++
		}
	}
	return count
}

// setupTestCache creates a live cache backed by a fake event source.
func setupTestCache(t *testing.T) (*Cache, *fakeSource) {
	t.Helper()

	source := newFakeSource()
	cache, err := New(WithEventSource(source), WithLogger(quietLogger()), WithNowFunc(fixedNowFunc))
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, source
}

// countingLister returns a ListFunc that serves canned entries and counts
// its invocations.
func countingLister(entries []PkgEntry) (ListFunc, *int) {
	calls := new(int)
	return func(root string) ([]PkgEntry, error) {
		*calls++
		return entries, nil
	}, calls
}

// countingDigester returns a DigestFunc that serves a canned digest and
// counts its invocations.
func countingDigester(digest string) (DigestFunc, *int) {
	calls := new(int)
	return func(path, algo string) (string, error) {
		*calls++
		return digest, nil
	}, calls
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, context string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", context)
}

func assertCalls(t *testing.T, calls *int, want int, context string) {
	t.Helper()

	if *calls != want {
		t.Fatalf("Expected %d producer calls on %s, got %d", want, context, *calls)
	}
}

func assertEntries(t *testing.T, got, want []PkgEntry, context string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("Entry count mismatch on %s: expected %d, got %d", context, len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Entry %d mismatch on %s:\nExpected: %+v\nActual: %+v", i, context, want[i], got[i])
		}
	}
}

func TestListDirCallsProducerOnce(t *testing.T) {
	cache, _ := setupTestCache(t)

	want := []PkgEntry{
		{Name: "foo", Version: "1.0", Path: "/repo/pkgs/foo-1.0.tar.gz", RelPath: "foo-1.0.tar.gz"},
	}
	lister, calls := countingLister(want)

	got, err := cache.ListDir("/repo/pkgs", lister)
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	assertEntries(t, got, want, "first ListDir")
	assertCalls(t, calls, 1, "first ListDir")

	got, err = cache.ListDir("/repo/pkgs", lister)
	if err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	assertEntries(t, got, want, "second ListDir")
	assertCalls(t, calls, 1, "second ListDir")
}

func TestListDirCachesPerRoot(t *testing.T) {
	cache, _ := setupTestCache(t)

	lister, calls := countingLister(nil)

	if _, err := cache.ListDir("/repo/a", lister); err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	if _, err := cache.ListDir("/repo/b", lister); err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	assertCalls(t, calls, 2, "two distinct roots")

	if _, err := cache.ListDir("/repo/a", lister); err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	assertCalls(t, calls, 2, "repeat lookup")
}

func TestListDirProducerErrorNotCached(t *testing.T) {
	cache, _ := setupTestCache(t)

	boom := errors.New("scan failed")
	calls := 0
	failing := func(root string) ([]PkgEntry, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return []PkgEntry{{Name: "ok", Version: "1.0"}}, nil
	}

	if _, err := cache.ListDir("/repo/pkgs", failing); !errors.Is(err, boom) {
		t.Fatalf("Expected producer error, got %v", err)
	}

	// The failure must not poison the cache: the next lookup retries.
	entries, err := cache.ListDir("/repo/pkgs", failing)
	if err != nil {
		t.Fatalf("ListDir after failure: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "ok" {
		t.Fatalf("Unexpected entries after retry: %+v", entries)
	}
	if calls != 2 {
		t.Fatalf("Expected 2 producer calls, got %d", calls)
	}
}

func TestListDirWatchesRootOnce(t *testing.T) {
	cache, source := setupTestCache(t)

	lister, _ := countingLister(nil)

	if _, err := cache.ListDir("/repo/pkgs", lister); err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	cache.InvalidateRoot("/repo/pkgs")
	if _, err := cache.ListDir("/repo/pkgs", lister); err != nil {
		t.Fatalf("ListDir after invalidation failed: %v", err)
	}

	if got := source.watchCount("/repo/pkgs"); got != 1 {
		t.Fatalf("Expected exactly one subscription for root, got %d", got)
	}
}

func TestListDirWatchFailure(t *testing.T) {
	cache, source := setupTestCache(t)

	source.watchErr = errors.New("permission denied")
	lister, calls := countingLister(nil)

	if _, err := cache.ListDir("/repo/pkgs", lister); err == nil {
		t.Fatal("Expected error when subscription fails")
	}
	assertCalls(t, calls, 0, "failed watch")

	// Once watching works the root is served normally.
	source.watchErr = nil
	if _, err := cache.ListDir("/repo/pkgs", lister); err != nil {
		t.Fatalf("ListDir after watch recovery: %v", err)
	}
	assertCalls(t, calls, 1, "recovered watch")
}

func TestDigestFileCachesPerAlgorithmAndPath(t *testing.T) {
	cache, source := setupTestCache(t)

	digester, calls := countingDigester("abc123")

	got, err := cache.DigestFile("/repo/pkgs/foo-1.0.tar.gz", "sha256", digester)
	if err != nil {
		t.Fatalf("DigestFile failed: %v", err)
	}
	if got != "abc123" {
		t.Fatalf("Unexpected digest %q", got)
	}
	assertCalls(t, calls, 1, "first digest")

	// Same (algo, path) is served from cache.
	if _, err := cache.DigestFile("/repo/pkgs/foo-1.0.tar.gz", "sha256", digester); err != nil {
		t.Fatalf("DigestFile failed: %v", err)
	}
	assertCalls(t, calls, 1, "repeat digest")

	// A different algorithm for the same path recomputes.
	if _, err := cache.DigestFile("/repo/pkgs/foo-1.0.tar.gz", "md5", digester); err != nil {
		t.Fatalf("DigestFile failed: %v", err)
	}
	assertCalls(t, calls, 2, "second algorithm")

	// The file's parent directory got subscribed once.
	if got := source.watchCount("/repo/pkgs"); got != 1 {
		t.Fatalf("Expected one subscription for parent dir, got %d", got)
	}
}

func TestDigestFileProducerErrorNotCached(t *testing.T) {
	cache, _ := setupTestCache(t)

	boom := errors.New("read failed")
	calls := 0
	failing := func(path, algo string) (string, error) {
		calls++
		if calls == 1 {
			return "", boom
		}
		return "abc123", nil
	}

	if _, err := cache.DigestFile("/repo/pkgs/foo.tar.gz", "sha256", failing); !errors.Is(err, boom) {
		t.Fatalf("Expected producer error, got %v", err)
	}
	digest, err := cache.DigestFile("/repo/pkgs/foo.tar.gz", "sha256", failing)
	if err != nil {
		t.Fatalf("DigestFile after failure: %v", err)
	}
	if digest != "abc123" {
		t.Fatalf("Unexpected digest %q after retry", digest)
	}
}

func TestInvalidateRootUnknownIsNoop(t *testing.T) {
	cache, _ := setupTestCache(t)

	cache.InvalidateRoot("/never/seen")
	cache.InvalidateRoot("/never/seen")

	if stats := cache.Stats(); stats.Roots != 0 {
		t.Fatalf("Expected empty cache, got %+v", stats)
	}
}

func TestNewFailsWhenEventSourceUnavailable(t *testing.T) {
	orig := newFSEventSource
	newFSEventSource = func() (EventSource, error) {
		return nil, errors.New("inotify unavailable")
	}
	defer func() { newFSEventSource = orig }()

	if _, err := New(); !errors.Is(err, ErrCacheDisabled) {
		t.Fatalf("Expected ErrCacheDisabled, got %v", err)
	}
}

func TestConcurrentLookups(t *testing.T) {
	cache, _ := setupTestCache(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			root := fmt.Sprintf("/repo/%d", n%4)
			for j := 0; j < 50; j++ {
				_, err := cache.ListDir(root, func(root string) ([]PkgEntry, error) {
					return []PkgEntry{{Name: "pkg", Version: "1.0"}}, nil
				})
				if err != nil {
					t.Errorf("ListDir failed: %v", err)
					return
				}
				_, err = cache.DigestFile(root+"/pkg-1.0.tar.gz", "sha256", func(path, algo string) (string, error) {
					return "abc123", nil
				})
				if err != nil {
					t.Errorf("DigestFile failed: %v", err)
					return
				}
				if j%10 == 0 {
					cache.InvalidateRoot(root)
				}
			}
		}(i)
	}
	wg.Wait()

	stats := cache.Stats()
	if stats.Watched != 4 {
		t.Fatalf("Expected 4 watched roots, got %+v", stats)
	}
	if stats.Digests != 4 {
		t.Fatalf("Expected 4 cached digests, got %+v", stats)
	}
}

func TestStats(t *testing.T) {
	cache, _ := setupTestCache(t)

	lister, _ := countingLister([]PkgEntry{{Name: "a", Version: "1"}, {Name: "b", Version: "2"}})
	digester, _ := countingDigester("abc123")

	if _, err := cache.ListDir("/repo/pkgs", lister); err != nil {
		t.Fatalf("ListDir failed: %v", err)
	}
	if _, err := cache.DigestFile("/repo/pkgs/a-1.tar.gz", "sha256", digester); err != nil {
		t.Fatalf("DigestFile failed: %v", err)
	}

	stats := cache.Stats()
	want := Stats{Roots: 1, Entries: 2, Digests: 1, Watched: 1}
	if stats != want {
		t.Fatalf("Stats mismatch:\nExpected: %+v\nActual: %+v", want, stats)
	}
}
