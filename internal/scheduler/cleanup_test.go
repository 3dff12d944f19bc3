package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clubhouse/internal/types"
)

// ============================================================
// Mock: CleanupStore
// ============================================================

// mockCleanupStore holds a table of stale uploads and applies deletes to it,
// so paging sees the shrinking result set a real table would return.
type mockCleanupStore struct {
	mu sync.Mutex

	uploads     []types.StaleUpload
	listCalls   []int // batch sizes returned
	listOffsets []int
	listErr     error

	deleteErrOnCall int // 1-based; 0 disables
	deleteCalls     int

	sessionsDeleted int
	sessionsErr     error
	tokensDeleted   int
	tokensErr       error
}

func newUploads(n int, withBlobs bool) []types.StaleUpload {
	out := make([]types.StaleUpload, n)
	for i := range out {
		out[i] = types.StaleUpload{ID: fmt.Sprintf("up-%04d", i)}
		if withBlobs {
			out[i].BlobURL = fmt.Sprintf("s3://media/up-%04d.jpg", i)
		}
	}
	return out
}

func (m *mockCleanupStore) ListStaleUploads(_ context.Context, _ time.Time, offset, limit int) ([]types.StaleUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.listOffsets = append(m.listOffsets, offset)
	if offset >= len(m.uploads) {
		m.listCalls = append(m.listCalls, 0)
		return nil, nil
	}
	end := min(offset+limit, len(m.uploads))
	page := append([]types.StaleUpload(nil), m.uploads[offset:end]...)
	m.listCalls = append(m.listCalls, len(page))
	return page, nil
}

func (m *mockCleanupStore) DeleteUploads(_ context.Context, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	if m.deleteErrOnCall == m.deleteCalls {
		return 0, errors.New("deadlock detected")
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.uploads[:0]
	deleted := 0
	for _, u := range m.uploads {
		if drop[u.ID] {
			deleted++
			continue
		}
		kept = append(kept, u)
	}
	m.uploads = kept
	return deleted, nil
}

func (m *mockCleanupStore) DeleteEndedSessionsBefore(_ context.Context, _ time.Time) (int, error) {
	return m.sessionsDeleted, m.sessionsErr
}

func (m *mockCleanupStore) DeleteInactiveDeviceTokensBefore(_ context.Context, _ time.Time) (int, error) {
	return m.tokensDeleted, m.tokensErr
}

// ============================================================
// Mock: BlobDeleter
// ============================================================

type mockBlobDeleter struct {
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	attempts    atomic.Int32
	hold        time.Duration
	failURLs    map[string]bool
}

func (m *mockBlobDeleter) DeleteBlob(_ context.Context, url string) error {
	m.attempts.Add(1)
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		prev := m.maxInFlight.Load()
		if cur <= prev || m.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if m.hold > 0 {
		time.Sleep(m.hold)
	}
	if m.failURLs[url] {
		return errors.New("access denied")
	}
	return nil
}

func newTestCleanupJob(store CleanupStore, blobs BlobDeleter, opts CleanupOptions) (*CleanupJob, *[]time.Duration) {
	job := NewCleanupJob(store, blobs, opts, testLogger())
	var pauses []time.Duration
	job.sleep = func(_ context.Context, d time.Duration) { pauses = append(pauses, d) }
	return job, &pauses
}

// ============================================================
// Tests
// ============================================================

func TestCleanup_PagesThroughAllRecords(t *testing.T) {
	store := &mockCleanupStore{uploads: newUploads(2500, false)}
	job, _ := newTestCleanupJob(store, nil, CleanupOptions{BatchSize: 1000})

	res, err := job.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{1000, 1000, 500}
	if fmt.Sprint(store.listCalls) != fmt.Sprint(want) {
		t.Errorf("expected batches %v, got %v", want, store.listCalls)
	}
	if len(store.uploads) != 0 {
		t.Errorf("expected every record deleted, %d left", len(store.uploads))
	}
	if res.Counts["uploads_deleted"] != 2500 {
		t.Errorf("expected 2500 uploads deleted, got %d", res.Counts["uploads_deleted"])
	}
	if res.Counts["batches"] != 3 {
		t.Errorf("expected 3 batches, got %d", res.Counts["batches"])
	}
	if len(res.Errors) != 0 {
		t.Errorf("expected no errors, got %v", res.Errors)
	}
}

func TestCleanup_ExactMultipleOfBatchSize(t *testing.T) {
	store := &mockCleanupStore{uploads: newUploads(2000, false)}
	job, _ := newTestCleanupJob(store, nil, CleanupOptions{BatchSize: 1000})

	if _, err := job.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1000, 1000, 0}
	if fmt.Sprint(store.listCalls) != fmt.Sprint(want) {
		t.Errorf("expected batches %v, got %v", want, store.listCalls)
	}
}

func TestCleanup_FailedBatchDoesNotAbort(t *testing.T) {
	store := &mockCleanupStore{
		uploads:         newUploads(2500, true),
		deleteErrOnCall: 1,
	}
	blobs := &mockBlobDeleter{}
	job, _ := newTestCleanupJob(store, blobs, CleanupOptions{BatchSize: 1000, MaxConcurrentDeletes: 50})

	res, err := job.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 batch error, got %d: %v", len(res.Errors), res.Errors)
	}
	if !strings.Contains(res.Errors[0], "offset 0") {
		t.Errorf("expected error to name the batch offset, got %q", res.Errors[0])
	}
	// The failed page is skipped; the rest is processed.
	if len(store.uploads) != 1000 {
		t.Errorf("expected the failed batch of 1000 to remain, got %d", len(store.uploads))
	}
	if res.Counts["uploads_deleted"] != 1500 {
		t.Errorf("expected 1500 deleted, got %d", res.Counts["uploads_deleted"])
	}
	// Blobs of the failed batch are left for the next run.
	if got := blobs.attempts.Load(); got != 1500 {
		t.Errorf("expected 1500 blob deletions, got %d", got)
	}
	if store.listOffsets[1] != 1000 {
		t.Errorf("expected offset to skip the failed batch, got %v", store.listOffsets)
	}
}

func TestCleanup_BoundedBlobConcurrency(t *testing.T) {
	store := &mockCleanupStore{uploads: newUploads(25, true)}
	blobs := &mockBlobDeleter{hold: 5 * time.Millisecond}
	job, pauses := newTestCleanupJob(store, blobs, CleanupOptions{
		BatchSize:            1000,
		MaxConcurrentDeletes: 4,
		ChunkPause:           100 * time.Millisecond,
	})

	res, err := job.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := blobs.maxInFlight.Load(); got > 4 {
		t.Errorf("expected at most 4 concurrent deletes, saw %d", got)
	}
	if got := blobs.attempts.Load(); got != 25 {
		t.Errorf("expected 25 attempts, got %d", got)
	}
	// 25 urls in chunks of 4 -> 7 chunks -> 6 pauses.
	if len(*pauses) != 6 {
		t.Errorf("expected 6 pauses between chunks, got %d", len(*pauses))
	}
	if res.Counts["blobs_deleted"] != 25 {
		t.Errorf("expected 25 blobs deleted, got %d", res.Counts["blobs_deleted"])
	}
}

func TestCleanup_BlobFailuresCollected(t *testing.T) {
	store := &mockCleanupStore{uploads: newUploads(10, true)}
	blobs := &mockBlobDeleter{failURLs: map[string]bool{
		"s3://media/up-0003.jpg": true,
		"s3://media/up-0007.jpg": true,
	}}
	job, _ := newTestCleanupJob(store, blobs, CleanupOptions{MaxConcurrentDeletes: 3})

	res, err := job.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := blobs.attempts.Load(); got != 10 {
		t.Errorf("expected every blob attempted, got %d", got)
	}
	if res.Counts["blobs_deleted"] != 8 {
		t.Errorf("expected 8 blobs deleted, got %d", res.Counts["blobs_deleted"])
	}
	if _, ok := res.Counts["blob_failures"]; ok {
		t.Errorf("blob failures are reported through Errors only, got counts %v", res.Counts)
	}
	if len(res.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", res.Errors)
	}
}

func TestCleanup_SkipsUploadsWithoutBlob(t *testing.T) {
	uploads := newUploads(4, true)
	uploads[1].BlobURL = ""
	store := &mockCleanupStore{uploads: uploads}
	blobs := &mockBlobDeleter{}
	job, _ := newTestCleanupJob(store, blobs, CleanupOptions{})

	if _, err := job.Run(context.Background(), time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := blobs.attempts.Load(); got != 3 {
		t.Errorf("expected 3 blob deletions, got %d", got)
	}
}

func TestCleanup_FlatPurges(t *testing.T) {
	store := &mockCleanupStore{sessionsDeleted: 12, tokensDeleted: 40}
	job, _ := newTestCleanupJob(store, nil, CleanupOptions{})

	res, err := job.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Counts["sessions_deleted"] != 12 {
		t.Errorf("expected 12 sessions, got %d", res.Counts["sessions_deleted"])
	}
	if res.Counts["device_tokens_deleted"] != 40 {
		t.Errorf("expected 40 device tokens, got %d", res.Counts["device_tokens_deleted"])
	}
	if res.TotalProcessed != 52 {
		t.Errorf("expected 52 processed, got %d", res.TotalProcessed)
	}
}

func TestCleanup_FlatPurgeErrorsCollected(t *testing.T) {
	store := &mockCleanupStore{
		sessionsErr: errors.New("timeout"),
		tokensErr:   errors.New("timeout"),
	}
	job, _ := newTestCleanupJob(store, nil, CleanupOptions{})

	res, err := job.Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("flat purge failures must not fail the run: %v", err)
	}
	if len(res.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", res.Errors)
	}
}

func TestCleanup_ListErrorFailsRun(t *testing.T) {
	store := &mockCleanupStore{listErr: errors.New("connection refused"), sessionsDeleted: 1}
	job, _ := newTestCleanupJob(store, nil, CleanupOptions{})

	res, err := job.Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected error when stale uploads cannot be listed")
	}
	// Flat purges still ran.
	if res.Counts["sessions_deleted"] != 1 {
		t.Errorf("expected sessions purge to run, got %d", res.Counts["sessions_deleted"])
	}
}
