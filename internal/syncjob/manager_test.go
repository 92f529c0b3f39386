package syncjob

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/combiphar/corpus/internal/sources"
	"github.com/combiphar/corpus/pkg/models"
)

type finalizedJob struct {
	state   models.JobState
	runtime float64
	result  map[string]interface{}
	errMsg  string
}

// fakeStore mimics the document_sync row semantics: a claim succeeds
// only while the state is not running.
type fakeStore struct {
	mu        sync.Mutex
	state     models.JobState
	claims    int
	denied    int
	finalized []finalizedJob
	logID     int64
	details   []*models.SyncLogDetail
	header    *models.SyncLog
	claimErr  error
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: models.JobIdle, logID: 40}
}

func (f *fakeStore) ClaimJob(_ context.Context, jobName, source, actor string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.state == models.JobRunning {
		f.denied++
		return false, nil
	}
	f.state = models.JobRunning
	f.claims++
	return true, nil
}

func (f *fakeStore) FinalizeJob(_ context.Context, jobName string, state models.JobState, runtimeSeconds float64, result map[string]interface{}, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.finalized = append(f.finalized, finalizedJob{state, runtimeSeconds, result, errMsg})
	return nil
}

func (f *fakeStore) GetJobStatus(_ context.Context, jobName string) (*models.SyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.SyncStatus{JobName: jobName, State: f.state}, nil
}

func (f *fakeStore) CreateSyncLog(_ context.Context, syncType, source, actor string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.logID++
	return f.logID, nil
}

func (f *fakeStore) InsertSyncDetail(_ context.Context, d *models.SyncLogDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details = append(f.details, d)
	return nil
}

func (f *fakeStore) FinalizeSyncLog(_ context.Context, log *models.SyncLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.header = log
	return nil
}

func (f *fakeStore) snapshot() fakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeStore{
		state:     f.state,
		claims:    f.claims,
		denied:    f.denied,
		finalized: f.finalized,
		details:   f.details,
		header:    f.header,
	}
}

// fakeAdapter reports canned details and returns a canned summary. An
// optional gate blocks Sync until released, for overlap tests.
type fakeAdapter struct {
	details []*models.SyncLogDetail
	summary *sources.Summary
	err     error
	gate    chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Sync(ctx context.Context, rep sources.Reporter) (*sources.Summary, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	for _, d := range f.details {
		if rep != nil {
			rep.Report(ctx, d)
		}
	}
	return f.summary, f.err
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func detail(itemType models.SyncItemType, status, title, errMsg string) *models.SyncLogDetail {
	return &models.SyncLogDetail{
		ItemType:      itemType,
		Status:        status,
		DocumentTitle: title,
		ErrorMessage:  errMsg,
	}
}

func TestRunBlockingFinalizesJobAndLog(t *testing.T) {
	st := newFakeStore()
	portal := &fakeAdapter{
		details: []*models.SyncLogDetail{
			detail(models.SyncItemDocument, models.SyncItemSuccess, "Doc A", ""),
			detail(models.SyncItemDocument, models.SyncItemSuccess, "Doc B", ""),
			detail(models.SyncItemDocument, models.SyncItemFailed, "Doc C", "download timed out"),
		},
		summary: &sources.Summary{Processed: 2, Failed: 1},
	}
	website := &fakeAdapter{
		details: []*models.SyncLogDetail{
			detail(models.SyncItemWebsite, models.SyncItemSuccess, "Page", ""),
		},
		summary: &sources.Summary{Processed: 1},
	}

	m := New("document_sync", st, portal, website)
	executed, snap, err := m.RunBlocking(context.Background(), "manual", "ops@corp")
	if err != nil {
		t.Fatalf("RunBlocking: %v", err)
	}
	if !executed {
		t.Fatal("executed = false, want true")
	}
	if snap.State != models.JobPartialSuccess {
		t.Errorf("final state = %s, want partial_success", snap.State)
	}

	got := st.snapshot()
	if got.header == nil {
		t.Fatal("sync log never finalized")
	}
	if got.header.TotalDocuments != 3 || got.header.SuccessfulDocs != 2 || got.header.FailedDocs != 1 {
		t.Errorf("document counters = %d/%d/%d, want 3/2/1",
			got.header.TotalDocuments, got.header.SuccessfulDocs, got.header.FailedDocs)
	}
	if got.header.TotalWebsites != 1 || got.header.SuccessfulWebsites != 1 || got.header.FailedWebsites != 0 {
		t.Errorf("website counters = %d/%d/%d, want 1/1/0",
			got.header.TotalWebsites, got.header.SuccessfulWebsites, got.header.FailedWebsites)
	}
	if got.header.Status != statusPartialSuccess {
		t.Errorf("log status = %s, want partial_success", got.header.Status)
	}

	items, ok := got.header.Metadata["failed_items"].([]map[string]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("failed_items = %v, want one entry", got.header.Metadata["failed_items"])
	}
	if items[0]["title"] != "Doc C" || items[0]["error"] != "download timed out" {
		t.Errorf("failed item = %v", items[0])
	}

	if len(got.finalized) != 1 {
		t.Fatalf("job finalized %d times, want 1", len(got.finalized))
	}
	fin := got.finalized[0]
	if fin.state != models.JobPartialSuccess {
		t.Errorf("job state = %s, want partial_success", fin.state)
	}
	if fin.result["status"] != statusPartialSuccess {
		t.Errorf("result status = %v", fin.result["status"])
	}
	if _, ok := fin.result["sync_log_id"]; !ok {
		t.Error("result lacks sync_log_id")
	}
	if len(got.details) != 4 {
		t.Errorf("persisted details = %d, want 4", len(got.details))
	}
}

func TestRunBlockingAllSuccess(t *testing.T) {
	st := newFakeStore()
	portal := &fakeAdapter{
		details: []*models.SyncLogDetail{
			detail(models.SyncItemDocument, models.SyncItemSuccess, "Doc A", ""),
		},
		summary: &sources.Summary{Processed: 1},
	}

	m := New("document_sync", st, portal, nil)
	executed, snap, err := m.RunBlocking(context.Background(), "manual", "ops@corp")
	if err != nil || !executed {
		t.Fatalf("RunBlocking = %v, %v", executed, err)
	}
	if snap.State != models.JobSucceeded {
		t.Errorf("state = %s, want succeeded", snap.State)
	}
	if got := st.snapshot(); got.header.Status != models.SyncItemSuccess {
		t.Errorf("log status = %s, want success", got.header.Status)
	}
}

func TestRunBlockingAdapterFailureOnly(t *testing.T) {
	st := newFakeStore()
	portal := &fakeAdapter{err: fmt.Errorf("portal unreachable")}

	m := New("document_sync", st, portal, nil)
	executed, snap, err := m.RunBlocking(context.Background(), "manual", "ops@corp")
	if err != nil || !executed {
		t.Fatalf("RunBlocking = %v, %v", executed, err)
	}
	if snap.State != models.JobFailed {
		t.Errorf("state = %s, want failed", snap.State)
	}

	got := st.snapshot()
	if got.header.Status != models.SyncItemFailed {
		t.Errorf("log status = %s, want failed", got.header.Status)
	}
	if got.finalized[0].errMsg != "portal: portal unreachable" {
		t.Errorf("job error = %q", got.finalized[0].errMsg)
	}
}

func TestTriggerSingleFlight(t *testing.T) {
	st := newFakeStore()
	gate := make(chan struct{})
	portal := &fakeAdapter{gate: gate, summary: &sources.Summary{}}

	m := New("document_sync", st, portal, nil)

	started, _, err := m.Trigger(context.Background(), "manual", "ops@corp", true)
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if !started {
		t.Fatal("first trigger did not start")
	}

	// Second trigger while the run is still inside the adapter.
	started, snap, err := m.Trigger(context.Background(), "manual", "other@corp", true)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if started {
		t.Fatal("second trigger started, want rejection")
	}
	if snap.State != models.JobRunning {
		t.Errorf("snapshot state = %s, want running", snap.State)
	}

	close(gate)
	m.Wait()

	got := st.snapshot()
	if got.claims != 1 {
		t.Errorf("claims = %d, want 1", got.claims)
	}
	if portal.callCount() != 1 {
		t.Errorf("adapter ran %d times, want 1", portal.callCount())
	}
	if len(got.finalized) != 1 {
		t.Errorf("finalized %d times, want 1", len(got.finalized))
	}
}

func TestTriggerRejectedWhenDBClaimHeld(t *testing.T) {
	st := newFakeStore()
	st.state = models.JobRunning // another process owns the claim

	m := New("document_sync", st, &fakeAdapter{}, nil)
	started, snap, err := m.Trigger(context.Background(), "manual", "ops@corp", true)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if started {
		t.Fatal("started = true, want false")
	}
	if snap.State != models.JobRunning {
		t.Errorf("snapshot state = %s, want running", snap.State)
	}
}

func TestTriggerDeferredClaimLoses(t *testing.T) {
	st := newFakeStore()
	st.state = models.JobRunning
	portal := &fakeAdapter{summary: &sources.Summary{}}

	m := New("document_sync", st, portal, nil)
	started, _, err := m.Trigger(context.Background(), "scheduled", "system", false)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	// Optimistic start: the worker discovers the lost claim.
	if !started {
		t.Fatal("started = false, want optimistic true")
	}
	m.Wait()

	got := st.snapshot()
	if portal.callCount() != 0 {
		t.Errorf("adapter ran %d times, want 0", portal.callCount())
	}
	if len(got.finalized) != 0 {
		t.Errorf("finalized %d times, want 0", len(got.finalized))
	}
	if got.denied != 1 {
		t.Errorf("denied claims = %d, want 1", got.denied)
	}
}

func TestRunBlockingConcurrentOnlyOneExecutes(t *testing.T) {
	st := newFakeStore()
	portal := &fakeAdapter{summary: &sources.Summary{Processed: 1}}
	m := New("document_sync", st, portal, nil)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := m.RunBlocking(context.Background(), "manual", "ops@corp")
			if err != nil {
				t.Errorf("RunBlocking: %v", err)
				return
			}
			if ok {
				mu.Lock()
				executed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Sequential reruns stay possible once the first finished, so the
	// count can exceed one only if runs overlapped; the store would have
	// denied those claims.
	got := st.snapshot()
	if executed != got.claims {
		t.Errorf("executed = %d, claims = %d, want equal", executed, got.claims)
	}
	if executed == 0 {
		t.Error("no run executed")
	}
	if len(got.finalized) != executed {
		t.Errorf("finalized = %d, executed = %d", len(got.finalized), executed)
	}
}

func TestRunProceedsWhenLogCannotOpen(t *testing.T) {
	st := newFakeStore()
	st.createErr = fmt.Errorf("sync_logs table missing")
	portal := &fakeAdapter{summary: &sources.Summary{Processed: 1}}

	m := New("document_sync", st, portal, nil)
	executed, snap, err := m.RunBlocking(context.Background(), "manual", "ops@corp")
	if err != nil || !executed {
		t.Fatalf("RunBlocking = %v, %v", executed, err)
	}
	if snap.State != models.JobSucceeded {
		t.Errorf("state = %s, want succeeded", snap.State)
	}
	if got := st.snapshot(); got.header != nil {
		t.Error("header finalized despite failed open")
	}
	if portal.callCount() != 1 {
		t.Error("adapter did not run")
	}
}

func TestHeaderStatus(t *testing.T) {
	tests := []struct {
		name      string
		succeeded int
		failed    int
		runErrs   []string
		want      string
	}{
		{"all success", 5, 0, nil, models.SyncItemSuccess},
		{"nothing processed", 0, 0, nil, models.SyncItemSuccess},
		{"mixed", 3, 2, nil, statusPartialSuccess},
		{"only failures", 0, 4, nil, models.SyncItemFailed},
		{"adapter error alone", 0, 0, []string{"portal: boom"}, models.SyncItemFailed},
		{"adapter error with successes", 2, 0, []string{"website: boom"}, statusPartialSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headerStatus(tt.succeeded, tt.failed, tt.runErrs); got != tt.want {
				t.Errorf("headerStatus(%d, %d, %v) = %s, want %s",
					tt.succeeded, tt.failed, tt.runErrs, got, tt.want)
			}
		})
	}
}

func TestRunLoggerStampsSyncLogID(t *testing.T) {
	st := newFakeStore()
	rl, err := openRunLog(context.Background(), st, "full", "manual", "ops@corp")
	if err != nil {
		t.Fatalf("openRunLog: %v", err)
	}

	rl.Report(context.Background(), detail(models.SyncItemDocument, models.SyncItemSuccess, "Doc", ""))

	got := st.snapshot()
	if len(got.details) != 1 {
		t.Fatalf("details = %d, want 1", len(got.details))
	}
	if got.details[0].SyncLogID != rl.id {
		t.Errorf("detail sync_log_id = %d, want %d", got.details[0].SyncLogID, rl.id)
	}
}

func TestNewSchedulerEmptyExpressionDisabled(t *testing.T) {
	s, err := NewScheduler("", nil)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if s != nil {
		t.Error("scheduler = non-nil, want nil for empty expression")
	}
}

func TestNewSchedulerRejectsBadExpression(t *testing.T) {
	if _, err := NewScheduler("not a cron line", New("j", newFakeStore(), nil, nil)); err == nil {
		t.Error("err = nil, want parse error")
	}
}

func TestNewSchedulerValidExpression(t *testing.T) {
	s, err := NewScheduler("*/5 * * * *", New("j", newFakeStore(), nil, nil))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if s == nil {
		t.Fatal("scheduler = nil")
	}
	s.Start()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
