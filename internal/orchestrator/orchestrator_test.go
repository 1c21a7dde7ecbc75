package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/internal/runlog"
	"github.com/ShayCichocki/foreman/internal/supervisor"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// fakeStore is an in-memory FeatureStore honoring the claim semantics.
type fakeStore struct {
	mu       sync.Mutex
	features map[int64]*models.Feature
	listErr  error
}

func newFakeStore(features ...*models.Feature) *fakeStore {
	fs := &fakeStore{features: make(map[int64]*models.Feature)}
	for _, f := range features {
		fs.features[f.ID] = f
	}
	return fs
}

func (fs *fakeStore) ListFeatures() ([]*models.Feature, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.listErr != nil {
		return nil, fs.listErr
	}
	var out []*models.Feature
	for _, f := range fs.features {
		c := *f
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (fs *fakeStore) TryClaimBatch(ids []int64, slot int, maxBatch int) ([]*models.Feature, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var claimed []*models.Feature
	for _, id := range ids {
		if len(claimed) >= maxBatch {
			break
		}
		f, ok := fs.features[id]
		if !ok || f.Passes || f.InProgress {
			continue
		}
		f.InProgress = true
		s := slot
		f.ClaimedBy = &s
		c := *f
		claimed = append(claimed, &c)
	}
	return claimed, nil
}

func (fs *fakeStore) Release(id int64, outcome models.Outcome) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.features[id]
	if !ok || !f.InProgress {
		return nil
	}
	f.InProgress = false
	f.ClaimedBy = nil
	if outcome == models.OutcomeSuccess {
		f.Passes = true
	}
	return nil
}

func (fs *fakeStore) Abandon(id int64) error {
	return fs.Release(id, models.OutcomeFailure)
}

func (fs *fakeStore) ResetOrphaned() (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var n int64
	for _, f := range fs.features {
		if f.InProgress && !f.Passes {
			f.InProgress = false
			f.ClaimedBy = nil
			n++
		}
	}
	return n, nil
}

func (fs *fakeStore) feature(id int64) models.Feature {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return *fs.features[id]
}

// fakeSupervisor simulates sessions that exit with a scripted outcome.
type fakeSupervisor struct {
	mu       sync.Mutex
	sessions map[int]*fakeSession
	nextSlot int
	spawnErr error
	// outcome applied when a session exits; sessions exit immediately
	// unless hold is true.
	outcome models.Outcome
	hold    bool
	spawns  []models.WorkerRole
}

type fakeSession struct {
	role    models.WorkerRole
	ids     []int64
	outcome models.Outcome
	exited  bool
}

func newFakeSupervisor(outcome models.Outcome) *fakeSupervisor {
	return &fakeSupervisor{sessions: make(map[int]*fakeSession), outcome: outcome}
}

func (s *fakeSupervisor) Spawn(role models.WorkerRole, batch []*models.Feature, model string) (supervisor.SlotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spawnErr != nil {
		return supervisor.SlotInfo{}, s.spawnErr
	}
	var ids []int64
	for _, f := range batch {
		ids = append(ids, f.ID)
	}
	slot := s.nextSlot
	s.nextSlot++
	s.sessions[slot] = &fakeSession{role: role, ids: ids, outcome: s.outcome, exited: !s.hold}
	s.spawns = append(s.spawns, role)
	return supervisor.SlotInfo{Index: slot, Role: role, FeatureIDs: ids}, nil
}

func (s *fakeSupervisor) Poll(index int) (supervisor.ProcessOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[index]
	if !ok || !sess.exited {
		return supervisor.ProcessOutcome{}, false
	}
	delete(s.sessions, index)
	return supervisor.ProcessOutcome{
		Slot:       index,
		Role:       sess.role,
		FeatureIDs: sess.ids,
		Outcome:    sess.outcome,
	}, true
}

func (s *fakeSupervisor) Terminate(index int, hard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[index]; ok {
		sess.exited = true
		sess.outcome = models.OutcomeCrashed
	}
}

func (s *fakeSupervisor) TerminateAll(hard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.exited = true
		sess.outcome = models.OutcomeCrashed
	}
}

func (s *fakeSupervisor) ActiveSlots() []supervisor.SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []supervisor.SlotInfo
	for slot, sess := range s.sessions {
		infos = append(infos, supervisor.SlotInfo{Index: slot, Role: sess.role, FeatureIDs: sess.ids})
	}
	return infos
}

func (s *fakeSupervisor) ActiveCount(role models.WorkerRole) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.role == role && !sess.exited {
			n++
		}
	}
	return n
}

func (s *fakeSupervisor) TotalActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.exited {
			n++
		}
	}
	return n
}

func (s *fakeSupervisor) Stuck() []supervisor.SlotInfo { return nil }

func (s *fakeSupervisor) roles() []models.WorkerRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WorkerRole{}, s.spawns...)
}

func testOrchestrator(t *testing.T, fs *fakeStore, sup *fakeSupervisor) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Store:        fs,
		Supervisor:   sup,
		LockPath:     filepath.Join(t.TempDir(), "lock"),
		PollInterval: 5 * time.Millisecond,
		BatchSize:    2,
		MaxCoding:    2,
		MaxTesting:   1,
		MaxTotal:     3,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

// runToStop runs the orchestrator and waits for it to finish.
func runToStop(t *testing.T, o *Orchestrator, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// Drain events so a full buffer cannot distort the test.
	go func() {
		for range o.Events() {
		}
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout + time.Second):
		t.Fatal("run did not stop in time")
		return nil
	}
}

func TestRunStopsWhenAllWorkDone(t *testing.T) {
	fs := newFakeStore(&models.Feature{ID: 1, Passes: true})
	o := testOrchestrator(t, fs, newFakeSupervisor(models.OutcomeSuccess))

	if err := runToStop(t, o, 5*time.Second); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := o.Status()
	if st.State != models.RunStopped || st.Reason != models.StopCompleted {
		t.Errorf("expected stopped/completed, got %s/%s", st.State, st.Reason)
	}
}

func TestClaimSpawnHarvestCompletesFeatures(t *testing.T) {
	fs := newFakeStore(
		&models.Feature{ID: 1, Priority: 1},
		&models.Feature{ID: 2, Priority: 2, Dependencies: []int64{1}},
	)
	sup := newFakeSupervisor(models.OutcomeSuccess)
	o := testOrchestrator(t, fs, sup)

	if err := runToStop(t, o, 10*time.Second); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, id := range []int64{1, 2} {
		f := fs.feature(id)
		if !f.Passes || f.InProgress {
			t.Errorf("feature %d should be passing and released: %+v", id, f)
		}
	}

	// Completed features are handed to a verification session.
	var sawTesting bool
	for _, r := range sup.roles() {
		if r == models.RoleTesting {
			sawTesting = true
		}
	}
	if !sawTesting {
		t.Error("expected at least one testing session")
	}

	st := o.Status()
	if st.Reason != models.StopCompleted {
		t.Errorf("expected completed, got %s", st.Reason)
	}
}

func TestFailedSessionReleasesClaim(t *testing.T) {
	fs := newFakeStore(&models.Feature{ID: 1})
	sup := newFakeSupervisor(models.OutcomeFailure)
	o := testOrchestrator(t, fs, sup)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	go func() {
		for range o.Events() {
		}
	}()

	// Wait until the failure has been harvested at least once.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := fs.feature(1)
		if !f.Passes && !f.InProgress && len(sup.roles()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	f := fs.feature(1)
	if f.Passes {
		t.Error("failed session must not mark the feature passing")
	}
	if f.InProgress {
		t.Error("failed session must release its claim")
	}
}

func TestSpawnFailureAbandonsClaims(t *testing.T) {
	fs := newFakeStore(&models.Feature{ID: 1})
	sup := newFakeSupervisor(models.OutcomeSuccess)
	sup.spawnErr = errors.New("agent binary missing")
	o := testOrchestrator(t, fs, sup)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	go func() {
		for range o.Events() {
		}
	}()
	<-done

	f := fs.feature(1)
	if f.InProgress {
		t.Error("claim must not survive a failed spawn")
	}
}

func TestHardStopAbandonsClaimsAndStops(t *testing.T) {
	fs := newFakeStore(&models.Feature{ID: 1})
	sup := newFakeSupervisor(models.OutcomeSuccess)
	sup.hold = true
	o := testOrchestrator(t, fs, sup)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	go func() {
		for range o.Events() {
		}
	}()

	// Wait for the session to start.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sup.TotalActive() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if sup.TotalActive() == 0 {
		t.Fatal("session never started")
	}

	o.HardStop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	st := o.Status()
	if st.State != models.RunStopped || st.Reason != models.StopOperator {
		t.Errorf("expected stopped/stopped_by_operator, got %s/%s", st.State, st.Reason)
	}
	f := fs.feature(1)
	if f.InProgress {
		t.Error("hard stop must abandon in-flight claims")
	}
	if f.Passes {
		t.Error("hard stop must not complete features")
	}
}

func TestSoftStopDrainsWithoutNewSpawns(t *testing.T) {
	fs := newFakeStore(
		&models.Feature{ID: 1},
		&models.Feature{ID: 2},
		&models.Feature{ID: 3},
	)
	sup := newFakeSupervisor(models.OutcomeSuccess)
	sup.hold = true
	o, err := New(Config{
		Store:        fs,
		Supervisor:   sup,
		LockPath:     filepath.Join(t.TempDir(), "lock"),
		PollInterval: 5 * time.Millisecond,
		BatchSize:    1,
		MaxCoding:    1,
		MaxTesting:   1,
		MaxTotal:     2,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()
	go func() {
		for range o.Events() {
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && sup.TotalActive() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	o.SoftStop()
	spawnsAtStop := len(sup.roles())

	// Let the in-flight session finish; the drain should then stop the run.
	sup.mu.Lock()
	for _, sess := range sup.sessions {
		sess.exited = true
	}
	sup.mu.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	st := o.Status()
	if st.Reason != models.StopDrained {
		t.Errorf("expected drained, got %s", st.Reason)
	}
	if got := len(sup.roles()); got != spawnsAtStop {
		t.Errorf("soft stop must not spawn new sessions: %d -> %d", spawnsAtStop, got)
	}
	// The drained session completed normally, so its feature is done.
	if f := fs.feature(1); !f.Passes {
		t.Error("drained session's feature should be passing")
	}
}

func TestRepeatedStoreFailuresCrashTheRun(t *testing.T) {
	fs := newFakeStore(&models.Feature{ID: 1})
	fs.listErr = errors.New("disk gone")
	o := testOrchestrator(t, fs, newFakeSupervisor(models.OutcomeSuccess))

	err := runToStop(t, o, 5*time.Second)
	if err == nil {
		t.Fatal("expected crash error")
	}
	if o.State() != models.RunCrashed {
		t.Errorf("expected crashed state, got %s", o.State())
	}
}

func TestRunLogReceivesSessionRecords(t *testing.T) {
	fs := newFakeStore(&models.Feature{ID: 1})
	sup := newFakeSupervisor(models.OutcomeSuccess)

	var mu sync.Mutex
	var records []runlog.Record
	rec := recorderFunc(func(r runlog.Record) error {
		mu.Lock()
		records = append(records, r)
		mu.Unlock()
		return nil
	})

	o, err := New(Config{
		Store:        fs,
		Supervisor:   sup,
		RunLog:       rec,
		LockPath:     filepath.Join(t.TempDir(), "lock"),
		PollInterval: 5 * time.Millisecond,
		BatchSize:    1,
		MaxCoding:    1,
		MaxTesting:   1,
		MaxTotal:     2,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if err := runToStop(t, o, 10*time.Second); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(records) == 0 {
		t.Fatal("expected at least one run record")
	}
	if records[0].RunID == "" {
		t.Error("records must carry the run id")
	}
}

type recorderFunc func(r runlog.Record) error

func (f recorderFunc) Append(r runlog.Record) error { return f(r) }
