package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/runlog"
	"github.com/ShayCichocki/foreman/internal/supervisor"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// maxStoreFailures is how many consecutive feature-store errors the loop
// absorbs before declaring the run crashed.
const maxStoreFailures = 5

// FeatureStore is the slice of the feature store the run loop depends on.
type FeatureStore interface {
	ListFeatures() ([]*models.Feature, error)
	TryClaimBatch(ids []int64, slot int, maxBatch int) ([]*models.Feature, error)
	Release(id int64, outcome models.Outcome) error
	Abandon(id int64) error
	ResetOrphaned() (int64, error)
}

// ProcessSupervisor is the slice of the supervisor the run loop depends on.
type ProcessSupervisor interface {
	Spawn(role models.WorkerRole, batch []*models.Feature, model string) (supervisor.SlotInfo, error)
	Poll(index int) (supervisor.ProcessOutcome, bool)
	Terminate(index int, hard bool)
	TerminateAll(hard bool)
	ActiveSlots() []supervisor.SlotInfo
	ActiveCount(role models.WorkerRole) int
	TotalActive() int
	Stuck() []supervisor.SlotInfo
}

// RunRecorder persists per-session records. Optional.
type RunRecorder interface {
	Append(r runlog.Record) error
}

// Config wires an Orchestrator. Everything is injected; the orchestrator
// holds no global state, so tests can run several side by side.
type Config struct {
	Store      FeatureStore
	Supervisor ProcessSupervisor
	RunLog     RunRecorder

	// LockPath is the project lock file location.
	LockPath string
	// ControlDir is watched for stop/kill drop files.
	ControlDir string

	// PollInterval is the tick period of the run loop.
	PollInterval time.Duration
	// BatchSize caps features assigned to one session.
	BatchSize int
	// MaxCoding, MaxTesting, and MaxTotal mirror the supervisor's
	// ceilings so headroom can be computed before claiming.
	MaxCoding  int
	MaxTesting int
	MaxTotal   int
	// Model is the model identifier passed to spawned sessions.
	Model string

	// Logger receives debug output. Nil means silent.
	Logger *DebugLogger
	// EventBuffer sizes the event channel. Zero means a sane default.
	EventBuffer int
}

// Status is a point-in-time snapshot of a run.
type Status struct {
	RunID               string
	State               models.RunStatus
	Reason              models.StopReason
	StartedAt           time.Time
	ShutdownRequestedAt time.Time
	Total               int
	Passing             int
	InProgress          int
	PendingVerification int
	Slots               []supervisor.SlotInfo
}

// Orchestrator drives the claim-spawn-harvest cycle for one project.
type Orchestrator struct {
	cfg     Config
	emitter *EventEmitter

	mu         sync.Mutex
	runID      string
	state      models.RunStatus
	reason     models.StopReason
	startedAt  time.Time
	shutdownAt time.Time
	// testQueue holds completed feature IDs awaiting a verification pass.
	// Testing sessions read features that already pass, so the queue needs
	// no claims and does not survive a restart.
	testQueue []int64
	// storeFailures counts consecutive feature-store errors.
	storeFailures int

	control *controlWatcher
	lock    *projectLock
}

// New creates an Orchestrator in the stopped state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Supervisor == nil {
		return nil, fmt.Errorf("store and supervisor are required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	setPackageLogger(cfg.Logger)
	supervisor.SetLogger(cfg.Logger)

	return &Orchestrator{
		cfg:     cfg,
		emitter: NewEventEmitter(cfg.EventBuffer),
		state:   models.RunStopped,
	}, nil
}

// Events exposes the run's event stream.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Run executes the orchestration loop until the run stops, crashes, or the
// context is canceled. Startup acquires the project lock and reconciles
// claims left behind by a crashed predecessor; a held lock is a hard
// startup failure, never a wait.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.state != models.RunStopped {
		o.mu.Unlock()
		return fmt.Errorf("run already in state %s", o.state)
	}
	o.mu.Unlock()

	lock, err := acquireLock(o.cfg.LockPath)
	if err != nil {
		return err
	}

	reset, err := o.cfg.Store.ResetOrphaned()
	if err != nil {
		lock.Release()
		return fmt.Errorf("reconcile stale claims: %w", err)
	}
	if reset > 0 {
		debugLog("[orchestrator] reset %d stale in-progress claims", reset)
	}

	var control *controlWatcher
	if o.cfg.ControlDir != "" {
		control, err = newControlWatcher(o.cfg.ControlDir)
		if err != nil {
			lock.Release()
			return fmt.Errorf("set up control directory: %w", err)
		}
	}

	o.mu.Lock()
	o.lock = lock
	o.control = control
	o.runID = uuid.New().String()[:8]
	o.state = models.RunRunning
	o.reason = ""
	o.startedAt = time.Now()
	o.shutdownAt = time.Time{}
	o.testQueue = nil
	o.storeFailures = 0
	o.mu.Unlock()

	o.emitter.Emit(Event{Type: EventRunStarted, Message: "run " + o.runID})
	debugLog("[orchestrator] run %s started (batch=%d poll=%s)", o.runID, o.cfg.BatchSize, o.cfg.PollInterval)

	defer func() {
		if control != nil {
			control.Close()
		}
		lock.Release()
	}()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.HardStop()
		case <-ticker.C:
			if control != nil {
				if control.HardRequested() {
					o.HardStop()
				} else if control.SoftRequested() {
					o.SoftStop()
				}
			}
			o.tick()
		}

		st := o.State()
		if st == models.RunStopped || st == models.RunCrashed {
			break
		}
	}

	st, reason := o.stateAndReason()
	o.emitter.Emit(Event{Type: EventRunStopped, Message: string(reason)})
	debugLog("[orchestrator] run %s stopped (state=%s reason=%s)", o.runID, st, reason)

	if st == models.RunCrashed {
		return fmt.Errorf("run crashed after repeated feature store failures")
	}
	return nil
}

// tick performs one pass of the loop: harvest exits first so their claims
// release and their slots free up, then flag stalls, then either drain or
// schedule new work depending on state.
func (o *Orchestrator) tick() {
	o.harvest()

	for _, sl := range o.cfg.Supervisor.Stuck() {
		o.emitter.Emit(Event{
			Type:    EventWorkerStuck,
			Slot:    sl.Index,
			Role:    sl.Role,
			Message: fmt.Sprintf("no output since %s", sl.LastHeartbeat.Format(time.TimeOnly)),
		})
	}

	switch o.State() {
	case models.RunFinishing:
		if o.cfg.Supervisor.TotalActive() == 0 {
			o.stop(models.StopDrained)
		}
	case models.RunRunning:
		o.schedule()
	}
}

// harvest polls every occupied slot and applies each exit to the store.
func (o *Orchestrator) harvest() {
	for _, sl := range o.cfg.Supervisor.ActiveSlots() {
		out, ok := o.cfg.Supervisor.Poll(sl.Index)
		if !ok {
			continue
		}
		o.handleOutcome(out)
	}
}

func (o *Orchestrator) handleOutcome(out supervisor.ProcessOutcome) {
	debugLog("[orchestrator] harvested slot %d: role=%s outcome=%s features=%v",
		out.Slot, out.Role, out.Outcome, out.FeatureIDs)

	if o.cfg.RunLog != nil {
		err := o.cfg.RunLog.Append(runlog.Record{
			RunID:      o.runID,
			Slot:       out.Slot,
			Role:       out.Role,
			FeatureIDs: out.FeatureIDs,
			Outcome:    out.Outcome,
			ExitCode:   out.ExitCode,
			StartedAt:  out.StartedAt,
			Duration:   out.Duration,
		})
		if err != nil {
			debugLog("[orchestrator] run log append failed: %v", err)
		}
	}

	switch out.Role {
	case models.RoleCoding, models.RoleInitializer:
		for _, id := range out.FeatureIDs {
			// Success completes the claim; failure, crash, and an
			// unreadable verdict all release it for another attempt.
			if err := o.cfg.Store.Release(id, out.Outcome); err != nil {
				o.storeTrouble(err)
				continue
			}
			o.storeOK()
			if out.Outcome == models.OutcomeSuccess {
				o.enqueueVerification(id)
				o.emitter.Emit(Event{Type: EventFeatureCompleted, FeatureIDs: []int64{id}, Slot: out.Slot})
			} else {
				o.emitter.Emit(Event{Type: EventFeatureAbandoned, FeatureIDs: []int64{id}, Slot: out.Slot, Outcome: out.Outcome})
			}
		}
	case models.RoleTesting:
		// Testing sessions hold no claims. A failed verification is
		// surfaced to the operator; the features keep their status.
		if out.Outcome != models.OutcomeSuccess {
			o.emitter.Emit(Event{
				Type:       EventBlockedWork,
				FeatureIDs: out.FeatureIDs,
				Outcome:    out.Outcome,
				Message:    "verification session did not pass",
			})
		}
	}

	o.emitter.Emit(Event{
		Type:       EventSessionDone,
		Slot:       out.Slot,
		Role:       out.Role,
		FeatureIDs: out.FeatureIDs,
		Outcome:    out.Outcome,
	})
}

// schedule claims ready features and spawns sessions up to the ceilings.
func (o *Orchestrator) schedule() {
	snapshot, err := o.cfg.Store.ListFeatures()
	if err != nil {
		o.storeTrouble(err)
		return
	}
	o.storeOK()

	ready := graph.ComputeReady(snapshot)

	o.spawnTesting(snapshot)
	ready = o.spawnCoding(ready)

	// Out of work: nothing ready, nothing running, nothing queued.
	if len(ready) == 0 && o.cfg.Supervisor.TotalActive() == 0 && o.pendingVerification() == 0 {
		unfinished := 0
		for _, f := range snapshot {
			if !f.Passes {
				unfinished++
			}
		}
		if unfinished > 0 {
			o.emitter.Emit(Event{
				Type:    EventBlockedWork,
				Message: fmt.Sprintf("%d features remain blocked and can never become ready", unfinished),
			})
		}
		o.stop(models.StopCompleted)
	}
}

// spawnCoding claims and launches coding batches while headroom remains,
// returning the ready IDs that were not consumed.
func (o *Orchestrator) spawnCoding(ready []int64) []int64 {
	for len(ready) > 0 && o.codingHeadroom() > 0 {
		claimed, err := o.cfg.Store.TryClaimBatch(ready, o.cfg.Supervisor.TotalActive(), o.cfg.BatchSize)
		if err != nil {
			o.storeTrouble(err)
			return ready
		}
		o.storeOK()
		if len(claimed) == 0 {
			// Everything ready was taken by a concurrent actor.
			return nil
		}

		info, err := o.cfg.Supervisor.Spawn(models.RoleCoding, claimed, o.cfg.Model)
		if err != nil {
			// The claim must not outlive the failed launch.
			for _, f := range claimed {
				if aerr := o.cfg.Store.Abandon(f.ID); aerr != nil {
					o.storeTrouble(aerr)
				}
			}
			var spawnErr *supervisor.SpawnError
			if !errors.As(err, &spawnErr) {
				debugLog("[orchestrator] coding spawn failed: %v", err)
			}
			return ready
		}

		o.emitter.Emit(Event{
			Type:       EventSessionSpawned,
			Slot:       info.Index,
			Role:       models.RoleCoding,
			FeatureIDs: info.FeatureIDs,
		})
		ready = without(ready, claimed)
	}
	return ready
}

// spawnTesting launches verification sessions over recently completed
// features while testing headroom remains.
func (o *Orchestrator) spawnTesting(snapshot []*models.Feature) {
	byID := make(map[int64]*models.Feature, len(snapshot))
	for _, f := range snapshot {
		byID[f.ID] = f
	}

	for o.testingHeadroom() > 0 {
		ids := o.dequeueVerification(o.cfg.BatchSize)
		if len(ids) == 0 {
			return
		}

		var batch []*models.Feature
		for _, id := range ids {
			if f, ok := byID[id]; ok && f.Passes {
				batch = append(batch, f)
			}
		}
		if len(batch) == 0 {
			continue
		}

		info, err := o.cfg.Supervisor.Spawn(models.RoleTesting, batch, o.cfg.Model)
		if err != nil {
			// Put the work back; headroom was taken in the meantime.
			o.requeueVerification(ids)
			return
		}
		o.emitter.Emit(Event{
			Type:       EventSessionSpawned,
			Slot:       info.Index,
			Role:       models.RoleTesting,
			FeatureIDs: info.FeatureIDs,
		})
	}
}

// SoftStop requests a drain: no new sessions, in-flight ones finish, then
// the run stops. Only meaningful while running; repeated calls are no-ops.
func (o *Orchestrator) SoftStop() {
	o.mu.Lock()
	if o.state != models.RunRunning {
		o.mu.Unlock()
		return
	}
	o.state = models.RunFinishing
	o.shutdownAt = time.Now()
	o.mu.Unlock()

	debugLog("[orchestrator] soft stop requested, draining %d sessions", o.cfg.Supervisor.TotalActive())
	o.emitter.Emit(Event{Type: EventSoftStop})
}

// HardStop tears the run down now: every session's process tree is killed
// and every claim is released so the features are eligible on restart.
func (o *Orchestrator) HardStop() {
	o.mu.Lock()
	if o.state == models.RunStopped {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	o.emitter.Emit(Event{Type: EventHardStop})
	debugLog("[orchestrator] hard stop requested")

	slots := o.cfg.Supervisor.ActiveSlots()
	o.cfg.Supervisor.TerminateAll(true)

	for _, sl := range slots {
		if sl.Role == models.RoleTesting {
			continue
		}
		for _, id := range sl.FeatureIDs {
			// Abandon is a no-op for rows a finishing session already
			// released, so racing with a last-moment completion is safe.
			if err := o.cfg.Store.Abandon(id); err != nil {
				debugLog("[orchestrator] abandon feature %d during hard stop: %v", id, err)
			}
		}
	}

	o.stop(models.StopOperator)
}

// State returns the current run state.
func (o *Orchestrator) State() models.RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status assembles a snapshot for the status surface and the TUI.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		RunID:               o.runID,
		State:               o.state,
		Reason:              o.reason,
		StartedAt:           o.startedAt,
		ShutdownRequestedAt: o.shutdownAt,
		PendingVerification: len(o.testQueue),
	}
	o.mu.Unlock()

	st.Slots = o.cfg.Supervisor.ActiveSlots()

	if snapshot, err := o.cfg.Store.ListFeatures(); err == nil {
		st.Total = len(snapshot)
		for _, f := range snapshot {
			if f.Passes {
				st.Passing++
			}
			if f.InProgress {
				st.InProgress++
			}
		}
	}
	return st
}

func (o *Orchestrator) stop(reason models.StopReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == models.RunStopped || o.state == models.RunCrashed {
		return
	}
	o.state = models.RunStopped
	o.reason = reason
}

// storeTrouble records a feature-store error; enough of them in a row
// crash the run rather than let it spin against a broken database.
func (o *Orchestrator) storeTrouble(err error) {
	o.emitter.Emit(Event{Type: EventStoreTrouble, Err: err})
	debugLog("[orchestrator] feature store error: %v", err)

	o.mu.Lock()
	o.storeFailures++
	crashed := o.storeFailures >= maxStoreFailures && o.state != models.RunCrashed
	if crashed {
		o.state = models.RunCrashed
	}
	o.mu.Unlock()

	if crashed {
		debugLog("[orchestrator] %d consecutive store failures, crashing run", maxStoreFailures)
		o.cfg.Supervisor.TerminateAll(true)
	}
}

func (o *Orchestrator) storeOK() {
	o.mu.Lock()
	o.storeFailures = 0
	o.mu.Unlock()
}

func (o *Orchestrator) stateAndReason() (models.RunStatus, models.StopReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.reason
}

func (o *Orchestrator) codingHeadroom() int {
	role := o.cfg.MaxCoding - o.cfg.Supervisor.ActiveCount(models.RoleCoding)
	total := o.cfg.MaxTotal - o.cfg.Supervisor.TotalActive()
	if total < role {
		return total
	}
	return role
}

func (o *Orchestrator) testingHeadroom() int {
	role := o.cfg.MaxTesting - o.cfg.Supervisor.ActiveCount(models.RoleTesting)
	total := o.cfg.MaxTotal - o.cfg.Supervisor.TotalActive()
	if total < role {
		return total
	}
	return role
}

func (o *Orchestrator) enqueueVerification(id int64) {
	o.mu.Lock()
	o.testQueue = append(o.testQueue, id)
	o.mu.Unlock()
}

func (o *Orchestrator) dequeueVerification(n int) []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > len(o.testQueue) {
		n = len(o.testQueue)
	}
	ids := o.testQueue[:n]
	o.testQueue = o.testQueue[n:]
	return ids
}

func (o *Orchestrator) requeueVerification(ids []int64) {
	o.mu.Lock()
	o.testQueue = append(ids, o.testQueue...)
	o.mu.Unlock()
}

// pendingVerification returns the verification backlog length.
func (o *Orchestrator) pendingVerification() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.testQueue)
}

// without filters claimed features out of the ready list.
func without(ready []int64, claimed []*models.Feature) []int64 {
	taken := make(map[int64]bool, len(claimed))
	for _, f := range claimed {
		taken[f.ID] = true
	}
	var rest []int64
	for _, id := range ready {
		if !taken[id] {
			rest = append(rest, id)
		}
	}
	return rest
}
