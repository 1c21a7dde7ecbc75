// Package supervisor owns the mapping from logical worker slots to physical
// OS processes. It spawns, monitors, and reaps one subprocess per concurrent
// agent session, enforcing the process-count ceilings before any OS-level
// launch. The orchestrator only reads slot state and requests transitions
// through this package; it never touches the process handles directly.
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// SpawnError indicates a spawn request would exceed a process-count
// ceiling. Expected under load; the orchestrator retries next tick.
type SpawnError struct {
	Role   models.WorkerRole
	Active int
	Limit  int
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %d of %d slots active", e.Role, e.Active, e.Limit)
}

// PromptFunc renders the role-specific prompt for a session. It is a pure
// value-producing collaborator: prompt text out, no side effects tracked here.
type PromptFunc func(role models.WorkerRole, batch []*models.Feature) (string, error)

// Config holds supervisor settings.
type Config struct {
	// MaxCoding caps concurrently active coding sessions.
	MaxCoding int
	// MaxTesting caps concurrently active testing sessions.
	MaxTesting int
	// MaxTotal caps all active sessions combined.
	MaxTotal int
	// AgentCommand is the agent binary; AgentArgs its fixed arguments.
	// The rendered prompt is written to the agent's stdin.
	AgentCommand string
	AgentArgs    []string
	// WorkDir is the project working directory for every session.
	WorkDir string
	// Model is the default model identifier exported to sessions.
	Model string
	// GracePeriod bounds how long a graceful terminate waits before
	// escalating to a hard kill.
	GracePeriod time.Duration
	// StuckThreshold flags sessions whose output has stalled.
	StuckThreshold time.Duration
	// Prompt renders session prompts. Required.
	Prompt PromptFunc
	// ExtraEnv is appended to every session's environment, e.g. the
	// command allowlist produced by the policy loader.
	ExtraEnv []string
	// OnOutput observes each line a session writes, if set.
	OnOutput func(slot int, line string)
}

// outputDrainWait bounds how long the waiter holds the exit verdict open so
// output already buffered in the pipe at exit, including a final status
// marker, gets scanned. Children the agent left behind can keep the pipe
// open far longer; their later output never counts toward the verdict.
const outputDrainWait = 100 * time.Millisecond

// slot is the supervisor-private record for one worker position.
type slot struct {
	index int
	// gen increments on every spawn into this slot. The scanner goroutine
	// carries the gen it was started under and stops applying updates once
	// the slot has moved on, so output from a lingering child of an earlier
	// session cannot touch the session that reused the slot.
	gen           uint64
	role          models.WorkerRole
	state         models.WorkerState
	featureIDs    []int64
	sessionID     string
	startedAt     time.Time
	lastHeartbeat time.Time
	cmd           *exec.Cmd
	// marker holds the last recognized status line from stdout.
	marker string
	// exitCode, signaled, and exitedAt are set by the waiter goroutine.
	exitCode int
	signaled bool
	exitedAt time.Time
	waitErr  error
	exited   chan struct{}
	// outputDone closes when the scanner reaches end of stream.
	outputDone chan struct{}
	// graceTimer escalates a graceful terminate to a hard kill.
	graceTimer *time.Timer
}

// SlotInfo is a read-only snapshot of one slot.
type SlotInfo struct {
	Index         int
	Role          models.WorkerRole
	State         models.WorkerState
	FeatureIDs    []int64
	SessionID     string
	PID           int
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// ProcessOutcome reports a harvested session to the orchestrator.
type ProcessOutcome struct {
	Slot       int
	SessionID  string
	Role       models.WorkerRole
	FeatureIDs []int64
	Outcome    models.Outcome
	ExitCode   int
	StartedAt  time.Time
	Duration   time.Duration
}

// Supervisor tracks every worker slot for one orchestrator run.
type Supervisor struct {
	cfg   Config
	slots []*slot
	mu    sync.Mutex
}

// New creates a Supervisor with MaxTotal idle slots.
func New(cfg Config) (*Supervisor, error) {
	if cfg.MaxTotal <= 0 {
		return nil, fmt.Errorf("max total processes must be positive, got %d", cfg.MaxTotal)
	}
	if cfg.Prompt == nil {
		return nil, fmt.Errorf("prompt function is required")
	}
	if cfg.AgentCommand == "" {
		return nil, fmt.Errorf("agent command is required")
	}

	slots := make([]*slot, cfg.MaxTotal)
	for i := range slots {
		slots[i] = &slot{index: i, state: models.WorkerIdle}
	}
	return &Supervisor{cfg: cfg, slots: slots}, nil
}

// Spawn launches a new agent session for the batch. The ceiling check runs
// before the OS-level launch so over-commit is impossible even transiently.
// Returns SpawnError when a ceiling would be exceeded.
func (s *Supervisor) Spawn(role models.WorkerRole, batch []*models.Feature, modelOverride string) (SlotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.totalActiveLocked()
	if total >= s.cfg.MaxTotal {
		return SlotInfo{}, &SpawnError{Role: role, Active: total, Limit: s.cfg.MaxTotal}
	}
	if limit := s.roleLimit(role); limit > 0 {
		active := s.activeCountLocked(role)
		if active >= limit {
			return SlotInfo{}, &SpawnError{Role: role, Active: active, Limit: limit}
		}
	}

	sl := s.freeSlotLocked()
	if sl == nil {
		// All slots occupied; equivalent to the total ceiling.
		return SlotInfo{}, &SpawnError{Role: role, Active: total, Limit: s.cfg.MaxTotal}
	}

	prompt, err := s.cfg.Prompt(role, batch)
	if err != nil {
		return SlotInfo{}, fmt.Errorf("render prompt for %s session: %w", role, err)
	}

	cmd := exec.Command(s.cfg.AgentCommand, s.cfg.AgentArgs...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = s.sessionEnv(sl.index, role, batch, modelOverride)
	configureCommandProcess(cmd)

	// Merge stdout and stderr into one stream for heartbeat tracking.
	outR, outW, err := os.Pipe()
	if err != nil {
		return SlotInfo{}, fmt.Errorf("create output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		return SlotInfo{}, fmt.Errorf("start %s session: %w", role, err)
	}
	outW.Close()

	now := time.Now()
	sl.gen++
	sl.role = role
	sl.state = models.WorkerStarting
	sl.featureIDs = featureIDs(batch)
	sl.sessionID = uuid.New().String()[:8]
	sl.startedAt = now
	sl.lastHeartbeat = now
	sl.cmd = cmd
	sl.marker = ""
	sl.exitCode = 0
	sl.signaled = false
	sl.exitedAt = time.Time{}
	sl.waitErr = nil
	sl.exited = make(chan struct{})
	sl.outputDone = make(chan struct{})
	sl.graceTimer = nil

	go s.scanOutput(sl, sl.gen, sl.outputDone, outR)
	go s.waitForExit(sl, sl.outputDone)

	debugLog("[supervisor] spawned %s session %s in slot %d (pid=%d, batch=%v)",
		role, sl.sessionID, sl.index, cmd.Process.Pid, sl.featureIDs)

	return s.snapshotLocked(sl), nil
}

// Poll performs a non-blocking check of the slot. If the session has exited,
// it returns the parsed outcome and frees the slot; otherwise ok is false.
// This is the only way the orchestrator learns about completion.
func (s *Supervisor) Poll(index int) (ProcessOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.slots) {
		return ProcessOutcome{}, false
	}
	sl := s.slots[index]
	if sl.state != models.WorkerExited {
		return ProcessOutcome{}, false
	}

	out := ProcessOutcome{
		Slot:       sl.index,
		SessionID:  sl.sessionID,
		Role:       sl.role,
		FeatureIDs: sl.featureIDs,
		Outcome:    parseOutcome(sl.marker, sl.exitCode, sl.signaled),
		ExitCode:   sl.exitCode,
		StartedAt:  sl.startedAt,
		Duration:   sl.exitedAt.Sub(sl.startedAt),
	}

	// Free the slot for reuse.
	if sl.graceTimer != nil {
		sl.graceTimer.Stop()
		sl.graceTimer = nil
	}
	sl.state = models.WorkerIdle
	sl.role = ""
	sl.featureIDs = nil
	sl.cmd = nil

	return out, true
}

// Terminate stops the session in the given slot. Graceful mode delivers an
// interrupt so the agent can finish its current tool call, escalating to a
// hard kill after the grace period. Hard mode kills the entire process tree
// immediately, including any children the agent spawned.
func (s *Supervisor) Terminate(index int, hard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminateLocked(index, hard)
}

// TerminateAll stops every active session.
func (s *Supervisor) TerminateAll(hard bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.state.Active() {
			s.terminateLocked(sl.index, hard)
		}
	}
}

func (s *Supervisor) terminateLocked(index int, hard bool) {
	if index < 0 || index >= len(s.slots) {
		return
	}
	sl := s.slots[index]
	if !sl.state.Active() || sl.cmd == nil {
		return
	}

	if hard {
		debugLog("[supervisor] hard-killing slot %d (session %s)", sl.index, sl.sessionID)
		terminateCommandProcess(sl.cmd)
		return
	}

	debugLog("[supervisor] graceful stop requested for slot %d (session %s)", sl.index, sl.sessionID)
	sl.state = models.WorkerFinishing
	interruptCommandProcess(sl.cmd)

	if s.cfg.GracePeriod > 0 && sl.graceTimer == nil {
		cmd := sl.cmd
		exited := sl.exited
		sl.graceTimer = time.AfterFunc(s.cfg.GracePeriod, func() {
			select {
			case <-exited:
				// Exited within the grace period.
			default:
				debugLog("[supervisor] grace period expired for slot %d, killing tree", index)
				terminateCommandProcess(cmd)
			}
		})
	}
}

// ActiveSlots returns snapshots of every slot currently hosting a process,
// including exited-but-unharvested ones.
func (s *Supervisor) ActiveSlots() []SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var infos []SlotInfo
	for _, sl := range s.slots {
		if sl.state.Active() || sl.state == models.WorkerExited {
			infos = append(infos, s.snapshotLocked(sl))
		}
	}
	return infos
}

// ActiveCount returns the number of active sessions for one role.
func (s *Supervisor) ActiveCount(role models.WorkerRole) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked(role)
}

// TotalActive returns the number of active sessions across all roles.
func (s *Supervisor) TotalActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalActiveLocked()
}

// Stuck returns slots whose output has not advanced within the stuck
// threshold. These are flagged for the operator; termination is never
// automatic and never silent.
func (s *Supervisor) Stuck() []SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.StuckThreshold <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-s.cfg.StuckThreshold)

	var stuck []SlotInfo
	for _, sl := range s.slots {
		if sl.state.Active() && sl.lastHeartbeat.Before(cutoff) {
			stuck = append(stuck, s.snapshotLocked(sl))
		}
	}
	return stuck
}

// scanOutput reads the merged output stream, refreshing the heartbeat on
// every line and remembering the last status marker. Updates stop once the
// slot's generation moves past gen or the session is declared exited; a
// detached child can keep the pipe open long after its session ended, and
// its output must never reach whatever session holds the slot next.
func (s *Supervisor) scanOutput(sl *slot, gen uint64, done chan struct{}, r *os.File) {
	defer r.Close()
	defer close(done)
	scanLines(r, func(line string) {
		s.mu.Lock()
		if sl.gen != gen || sl.state == models.WorkerExited {
			s.mu.Unlock()
			return
		}
		sl.lastHeartbeat = time.Now()
		if sl.state == models.WorkerStarting {
			sl.state = models.WorkerRunning
		}
		if marker, ok := statusMarker(line); ok {
			sl.marker = marker
		}
		s.mu.Unlock()

		if s.cfg.OnOutput != nil {
			s.cfg.OnOutput(sl.index, line)
		}
	})
}

// waitForExit reaps the process and records its exit disposition.
func (s *Supervisor) waitForExit(sl *slot, outputDone chan struct{}) {
	err := sl.cmd.Wait()
	exitedAt := time.Now()

	// Let output buffered at exit, such as a verdict printed right before
	// the process died, reach the scanner before the verdict window closes.
	select {
	case <-outputDone:
	case <-time.After(outputDrainWait):
	}

	s.mu.Lock()
	sl.waitErr = err
	sl.exitCode, sl.signaled = exitDisposition(err)
	sl.exitedAt = exitedAt
	sl.state = models.WorkerExited
	close(sl.exited)
	s.mu.Unlock()

	debugLog("[supervisor] slot %d session %s exited (code=%d signaled=%v)",
		sl.index, sl.sessionID, sl.exitCode, sl.signaled)
}

func (s *Supervisor) snapshotLocked(sl *slot) SlotInfo {
	pid := 0
	if sl.cmd != nil && sl.cmd.Process != nil {
		pid = sl.cmd.Process.Pid
	}
	ids := make([]int64, len(sl.featureIDs))
	copy(ids, sl.featureIDs)
	return SlotInfo{
		Index:         sl.index,
		Role:          sl.role,
		State:         sl.state,
		FeatureIDs:    ids,
		SessionID:     sl.sessionID,
		PID:           pid,
		StartedAt:     sl.startedAt,
		LastHeartbeat: sl.lastHeartbeat,
	}
}

func (s *Supervisor) freeSlotLocked() *slot {
	for _, sl := range s.slots {
		if sl.state == models.WorkerIdle {
			return sl
		}
	}
	return nil
}

func (s *Supervisor) activeCountLocked(role models.WorkerRole) int {
	count := 0
	for _, sl := range s.slots {
		if sl.role == role && sl.state.Active() {
			count++
		}
	}
	return count
}

func (s *Supervisor) totalActiveLocked() int {
	count := 0
	for _, sl := range s.slots {
		if sl.state.Active() {
			count++
		}
	}
	return count
}

func (s *Supervisor) roleLimit(role models.WorkerRole) int {
	switch role {
	case models.RoleCoding:
		return s.cfg.MaxCoding
	case models.RoleTesting:
		return s.cfg.MaxTesting
	default:
		return 0
	}
}

// sessionEnv builds the session environment: the parent environment plus
// slot identity, batch assignment, model selection, the policy extras, and
// an isolated profile directory so concurrent sessions never share mutable
// external state such as a browser profile.
func (s *Supervisor) sessionEnv(index int, role models.WorkerRole, batch []*models.Feature, modelOverride string) []string {
	model := s.cfg.Model
	if modelOverride != "" {
		model = modelOverride
	}

	ids := make([]string, len(batch))
	for i, f := range batch {
		ids[i] = fmt.Sprintf("%d", f.ID)
	}

	profileDir := filepath.Join(s.cfg.WorkDir, ".foreman", "profiles", fmt.Sprintf("slot-%d", index))
	_ = os.MkdirAll(profileDir, 0755)

	env := append(os.Environ(),
		fmt.Sprintf("FOREMAN_SLOT=%d", index),
		fmt.Sprintf("FOREMAN_ROLE=%s", role),
		fmt.Sprintf("FOREMAN_FEATURES=%s", strings.Join(ids, ",")),
		fmt.Sprintf("FOREMAN_PROFILE_DIR=%s", profileDir),
	)
	if model != "" {
		env = append(env, fmt.Sprintf("FOREMAN_MODEL=%s", model))
	}
	return append(env, s.cfg.ExtraEnv...)
}

func featureIDs(batch []*models.Feature) []int64 {
	ids := make([]int64, len(batch))
	for i, f := range batch {
		ids[i] = f.ID
	}
	return ids
}
