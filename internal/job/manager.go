// Package job implements the Job Manager: the single-writer registry of
// JobId -> Job, its state machine, file-lock scheduling, and generation
// counter (spec §4.1). It is grounded on the teacher's job-registry shape
// (station's repository-backed CRUD managers) and on the job-manager
// pattern seen across the retrieval pack (mutex-guarded map, cascade
// operations, FIFO promotion), adapted to the Rust original's exact state
// machine and invariants in original_source/src/domain/job.
package job

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MAF2414/kyco-sub004/internal/kerrors"
	"github.com/MAF2414/kyco-sub004/internal/logging"
)

// CreateParams are the inputs accepted by Manager.Create.
type CreateParams struct {
	Mode           string
	Scope          Scope
	Target         string
	Description    string
	Prompt         string
	IDEContext     string
	AgentID        string
	Workspace      string
	SourceFile     string
	SourceLine     int
	RawTagLine     string
	ForceWorktree  bool
	PermissionMode string
	ChainName      string
	GroupID        *GroupID
}

// Manager is the single-writer job registry. All mutation goes through its
// mutex; readers get defensive clones so they never observe a torn write.
type Manager struct {
	mu          sync.Mutex
	jobs        map[ID]*Job
	order       []ID // insertion order, for stable listing
	nextID      ID
	groups      map[GroupID]*Group
	nextGroupID GroupID
	generation  uint64

	// dispatch is signaled (non-blocking) whenever a job becomes Queued or
	// a Blocked job is promoted back to Queued, so the Executor's dispatch
	// loop can wake without polling.
	dispatch chan struct{}
}

// NewManager creates an empty job registry.
func NewManager() *Manager {
	return &Manager{
		jobs:     make(map[ID]*Job),
		groups:   make(map[GroupID]*Group),
		dispatch: make(chan struct{}, 1),
	}
}

// DispatchSignal returns the channel the Executor should select on to learn
// that new work may be ready.
func (m *Manager) DispatchSignal() <-chan struct{} {
	return m.dispatch
}

func (m *Manager) signalDispatch() {
	select {
	case m.dispatch <- struct{}{}:
	default:
	}
}

// Generation returns the current mutation counter for UI polling.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) bump() {
	m.generation++
}

func canonicalPath(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return filepath.Clean(abs)
}

// Create allocates a new Job in Pending state. It never fails (spec §4.1).
func (m *Manager) Create(p CreateParams) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now().UTC()
	j := &Job{
		ID:             m.nextID,
		GroupID:        p.GroupID,
		ChainName:      p.ChainName,
		Mode:           p.Mode,
		Target:         p.Target,
		Description:    p.Description,
		Prompt:         p.Prompt,
		IDEContext:     p.IDEContext,
		AgentID:        p.AgentID,
		ForceWorktree:  p.ForceWorktree,
		PermissionMode: p.PermissionMode,
		WorkspacePath:  p.Workspace,
		SourceFile:     p.SourceFile,
		SourceLine:     p.SourceLine,
		RawTagLine:     p.RawTagLine,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.jobs[j.ID] = j
	m.order = append(m.order, j.ID)
	m.bump()
	logging.Event("job", "created", logging.Fields{"job_id": j.ID, "mode": j.Mode})
	return j.Clone()
}

// CreateGroup creates sibling jobs sharing the same prompt/target/base
// revision but distinct agents (invariant I7), returning the group and the
// created Job clones in agent order.
func (m *Manager) CreateGroup(agents []string, base CreateParams) (*Group, []*Job) {
	m.mu.Lock()
	m.nextGroupID++
	gid := m.nextGroupID
	m.groups[gid] = &Group{ID: gid, Status: GroupRunning}
	m.mu.Unlock()

	jobs := make([]*Job, 0, len(agents))
	for _, agent := range agents {
		p := base
		p.AgentID = agent
		p.GroupID = &gid
		jobs = append(jobs, m.Create(p))
	}

	m.mu.Lock()
	g := m.groups[gid]
	for _, j := range jobs {
		g.JobIDs = append(g.JobIDs, j.ID)
	}
	m.mu.Unlock()

	return g.clone(), jobs
}

func (g *Group) clone() *Group {
	c := *g
	c.JobIDs = append([]ID(nil), g.JobIDs...)
	if g.WinnerID != nil {
		w := *g.WinnerID
		c.WinnerID = &w
	}
	return &c
}

// Get returns a defensive clone of a job, or ErrNotFound.
func (m *Manager) Get(id ID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	return j.Clone(), nil
}

// GetGroup returns a defensive clone of a group, or ErrNotFound.
func (m *Manager) GetGroup(id GroupID) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %d: %w", id, kerrors.ErrNotFound)
	}
	return g.clone(), nil
}

// List returns clones of every job in creation order.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.order))
	for _, id := range m.order {
		if j, ok := m.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out
}

// transition validates and applies a state change, bumping generation and
// updated_at. Caller must hold m.mu.
func (m *Manager) transition(j *Job, next Status) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("job %d: %s -> %s: %w", j.ID, j.Status, next, kerrors.ErrInvalidState)
	}
	j.Status = next
	j.UpdatedAt = time.Now().UTC()
	m.bump()
	return nil
}

// Queue moves a Pending job to Queued and wakes the dispatch loop.
func (m *Manager) Queue(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	if err := m.transition(j, StatusQueued); err != nil {
		return err
	}
	m.signalDispatch()
	return nil
}

// NextDispatchable returns the lowest-id Queued job whose canonical source
// file is not held by any currently Running job. Chain parent jobs are
// never returned: the Chain Engine drives them itself.
// It does not mutate state; the Executor calls MarkRunning once it has
// acquired a concurrency slot.
func (m *Manager) NextDispatchable() (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runningFiles := make(map[string]ID)
	for _, j := range m.jobs {
		// Chain parent jobs are supervisory bookkeeping, not a job that
		// itself touches the file: excluded so they never block the
		// inner step jobs they dispatch against the same source file.
		if j.Status == StatusRunning && j.SourceFile != "" && j.ChainName == "" {
			runningFiles[canonicalPath(j.SourceFile)] = j.ID
		}
	}

	var candidates []*Job
	for _, id := range m.order {
		j := m.jobs[id]
		if j != nil && j.Status == StatusQueued && j.ChainName == "" {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].ID < candidates[k].ID })

	for _, j := range candidates {
		if j.SourceFile == "" {
			return j.Clone(), true
		}
		cp := canonicalPath(j.SourceFile)
		if holder, held := runningFiles[cp]; !held || holder == j.ID {
			return j.Clone(), true
		}
	}
	return nil, false
}

// MarkRunning promotes a Queued job (or blocks it if its file is now held).
// Invariant I2: at most one Running job per canonical source file.
func (m *Manager) MarkRunning(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}

	if j.SourceFile != "" && j.ChainName == "" {
		cp := canonicalPath(j.SourceFile)
		for _, other := range m.jobs {
			if other.ID == j.ID || other.Status != StatusRunning || other.SourceFile == "" || other.ChainName != "" {
				continue
			}
			if canonicalPath(other.SourceFile) == cp {
				// Another job grabbed the file first: block instead.
				if err := m.transition(j, StatusBlocked); err != nil {
					return err
				}
				holder := other.ID
				j.BlockedBy = &holder
				j.BlockedFile = j.SourceFile
				return nil
			}
		}
	}

	if err := m.transition(j, StatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.StartedAt = &now
	j.BlockedBy = nil
	j.BlockedFile = ""
	return nil
}

// MarkBlocked transitions a Running job to Blocked, recording the holder
// (used when the Executor discovers a collision after dispatch begins).
func (m *Manager) MarkBlocked(id ID, holder ID, file string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	if err := m.transition(j, StatusBlocked); err != nil {
		return err
	}
	j.BlockedBy = &holder
	j.BlockedFile = file
	return nil
}

// Outcome carries the terminal result of a Running job.
type Outcome struct {
	ChangedFiles []string
	Result       *Result
	FullResponse string
	Stats        *Stats
}

// MarkDone transitions a Running job to Done and writes its outputs, then
// promotes any Blocked job waiting on the same source file (FIFO by id).
func (m *Manager) MarkDone(id ID, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	if err := m.transition(j, StatusDone); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.ChangedFiles = outcome.ChangedFiles
	j.Result = outcome.Result
	j.FullResponse = outcome.FullResponse
	j.Stats = outcome.Stats
	m.promoteBlockedLocked(j.SourceFile)
	m.maybeSettleGroupLocked(j)
	return nil
}

// MarkFailed transitions a Running or Queued job to Failed with an error
// message, and promotes any Blocked job waiting on the freed file.
func (m *Manager) MarkFailed(id ID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	wasRunning := j.Status == StatusRunning
	if err := m.transition(j, StatusFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.FinishedAt = &now
	j.ErrorMessage = errMsg
	if wasRunning {
		m.promoteBlockedLocked(j.SourceFile)
	}
	m.maybeSettleGroupLocked(j)
	return nil
}

// promoteBlockedLocked scans Blocked jobs FIFO by id and promotes the first
// one sharing the freed file back to Queued. Caller holds m.mu.
func (m *Manager) promoteBlockedLocked(freedFile string) {
	if freedFile == "" {
		return
	}
	cp := canonicalPath(freedFile)

	var blocked []*Job
	for _, id := range m.order {
		j := m.jobs[id]
		if j != nil && j.Status == StatusBlocked && j.SourceFile != "" && canonicalPath(j.SourceFile) == cp {
			blocked = append(blocked, j)
		}
	}
	sort.Slice(blocked, func(i, k int) bool { return blocked[i].ID < blocked[k].ID })
	if len(blocked) == 0 {
		return
	}
	winner := blocked[0]
	_ = m.transition(winner, StatusQueued)
	winner.BlockedBy = nil
	winner.BlockedFile = ""
	m.signalDispatch()
}

// maybeSettleGroupLocked flips a Group to Comparing once every sibling has
// left Running (open question resolved in SPEC_FULL.md §5).
func (m *Manager) maybeSettleGroupLocked(j *Job) {
	if j.GroupID == nil {
		return
	}
	g, ok := m.groups[*j.GroupID]
	if !ok || g.Status != GroupRunning {
		return
	}
	for _, id := range g.JobIDs {
		if sib := m.jobs[id]; sib != nil && sib.Status == StatusRunning {
			return
		}
	}
	g.Status = GroupComparing
}

// Select marks the winning job of a comparison group, flipping it to Selected.
func (m *Manager) Select(gid GroupID, winner ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[gid]
	if !ok {
		return fmt.Errorf("group %d: %w", gid, kerrors.ErrNotFound)
	}
	found := false
	for _, id := range g.JobIDs {
		if id == winner {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("job %d is not a member of group %d: %w", winner, gid, kerrors.ErrInvalidState)
	}
	g.Status = GroupSelected
	g.WinnerID = &winner
	m.bump()
	return nil
}

// Apply transitions a Done job to Merged. Callers invoke this only after the
// Worktree Manager has successfully merged the branch.
func (m *Manager) Apply(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	return m.transition(j, StatusMerged)
}

// Reject transitions a Done job to Rejected.
func (m *Manager) Reject(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	return m.transition(j, StatusRejected)
}

// Delete removes a job from the registry (it does not touch the worktree;
// callers clean that up first via the Worktree Manager).
func (m *Manager) Delete(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	delete(m.jobs, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.bump()
	return nil
}

// ClearFinished deletes every job in a terminal status and returns how many
// were removed (the Control Plane's bulk "clear finished" operation).
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keep []ID
	removed := 0
	for _, id := range m.order {
		j := m.jobs[id]
		if j != nil && j.Status.Terminal() {
			delete(m.jobs, id)
			removed++
			continue
		}
		keep = append(keep, id)
	}
	m.order = keep
	if removed > 0 {
		m.bump()
	}
	return removed
}

// Abort cancels a job: a Queued job fails immediately without ever
// dispatching (boundary B4); a Running job is marked Failed with "aborted"
// and the caller (Executor) is responsible for actually interrupting the
// adapter process. Returns the job's status *before* the abort so the
// Executor knows whether it needs to signal a live adapter.
func (m *Manager) Abort(id ID) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return "", fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	prev := j.Status
	switch prev {
	case StatusQueued, StatusPending:
		if err := m.transition(j, StatusFailed); err != nil {
			return prev, err
		}
		j.ErrorMessage = "aborted"
		now := time.Now().UTC()
		j.FinishedAt = &now
	case StatusRunning:
		// Left to the Executor to mark Failed once the adapter drains.
	default:
		return prev, fmt.Errorf("job %d: cannot abort from %s: %w", id, prev, kerrors.ErrInvalidState)
	}
	return prev, nil
}

// ContinueSession creates a follow-up Job reusing the worktree, branch,
// base branch, and bridge session id of a Done job (spec §4.1). The new job
// starts Pending; the caller still needs to Queue it.
func (m *Manager) ContinueSession(id ID, prompt string) (*Job, error) {
	m.mu.Lock()
	prev, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	if prev.Status != StatusDone || prev.BridgeSessionID == "" {
		m.mu.Unlock()
		return nil, fmt.Errorf("job %d: continue_session requires Done status with a bridge session: %w", id, kerrors.ErrInvalidState)
	}
	clone := prev.Clone()
	m.mu.Unlock()

	next := m.Create(CreateParams{
		Mode:           clone.Mode,
		Scope:          Scope{},
		Target:         clone.Target,
		Prompt:         prompt,
		AgentID:        clone.AgentID,
		Workspace:      clone.WorkspacePath,
		SourceFile:     clone.SourceFile,
		SourceLine:     clone.SourceLine,
		ForceWorktree:  clone.ForceWorktree,
		PermissionMode: clone.PermissionMode,
	})

	m.mu.Lock()
	n := m.jobs[next.ID]
	n.WorktreePath = clone.WorktreePath
	n.BranchName = clone.BranchName
	n.BaseBranch = clone.BaseBranch
	n.BaseRevision = clone.BaseRevision
	n.BridgeSessionID = clone.BridgeSessionID
	m.bump()
	out := n.Clone()
	m.mu.Unlock()

	return out, nil
}

// SetWorktree records worktree location metadata (called once the Worktree
// Manager has created the checkout for a dispatched job).
func (m *Manager) SetWorktree(id ID, path, branch, baseBranch, baseRevision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	j.WorktreePath = path
	j.BranchName = branch
	j.BaseBranch = baseBranch
	j.BaseRevision = baseRevision
	m.bump()
	return nil
}

// AppendLogEvent appends a bounded log entry to a job (invariant I5).
func (m *Manager) AppendLogEvent(id ID, e LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	j.AppendLogEvent(e)
	m.bump()
	return nil
}

// SetBridgeSessionID sets a job's bridge session id on first sight only
// (invariant I6).
func (m *Manager) SetBridgeSessionID(id ID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	j.SetBridgeSessionID(sessionID)
	m.bump()
	return nil
}

// AppendChainStep records a chain step's outcome in the job's history and
// advances its current-step bookkeeping.
func (m *Manager) AppendChainStep(id ID, step ChainStepSummary, totalSteps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %d: %w", id, kerrors.ErrNotFound)
	}
	j.ChainStepHistory = append(j.ChainStepHistory, step)
	idx := step.StepIndex
	j.ChainStepIndex = &idx
	j.ChainTotalSteps = totalSteps
	m.bump()
	return nil
}
