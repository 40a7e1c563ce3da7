// Package graph maintains the job dependency DAG, answers executability
// questions against the latest parent executions, and dispatches children when
// a parent completes.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const moduleName = "graph"

// Unmet dependency reasons.
const (
	ReasonNeverExecuted = "never executed"
	ReasonLastFailed    = "last execution failed"
	ReasonNoData        = "last execution produced no data"
)

// handledCapacity bounds the (job, execution) pairs remembered for idempotent dispatch.
const handledCapacity = 4096

// Repository is the subset of the store the graph reads and writes.
type Repository interface {
	repository.JobRepository
	repository.ExecutionRepository
}

// Dispatcher submits a child job. triggeredBy is the parent execution id.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID, triggeredBy string) (string, error)
}

// UnmetDependency explains why one incoming edge is not satisfied.
type UnmetDependency struct {
	Dependency   *model.JobDependency   `json:"dependency"`
	ParentJobID  string                 `json:"parent_job_id"`
	Kind         model.DependencyKind   `json:"kind"`
	Reason       string                 `json:"reason"`
	LatestStatus *model.ExecutionStatus `json:"latest_status,omitempty"`
}

// node is an arena slot. in/out hold indexes into Graph.edges.
type node struct {
	jobID string
	in    []int
	out   []int
}

// Graph is the in-process view of active dependency edges, backed by the store.
type Graph struct {
	repo       Repository
	dispatcher Dispatcher

	mu    sync.RWMutex
	nodes []node
	index map[string]int
	edges []*model.JobDependency // nil slots are removed edges

	dispatchMu sync.Mutex
	handled    *lru.Cache[string, struct{}]
}

// New creates an empty graph. Call Load to populate it from the store.
func New(repo Repository) *Graph {
	handled, _ := lru.New[string, struct{}](handledCapacity)
	return &Graph{
		repo:    repo,
		index:   make(map[string]int),
		handled: handled,
	}
}

// SetDispatcher wires the dispatcher used by OnJobCompleted. The scheduler needs
// the graph as its completion listener, so the two are wired after construction.
func (g *Graph) SetDispatcher(d Dispatcher) {
	g.dispatchMu.Lock()
	g.dispatcher = d
	g.dispatchMu.Unlock()
}

// Load rebuilds the arena from the active edges in the store.
func (g *Graph) Load(ctx context.Context) error {
	deps, err := g.repo.ListDependencies(ctx, true)
	if err != nil {
		return exception.New(exception.ConfigError, moduleName, "failed to load dependencies", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.index = make(map[string]int)
	g.edges = nil
	for _, d := range deps {
		g.insertLocked(d)
	}
	logger.Infof("Dependency graph loaded: %d edges over %d jobs.", len(deps), len(g.nodes))
	return nil
}

func (g *Graph) nodeLocked(jobID string) int {
	if i, ok := g.index[jobID]; ok {
		return i
	}
	g.nodes = append(g.nodes, node{jobID: jobID})
	g.index[jobID] = len(g.nodes) - 1
	return len(g.nodes) - 1
}

func (g *Graph) insertLocked(d *model.JobDependency) {
	p := g.nodeLocked(d.ParentJobID)
	c := g.nodeLocked(d.ChildJobID)
	g.edges = append(g.edges, d)
	e := len(g.edges) - 1
	g.nodes[p].out = append(g.nodes[p].out, e)
	g.nodes[c].in = append(g.nodes[c].in, e)
}

// reachesLocked reports whether to is reachable from from along child edges.
// The walk is iterative and visits each node at most once.
func (g *Graph) reachesLocked(from, to string) bool {
	start, ok := g.index[from]
	if !ok {
		return false
	}
	target, ok := g.index[to]
	if !ok {
		return false
	}
	visited := make([]bool, len(g.nodes))
	stack := []int{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		for _, e := range g.nodes[n].out {
			if edge := g.edges[e]; edge != nil {
				stack = append(stack, g.index[edge.ChildJobID])
			}
		}
	}
	return false
}

// AddDependency inserts parent -> child. The graph and the store are unchanged
// when it fails: unknown jobs give a NotFoundError, an edge that would close a
// cycle (including a self edge) gives a CycleError, and a second active edge
// between the same pair gives a ConfigError.
func (g *Graph) AddDependency(ctx context.Context, parentID, childID string, kind model.DependencyKind, description string) (*model.JobDependency, error) {
	if !kind.IsValid() {
		return nil, exception.Newf(exception.ConfigError, moduleName, "unknown dependency kind %q", kind)
	}
	if parentID == childID {
		return nil, exception.Newf(exception.CycleError, moduleName, "job %s cannot depend on itself", parentID)
	}
	for _, id := range []string{parentID, childID} {
		if _, err := g.repo.FindJobByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrJobNotFound) {
				return nil, exception.Newf(exception.NotFoundError, moduleName, "job %s not found", id)
			}
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if i, ok := g.index[childID]; ok {
		for _, e := range g.nodes[i].in {
			if edge := g.edges[e]; edge != nil && edge.ParentJobID == parentID {
				return nil, exception.Newf(exception.ConfigError, moduleName,
					"dependency %s -> %s already exists (%s)", parentID, childID, edge.ID)
			}
		}
	}
	if g.reachesLocked(childID, parentID) {
		return nil, exception.Newf(exception.CycleError, moduleName,
			"dependency %s -> %s would create a cycle", parentID, childID)
	}

	dep := model.NewJobDependency(parentID, childID, kind)
	dep.Description = description
	if err := g.repo.SaveDependency(ctx, dep); err != nil {
		return nil, err
	}
	g.insertLocked(dep)
	logger.Infof("Dependency added: %s -> %s (%s).", parentID, childID, kind)
	c := *dep
	return &c, nil
}

// RemoveDependency deactivates an edge. The edge stays in the store for audit.
func (g *Graph) RemoveDependency(ctx context.Context, dependencyID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot := -1
	for i, e := range g.edges {
		if e != nil && e.ID == dependencyID {
			slot = i
			break
		}
	}
	if slot < 0 {
		return exception.Newf(exception.NotFoundError, moduleName, "active dependency %s not found", dependencyID)
	}
	dep := *g.edges[slot]
	dep.Active = false
	if err := g.repo.SaveDependency(ctx, &dep); err != nil {
		return err
	}
	g.edges[slot] = nil
	logger.Infof("Dependency removed: %s -> %s.", dep.ParentJobID, dep.ChildJobID)
	return nil
}

// incoming returns copies of the active edges into jobID in insertion order.
func (g *Graph) incoming(jobID string) []*model.JobDependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[jobID]
	if !ok {
		return nil
	}
	var out []*model.JobDependency
	for _, e := range g.nodes[i].in {
		if edge := g.edges[e]; edge != nil {
			c := *edge
			out = append(out, &c)
		}
	}
	return out
}

// children returns the distinct child job ids of jobID in insertion order.
func (g *Graph) children(jobID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[jobID]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range g.nodes[i].out {
		if edge := g.edges[e]; edge != nil && !seen[edge.ChildJobID] {
			seen[edge.ChildJobID] = true
			out = append(out, edge.ChildJobID)
		}
	}
	return out
}

// UnmetDependencies lists the incoming edges of jobID that are not satisfied,
// in edge insertion order.
func (g *Graph) UnmetDependencies(ctx context.Context, jobID string) ([]UnmetDependency, error) {
	if _, err := g.repo.FindJobByID(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, exception.Newf(exception.NotFoundError, moduleName, "job %s not found", jobID)
		}
		return nil, err
	}
	var unmet []UnmetDependency
	for _, dep := range g.incoming(jobID) {
		latest, err := g.repo.FindLatestExecution(ctx, dep.ParentJobID)
		if err != nil && !errors.Is(err, repository.ErrExecutionNotFound) {
			return nil, err
		}
		reason := evaluate(dep.Kind, latest)
		if reason == "" {
			continue
		}
		u := UnmetDependency{Dependency: dep, ParentJobID: dep.ParentJobID, Kind: dep.Kind, Reason: reason}
		if latest != nil {
			s := latest.Status
			u.LatestStatus = &s
		}
		unmet = append(unmet, u)
	}
	return unmet, nil
}

// evaluate returns "" when the edge is satisfied by latest, else the reason.
func evaluate(kind model.DependencyKind, latest *model.JobExecution) string {
	if latest == nil || !latest.Status.IsTerminal() {
		return ReasonNeverExecuted
	}
	switch kind {
	case model.DependencyCompletion:
		return ""
	case model.DependencySuccess:
		if latest.Status == model.StatusSuccess {
			return ""
		}
		return ReasonLastFailed
	case model.DependencyDataAvailability:
		if latest.Status != model.StatusSuccess {
			return ReasonLastFailed
		}
		if latest.Counters.Loaded == 0 {
			return ReasonNoData
		}
		return ""
	}
	return fmt.Sprintf("unknown dependency kind %s", kind)
}

// IsExecutable reports whether jobID is enabled and every incoming edge is satisfied.
func (g *Graph) IsExecutable(ctx context.Context, jobID string) (bool, error) {
	job, err := g.repo.FindJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return false, exception.Newf(exception.NotFoundError, moduleName, "job %s not found", jobID)
		}
		return false, err
	}
	if !job.Enabled {
		return false, nil
	}
	unmet, err := g.UnmetDependencies(ctx, jobID)
	if err != nil {
		return false, err
	}
	return len(unmet) == 0, nil
}

// ExecutableJobs returns the enabled jobs whose dependencies are all met.
func (g *Graph) ExecutableJobs(ctx context.Context) ([]*model.Job, error) {
	jobs, err := g.repo.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*model.Job
	for _, j := range jobs {
		ok, err := g.IsExecutable(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, j)
		}
	}
	return out, nil
}

// OnJobCompleted dispatches every child of jobID that became executable. It is
// idempotent per (job, execution): repeated or concurrent calls for the same pair
// dispatch at most once, and a child that already has a PENDING or RUNNING
// execution is never dispatched again. A pair is marked handled only once every
// child was evaluated without error, so a failed dispatch can be retried.
func (g *Graph) OnJobCompleted(ctx context.Context, jobID, executionID string) error {
	g.dispatchMu.Lock()
	defer g.dispatchMu.Unlock()

	key := jobID + "/" + executionID
	if g.handled.Contains(key) {
		logger.Debugf("Completion of %s already handled; skipping.", key)
		return nil
	}
	if g.dispatcher == nil {
		logger.Warnf("No dispatcher configured; children of job %s are not triggered.", jobID)
		return nil
	}

	var result *multierror.Error
	for _, childID := range g.children(jobID) {
		ok, err := g.IsExecutable(ctx, childID)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if !ok {
			logger.Debugf("Child job %s of %s is not executable yet.", childID, jobID)
			continue
		}
		active, err := g.repo.FindActiveExecutions(ctx, childID)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if len(active) > 0 {
			logger.Debugf("Child job %s already has an active execution; not dispatching.", childID)
			continue
		}
		execID, err := g.dispatcher.Dispatch(ctx, childID, executionID)
		if err != nil {
			logger.Errorf("Failed to dispatch child job %s of %s: %v", childID, jobID, err)
			result = multierror.Append(result, err)
			continue
		}
		logger.Infof("Dispatched child job %s (execution %s) after %s.", childID, execID, key)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	g.handled.Add(key, struct{}{})
	return nil
}
