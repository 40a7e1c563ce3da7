package graph

import (
	"context"
	"errors"

	model "github.com/tigerroll/etlcore/pkg/etl/core/domain/model"
	repository "github.com/tigerroll/etlcore/pkg/etl/core/domain/repository"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
)

// DefaultTreeDepth is used when DependencyTree is called with maxDepth <= 0.
const DefaultTreeDepth = 10

// TreeNode is one job in an ancestor tree. Parents hang off the edge that links
// them to this node.
type TreeNode struct {
	JobID       string               `json:"job_id"`
	JobName     string               `json:"job_name,omitempty"`
	JobType     model.JobType        `json:"job_type,omitempty"`
	Enabled     bool                 `json:"enabled"`
	Depth       int                  `json:"depth"`
	Kind        model.DependencyKind `json:"dependency_kind,omitempty"`
	Description string               `json:"description,omitempty"`
	// Truncated marks a node cut off by the depth limit or an earlier visit.
	Truncated bool        `json:"truncated,omitempty"`
	Parents   []*TreeNode `json:"parents,omitempty"`
}

// Tree is the result of DependencyTree.
type Tree struct {
	RootJobID string    `json:"root_job_id"`
	Root      *TreeNode `json:"tree"`
	// TotalJobs counts the distinct jobs expanded in the tree.
	TotalJobs int `json:"total_jobs_in_tree"`
}

// DependencyTree builds the ancestor tree of jobID. Each job is expanded at most
// once and nothing deeper than maxDepth is expanded, so it always terminates.
func (g *Graph) DependencyTree(ctx context.Context, jobID string, maxDepth int) (*Tree, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultTreeDepth
	}
	if _, err := g.repo.FindJobByID(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, exception.Newf(exception.NotFoundError, moduleName, "job %s not found", jobID)
		}
		return nil, err
	}

	visited := make(map[string]bool)
	var build func(id string, depth int) (*TreeNode, error)
	build = func(id string, depth int) (*TreeNode, error) {
		n := &TreeNode{JobID: id, Depth: depth}
		if depth > maxDepth || visited[id] {
			n.Truncated = true
			return n, nil
		}
		visited[id] = true
		job, err := g.repo.FindJobByID(ctx, id)
		if err != nil {
			return nil, err
		}
		n.JobName, n.JobType, n.Enabled = job.Name, job.Type, job.Enabled
		for _, dep := range g.incoming(id) {
			p, err := build(dep.ParentJobID, depth+1)
			if err != nil {
				return nil, err
			}
			p.Kind, p.Description = dep.Kind, dep.Description
			n.Parents = append(n.Parents, p)
		}
		return n, nil
	}

	root, err := build(jobID, 0)
	if err != nil {
		return nil, err
	}
	return &Tree{RootJobID: jobID, Root: root, TotalJobs: len(visited)}, nil
}
