package gitlabfs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
)

// ResolvedRef pins an address to the concrete ref to query: either the
// ref the caller named, or the project's default branch.
type ResolvedRef struct {
	ProjectPath string
	Ref         string
}

// refResolver resolves absent refs to the project default branch. The
// lookup result is cached per project path for the lifetime of the
// filesystem instance; explicit refs pass through untouched, their
// existence verified by the first remote call that uses them.
//
// Uses singleflight so concurrent resolutions of the same uncached
// project issue at most one remote lookup, without holding locks during
// HTTP calls.
type refResolver struct {
	api gitlab.API
	log *zap.Logger

	mu       sync.RWMutex
	defaults map[string]string // project path -> default branch
	sf       singleflight.Group
}

func newRefResolver(api gitlab.API, log *zap.Logger) *refResolver {
	return &refResolver{
		api:      api,
		log:      log,
		defaults: make(map[string]string),
	}
}

// resolve returns the concrete ref for (projectPath, ref). A non-empty
// ref is returned as-is; an empty ref resolves to the project's default
// branch, fetched once per project per instance.
func (r *refResolver) resolve(ctx context.Context, projectPath, ref string) (ResolvedRef, error) {
	if ref != "" {
		return ResolvedRef{ProjectPath: projectPath, Ref: ref}, nil
	}

	// Fast path: check cache with read lock
	r.mu.RLock()
	branch, ok := r.defaults[projectPath]
	r.mu.RUnlock()
	if ok {
		return ResolvedRef{ProjectPath: projectPath, Ref: branch}, nil
	}

	// Slow path: coalesce concurrent lookups of the same project
	result, err, _ := r.sf.Do(projectPath, func() (interface{}, error) {
		project, err := r.api.GetProject(ctx, projectPath)
		if err != nil {
			if gitlab.IsNotFound(err) {
				return nil, fmt.Errorf("project %s: %w", projectPath, ErrPathNotFound)
			}
			return nil, err
		}
		if project.DefaultBranch == "" {
			return nil, fmt.Errorf("project %s has no default branch: %w", projectPath, ErrRefNotFound)
		}

		r.mu.Lock()
		r.defaults[projectPath] = project.DefaultBranch
		r.mu.Unlock()

		r.log.Debug("resolved default branch",
			zap.String("project", projectPath),
			zap.String("branch", project.DefaultBranch))
		return project.DefaultBranch, nil
	})
	if err != nil {
		return ResolvedRef{}, err
	}
	return ResolvedRef{ProjectPath: projectPath, Ref: result.(string)}, nil
}
