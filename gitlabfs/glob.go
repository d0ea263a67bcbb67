package gitlabfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// Glob expands pattern against the repository tree and returns the
// matching in-repository paths, sorted. The pattern is either a bare
// pattern or a full gitlab:// address whose inner path is the pattern;
// doublestar syntax is supported (*, **, ?, character classes and
// alternation). Expansion is built entirely from directory enumeration
// through the tree cache — no remote search call — so the result is
// deterministic and independent of invocation order.
func (fs *FileSystem) Glob(ctx context.Context, pattern string) ([]string, error) {
	addr, rref, err := fs.resolve(ctx, pattern)
	if err != nil {
		return nil, err
	}
	pat := addr.InnerPath
	if pat == "" {
		return nil, nil
	}
	if !doublestar.ValidatePattern(pat) {
		return nil, fmt.Errorf("glob %q: %w", pattern, doublestar.ErrBadPattern)
	}

	var (
		mu      sync.Mutex
		matches []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.workers)

	// walk lists one directory, records matches, and descends into
	// subdirectories that can still contribute to the pattern. Child
	// walks run on the group when a worker slot is free and inline
	// otherwise, so the bounded group can never deadlock on itself.
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := fs.trees.list(ctx, rref, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			ok, err := doublestar.Match(pat, e.Path)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				matches = append(matches, e.Path)
				mu.Unlock()
			}
			if e.Kind == KindDirectory && canDescend(e.Path, pat) {
				sub := e.Path
				if !g.TryGo(func() error { return walk(sub) }) {
					if err := walk(sub); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	g.Go(func() error { return walk("") })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// canDescend reports whether entries below dir can still match the
// pattern. A ** matches any depth; otherwise the pattern's segment
// count bounds how deep matches can live.
func canDescend(dir, pattern string) bool {
	if strings.Contains(pattern, "**") {
		return true
	}
	return len(strings.Split(dir, "/")) < len(strings.Split(pattern, "/"))
}
