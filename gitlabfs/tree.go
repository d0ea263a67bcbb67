package gitlabfs

import (
	"context"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
)

// EntryKind distinguishes files from directories in listings.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// DirEntry is one entry of a directory listing. Size is authoritative
// only after a dedicated metadata lookup; tree listings do not carry
// sizes, so entries fresh from the cache report 0.
type DirEntry struct {
	Name   string
	Path   string
	Kind   EntryKind
	Size   int64
	BlobID string
	Mode   string
}

// cacheKey identifies one directory listing at a fixed ref.
type cacheKey struct {
	project string
	ref     string
	dir     string
}

func (k cacheKey) String() string {
	return k.project + "\x00" + k.ref + "\x00" + k.dir
}

// treeCache maps (project, ref, directory) to the complete ordered
// entry list returned by the remote tree endpoint. Entries are cached
// for the lifetime of the filesystem instance with no invalidation:
// repository content at a fixed ref is immutable, so a populated key
// never goes stale. Only fully drained listings are cached, never a
// partial page, and never on a failed path.
//
// Uses singleflight so concurrent listings of the same uncached key
// issue at most one remote drain.
type treeCache struct {
	api gitlab.API
	log *zap.Logger

	mu      sync.RWMutex
	entries map[cacheKey][]DirEntry
	sf      singleflight.Group
}

func newTreeCache(api gitlab.API, log *zap.Logger) *treeCache {
	return &treeCache{
		api:     api,
		log:     log,
		entries: make(map[cacheKey][]DirEntry),
	}
}

// list returns the direct entries of dir at rref, in the order the
// remote API reports them (not re-sorted; callers may rely on stable
// enumeration across repeated calls). Fails with ErrPathNotFound when
// the directory does not exist, ErrNotADirectory when dir is a file,
// and ErrRefNotFound when the ref itself is absent.
func (t *treeCache) list(ctx context.Context, rref ResolvedRef, dir string) ([]DirEntry, error) {
	key := cacheKey{project: rref.ProjectPath, ref: rref.Ref, dir: dir}

	// Fast path: check cache with read lock
	t.mu.RLock()
	cached, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		t.log.Debug("tree cache hit", zap.String("dir", dir))
		return cached, nil
	}

	// Slow path: coalesce concurrent drains of the same key
	result, err, _ := t.sf.Do(key.String(), func() (interface{}, error) {
		entries, err := t.drain(ctx, rref, dir)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 && dir != "" {
			// The tree endpoint reports an empty list both for file
			// paths and (on some instances) unknown paths. Consult the
			// parent listing to tell the cases apart before caching.
			if err := t.classifyEmpty(ctx, rref, dir); err != nil {
				return nil, err
			}
		}

		t.mu.Lock()
		t.entries[key] = entries
		t.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]DirEntry), nil
}

// drain fetches every page of the listing before returning. Pagination
// cursors never escape this method.
func (t *treeCache) drain(ctx context.Context, rref ResolvedRef, dir string) ([]DirEntry, error) {
	var entries []DirEntry
	page := ""
	for {
		tp, err := t.api.ListTree(ctx, rref.ProjectPath, rref.Ref, dir, page)
		if err != nil {
			if gitlab.IsNotFound(err) {
				if dir == "" {
					// The root always exists at a valid ref, so a 404
					// here means the ref itself is absent.
					return nil, fmt.Errorf("ref %s: %w", rref.Ref, ErrRefNotFound)
				}
				return nil, fmt.Errorf("%s: %w", dir, ErrPathNotFound)
			}
			return nil, err
		}
		for _, item := range tp.Items {
			kind := KindFile
			if item.Type == "tree" {
				kind = KindDirectory
			}
			entries = append(entries, DirEntry{
				Name:   item.Name,
				Path:   item.Path,
				Kind:   kind,
				BlobID: item.ID,
				Mode:   item.Mode,
			})
		}
		if tp.NextPage == "" {
			break
		}
		page = tp.NextPage
	}
	t.log.Debug("tree listing drained",
		zap.String("project", rref.ProjectPath),
		zap.String("ref", rref.Ref),
		zap.String("dir", dir),
		zap.Int("entries", len(entries)))
	return entries, nil
}

// classifyEmpty decides what an empty listing at a non-root path means
// by checking the parent directory: an entry of kind file means the
// path is a blob (ErrNotADirectory), a directory entry means a
// genuinely empty directory (nil), anything else ErrPathNotFound.
func (t *treeCache) classifyEmpty(ctx context.Context, rref ResolvedRef, dir string) error {
	parent := path.Dir(dir)
	if parent == "." {
		parent = ""
	}
	siblings, err := t.list(ctx, rref, parent)
	if err != nil {
		return err
	}
	base := path.Base(dir)
	for _, e := range siblings {
		if e.Name == base {
			if e.Kind == KindFile {
				return fmt.Errorf("%s: %w", dir, ErrNotADirectory)
			}
			return nil
		}
	}
	return fmt.Errorf("%s: %w", dir, ErrPathNotFound)
}
