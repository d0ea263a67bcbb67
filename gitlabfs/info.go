package gitlabfs

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
)

// FileInfo describes a file or directory at a resolved address. Size is
// authoritative for files (it comes from a dedicated metadata lookup,
// not the tree listing) and zero for directories.
type FileInfo struct {
	Path          string
	Kind          EntryKind
	Size          int64
	BlobID        string
	ContentSHA256 string
	LastCommitID  string
}

// IsDir reports whether the info describes a directory.
func (fi FileInfo) IsDir() bool {
	return fi.Kind == KindDirectory
}

// metadataResolver determines whether a path denotes a file or a
// directory and produces filesystem metadata for it. Directory
// membership comes from the (cheap, size-incomplete) tree cache; file
// sizes come from a per-file metadata lookup, deferred until a specific
// file's size is actually needed because issuing it for every entry of
// a large directory would be far more expensive.
type metadataResolver struct {
	api   gitlab.API
	trees *treeCache
}

func newMetadataResolver(api gitlab.API, trees *treeCache) *metadataResolver {
	return &metadataResolver{api: api, trees: trees}
}

// info resolves innerPath at rref. The repository root is always a
// directory; everything else is classified by its parent listing.
func (m *metadataResolver) info(ctx context.Context, rref ResolvedRef, innerPath string) (FileInfo, error) {
	if innerPath == "" {
		return FileInfo{Path: "", Kind: KindDirectory}, nil
	}

	parent := path.Dir(innerPath)
	if parent == "." {
		parent = ""
	}
	siblings, err := m.trees.list(ctx, rref, parent)
	if err != nil {
		// A file in place of the parent directory means the child
		// cannot exist.
		if errors.Is(err, ErrNotADirectory) {
			return FileInfo{}, fmt.Errorf("%s: %w", innerPath, ErrPathNotFound)
		}
		return FileInfo{}, err
	}

	base := path.Base(innerPath)
	for _, e := range siblings {
		if e.Name != base {
			continue
		}
		if e.Kind == KindDirectory {
			return FileInfo{Path: innerPath, Kind: KindDirectory}, nil
		}
		meta, err := m.api.GetFileMetadata(ctx, rref.ProjectPath, rref.Ref, innerPath)
		if err != nil {
			if gitlab.IsNotFound(err) {
				return FileInfo{}, fmt.Errorf("%s: %w", innerPath, ErrPathNotFound)
			}
			return FileInfo{}, err
		}
		return FileInfo{
			Path:          innerPath,
			Kind:          KindFile,
			Size:          meta.Size,
			BlobID:        meta.BlobID,
			ContentSHA256: meta.ContentSHA256,
			LastCommitID:  meta.LastCommitID,
		}, nil
	}
	return FileInfo{}, fmt.Errorf("%s: %w", innerPath, ErrPathNotFound)
}
