package gitlab

import (
	"context"
	"io"
)

// API is the contract the filesystem layer depends on. Client implements
// it against a real GitLab instance; tests may substitute fakes.
type API interface {
	// GetProject resolves a project by namespace path, yielding its
	// default branch among other metadata.
	GetProject(ctx context.Context, projectPath string) (Project, error)

	// ListTree fetches one page of a directory listing at a ref.
	ListTree(ctx context.Context, projectPath, ref, dirPath, page string) (TreePage, error)

	// GetFileMetadata fetches authoritative metadata for one file.
	GetFileMetadata(ctx context.Context, projectPath, ref, filePath string) (FileMetadata, error)

	// ReadRawFile opens a file's raw content, optionally byte-ranged.
	ReadRawFile(ctx context.Context, projectPath, ref, filePath string, br *ByteRange) (io.ReadCloser, RawFileInfo, error)
}

// Verify that Client implements API at compile time.
var _ API = (*Client)(nil)
