// Package gitlabfs presents a remote GitLab repository as a read-only
// hierarchical filesystem. Callers address files and directories by
// project path, an optional ref, and an in-repository path, and get
// filesystem-style operations (listing, existence checks, metadata,
// byte-range reads) translated into GitLab REST API calls.
//
// One FileSystem instance owns one set of caches: the default-branch
// cache and the tree cache are valid for the instance's lifetime, with
// no invalidation, because repository content at a fixed ref is
// immutable. Instances with different authentication contexts must not
// share components; construct one FileSystem per context instead.
package gitlabfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
)

// defaultWorkers bounds the concurrency of remote calls issued on
// behalf of a single operation (detail listings, glob expansion).
const defaultWorkers = 8

// Config configures a FileSystem. ProjectPath is required unless the
// deprecated Org/Repo pair is given; all other fields are optional.
type Config struct {
	// ProjectPath is the namespace path of the project, of arbitrary
	// depth ("group/subgroup/project").
	ProjectPath string

	// Ref is the branch, tag, or commit to read from. Empty means the
	// project's default branch, resolved lazily on first use.
	Ref string

	// BaseURL is the GitLab instance URL, default https://gitlab.com.
	BaseURL string

	// PrivateToken, OAuthToken and JobToken authenticate remote calls.
	// When all are empty, credentials fall back to the environment per
	// the precedence documented on gitlab.Credentials.
	PrivateToken string
	OAuthToken   string
	JobToken     string

	// Timeout bounds each remote request. Zero keeps the client default.
	Timeout time.Duration

	// Workers bounds per-operation remote concurrency. Zero means 8.
	Workers int

	// Logger receives debug output. Nil disables logging.
	Logger *zap.Logger

	// Org and Repo exist for compatibility with older configurations
	// and map to ProjectPath as Org+"/"+Repo.
	//
	// Deprecated: use ProjectPath.
	Org  string
	Repo string
}

// normalize applies the Org/Repo compatibility mapping and validates
// the resulting project path.
func (cfg *Config) normalize() error {
	if cfg.ProjectPath == "" && cfg.Org != "" && cfg.Repo != "" {
		cfg.ProjectPath = cfg.Org + "/" + cfg.Repo
	} else if cfg.Org != "" && cfg.Repo != "" && cfg.ProjectPath != cfg.Org+"/"+cfg.Repo {
		return fmt.Errorf("%w: ProjectPath %q conflicts with Org/Repo %q/%q",
			ErrAmbiguousProjectPath, cfg.ProjectPath, cfg.Org, cfg.Repo)
	}
	if cfg.ProjectPath == "" {
		return fmt.Errorf("%w: either ProjectPath or both Org and Repo must be provided", ErrMalformedAddress)
	}
	if err := validateProjectPath(cfg.ProjectPath); err != nil {
		return err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return nil
}

// FileSystem is the read-only filesystem facade over one project at one
// ref. It is safe for concurrent use.
type FileSystem struct {
	api         gitlab.API
	projectPath string
	ref         string
	workers     int
	log         *zap.Logger

	refs  *refResolver
	trees *treeCache
	meta  *metadataResolver
	blobs *blobReader
}

// New creates a FileSystem backed by a real GitLab instance.
func New(cfg Config) (*FileSystem, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	opts := []gitlab.ClientOption{
		gitlab.WithCredentials(gitlab.Credentials{
			PrivateToken: cfg.PrivateToken,
			OAuthToken:   cfg.OAuthToken,
			JobToken:     cfg.JobToken,
		}),
		gitlab.WithLogger(cfg.Logger),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, gitlab.WithTimeout(cfg.Timeout))
	}
	return newFileSystem(cfg, gitlab.NewClient(cfg.BaseURL, opts...))
}

// NewWithClient creates a FileSystem over an existing API client.
// Token and BaseURL fields of cfg are ignored.
func NewWithClient(cfg Config, api gitlab.API) (*FileSystem, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return newFileSystem(cfg, api)
}

func newFileSystem(cfg Config, api gitlab.API) (*FileSystem, error) {
	fs := &FileSystem{
		api:         api,
		projectPath: cfg.ProjectPath,
		ref:         cfg.Ref,
		workers:     cfg.Workers,
		log:         cfg.Logger,
	}
	fs.refs = newRefResolver(api, fs.log)
	fs.trees = newTreeCache(api, fs.log)
	fs.meta = newMetadataResolver(api, fs.trees)
	fs.blobs = newBlobReader(api, fs.meta, fs.log)
	return fs, nil
}

// FSID returns the identity string of this filesystem instance.
func (fs *FileSystem) FSID() string {
	if fs.ref == "" {
		return Scheme + fs.projectPath
	}
	return Scheme + fs.projectPath + "@" + fs.ref
}

// resolveAddress turns an operation path into an Address using the
// instance's bound project path and ref as defaults. The path is either
// a bare in-repository path or a full gitlab:// address; an embedded
// project path must match the bound one.
func (fs *FileSystem) resolveAddress(p string) (Address, error) {
	if !strings.HasPrefix(p, Scheme) {
		inner, err := cleanInnerPath(p)
		if err != nil {
			return Address{}, err
		}
		return Address{ProjectPath: fs.projectPath, Ref: fs.ref, InnerPath: inner}, nil
	}

	addr, err := ParseAddress(p)
	if err != nil {
		return Address{}, err
	}
	if addr.ProjectPath != fs.projectPath {
		// The delimiter-free form cannot mark the project/inner
		// boundary itself; reinterpret it against the bound project.
		if addr.Ref == "" && addr.InnerPath == "" && strings.HasPrefix(addr.ProjectPath, fs.projectPath+"/") {
			addr.InnerPath = strings.TrimPrefix(addr.ProjectPath, fs.projectPath+"/")
			addr.ProjectPath = fs.projectPath
		} else {
			return Address{}, fmt.Errorf("%w: address names %q but filesystem is bound to %q",
				ErrAmbiguousProjectPath, addr.ProjectPath, fs.projectPath)
		}
	}
	if addr.Ref == "" {
		addr.Ref = fs.ref
	}
	return addr, nil
}

// resolve parses p and pins it to a concrete ref.
func (fs *FileSystem) resolve(ctx context.Context, p string) (Address, ResolvedRef, error) {
	addr, err := fs.resolveAddress(p)
	if err != nil {
		return Address{}, ResolvedRef{}, err
	}
	rref, err := fs.refs.resolve(ctx, addr.ProjectPath, addr.Ref)
	if err != nil {
		return Address{}, ResolvedRef{}, err
	}
	return addr, rref, nil
}

// Ls lists the entries at p in the stable order reported by the remote.
// Listing a file path returns that single file's entry, mirroring the
// behavior of POSIX ls. With detail, file sizes are filled in from
// authoritative per-file metadata, fetched concurrently under the
// worker bound; without it sizes are zero, since tree listings do not
// carry sizes.
func (fs *FileSystem) Ls(ctx context.Context, p string, detail bool) ([]DirEntry, error) {
	addr, rref, err := fs.resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	cached, err := fs.trees.list(ctx, rref, addr.InnerPath)
	if errors.Is(err, ErrNotADirectory) {
		fi, err := fs.meta.info(ctx, rref, addr.InnerPath)
		if err != nil {
			return nil, err
		}
		return []DirEntry{{
			Name:   path.Base(fi.Path),
			Path:   fi.Path,
			Kind:   fi.Kind,
			Size:   fi.Size,
			BlobID: fi.BlobID,
		}}, nil
	}
	if err != nil {
		return nil, err
	}

	// The cache owns its slices; hand callers a copy.
	entries := make([]DirEntry, len(cached))
	copy(entries, cached)
	if !detail {
		return entries, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fs.workers)
	for i := range entries {
		if entries[i].Kind != KindFile {
			continue
		}
		i := i
		g.Go(func() error {
			meta, err := fs.api.GetFileMetadata(ctx, rref.ProjectPath, rref.Ref, entries[i].Path)
			if err != nil {
				return err
			}
			entries[i].Size = meta.Size
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// EntryNames extracts the in-repository paths from a listing.
func EntryNames(entries []DirEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Path
	}
	return names
}

// Info returns metadata for the file or directory at p. File sizes are
// authoritative.
func (fs *FileSystem) Info(ctx context.Context, p string) (FileInfo, error) {
	addr, rref, err := fs.resolve(ctx, p)
	if err != nil {
		return FileInfo{}, err
	}
	return fs.meta.info(ctx, rref, addr.InnerPath)
}

// Exists reports whether anything exists at p.
func (fs *FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	_, err := fs.Info(ctx, p)
	if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrNotADirectory) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsFile reports whether p denotes a file.
func (fs *FileSystem) IsFile(ctx context.Context, p string) (bool, error) {
	fi, err := fs.Info(ctx, p)
	if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrNotADirectory) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Kind == KindFile, nil
}

// IsDir reports whether p denotes a directory.
func (fs *FileSystem) IsDir(ctx context.Context, p string) (bool, error) {
	fi, err := fs.Info(ctx, p)
	if errors.Is(err, ErrPathNotFound) || errors.Is(err, ErrNotADirectory) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Kind == KindDirectory, nil
}

// Read modes accepted by Open. Text mode reads the same bytes; the
// distinction exists for callers porting fsspec-style code.
const (
	ModeRead       = "r"
	ModeReadBinary = "rb"
	ModeReadText   = "rt"
)

// Open opens the file at p for reading. A non-nil byte range restricts
// the handle to that window, clamped to the file size. Any mode other
// than a read mode fails immediately with ErrReadOnly, before any
// remote call: this is a read-only filesystem by design.
func (fs *FileSystem) Open(ctx context.Context, p, mode string, br *ByteRange) (*File, error) {
	switch mode {
	case "", ModeRead, ModeReadBinary, ModeReadText:
	default:
		return nil, fmt.Errorf("mode %q: %w", mode, ErrReadOnly)
	}
	addr, rref, err := fs.resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	return fs.blobs.open(ctx, rref, addr.InnerPath, br)
}
