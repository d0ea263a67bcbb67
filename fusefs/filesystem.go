// Package fusefs mounts a gitlabfs.FileSystem as a read-only FUSE
// filesystem, so a remote repository at a fixed ref can be browsed with
// ordinary file tools.
package fusefs

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"

	"github.com/gchaperon/gitlab-fsspec/gitlabfs"
)

// Kernel cache timeout for entry and attr caching. Repository content
// at a fixed ref never changes, so everything gets the long tier.
const cacheTTLImmutable = 1 * time.Hour

// Root is the root inode of the mounted repository.
type Root struct {
	fs.Inode
	gfs       *gitlabfs.FileSystem
	log       *zap.Logger
	startTime time.Time
}

// NewRoot creates the root node over an existing filesystem facade.
func NewRoot(gfs *gitlabfs.FileSystem, log *zap.Logger) *Root {
	if log == nil {
		log = zap.NewNop()
	}
	return &Root{gfs: gfs, log: log, startTime: time.Now()}
}

var _ = (fs.NodeLookuper)((*Root)(nil))
var _ = (fs.NodeReaddirer)((*Root)(nil))
var _ = (fs.NodeGetattrer)((*Root)(nil))

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return lookup(ctx, &r.Inode, r.gfs, r.log, r.startTime, "", name, out)
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return readdir(ctx, r.gfs, "")
}

func (r *Root) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	setTimestamps(&out.Attr, r.startTime)
	out.SetTimeout(cacheTTLImmutable)
	return 0
}

// dirNode is a repository directory below the root.
type dirNode struct {
	fs.Inode
	gfs       *gitlabfs.FileSystem
	log       *zap.Logger
	path      string
	startTime time.Time
}

var _ = (fs.NodeLookuper)((*dirNode)(nil))
var _ = (fs.NodeReaddirer)((*dirNode)(nil))
var _ = (fs.NodeGetattrer)((*dirNode)(nil))

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return lookup(ctx, &d.Inode, d.gfs, d.log, d.startTime, d.path, name, out)
}

func (d *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return readdir(ctx, d.gfs, d.path)
}

func (d *dirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	setTimestamps(&out.Attr, d.startTime)
	out.SetTimeout(cacheTTLImmutable)
	return 0
}

// lookup resolves one child name through a directory listing, shared by
// the root and every directory node.
func lookup(ctx context.Context, parent *fs.Inode, gfs *gitlabfs.FileSystem, log *zap.Logger, startTime time.Time, dir, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := name
	if dir != "" {
		child = dir + "/" + name
	}
	entries, err := gfs.Ls(ctx, dir, false)
	if err != nil {
		return nil, errno(err)
	}
	for _, e := range entries {
		if e.Name != name {
			continue
		}
		out.SetEntryTimeout(cacheTTLImmutable)
		if e.Kind == gitlabfs.KindDirectory {
			node := &dirNode{gfs: gfs, log: log, path: child, startTime: startTime}
			return parent.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
		}
		node := &fileNode{gfs: gfs, log: log, path: child, startTime: startTime}
		return parent.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	return nil, syscall.ENOENT
}

func readdir(ctx context.Context, gfs *gitlabfs.FileSystem, dir string) (fs.DirStream, syscall.Errno) {
	entries, err := gfs.Ls(ctx, dir, false)
	if err != nil {
		return nil, errno(err)
	}
	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.Kind == gitlabfs.KindDirectory {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

// fileNode is a repository blob. Content is fetched once on first Open
// and kept for the node's lifetime, since the blob cannot change.
type fileNode struct {
	fs.Inode
	gfs       *gitlabfs.FileSystem
	log       *zap.Logger
	path      string
	startTime time.Time

	mu   sync.Mutex
	data []byte
	size int64
	have bool
}

var _ = (fs.NodeOpener)((*fileNode)(nil))
var _ = (fs.NodeReader)((*fileNode)(nil))
var _ = (fs.NodeGetattrer)((*fileNode)(nil))

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if err := f.load(ctx); err != 0 {
		return nil, 0, err
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if err := f.load(ctx); err != 0 {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return fuse.ReadResultData(readAt(f.data, dest, off)), 0
}

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	f.mu.Lock()
	have, size := f.have, f.size
	f.mu.Unlock()
	if !have {
		fi, err := f.gfs.Info(ctx, f.path)
		if err != nil {
			return errno(err)
		}
		size = fi.Size
		f.mu.Lock()
		f.size = size
		f.mu.Unlock()
	}
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(size)
	setTimestamps(&out.Attr, f.startTime)
	out.SetTimeout(cacheTTLImmutable)
	return 0
}

func (f *fileNode) load(ctx context.Context) syscall.Errno {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.have {
		return 0
	}
	h, err := f.gfs.Open(ctx, f.path, gitlabfs.ModeReadBinary, nil)
	if err != nil {
		return errno(err)
	}
	defer h.Close()
	data, err := io.ReadAll(h)
	if err != nil {
		f.log.Warn("blob read failed", zap.String("path", f.path), zap.Error(err))
		return syscall.EIO
	}
	f.data = data
	f.size = int64(len(data))
	f.have = true
	return 0
}

// errno translates filesystem facade errors into FUSE errnos.
func errno(err error) syscall.Errno {
	switch {
	case errors.Is(err, gitlabfs.ErrPathNotFound), errors.Is(err, gitlabfs.ErrRefNotFound):
		return syscall.ENOENT
	case errors.Is(err, gitlabfs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, gitlabfs.ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, gitlabfs.ErrReadOnly):
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}

func setTimestamps(attr *fuse.Attr, t time.Time) {
	sec := uint64(t.Unix())
	nsec := uint32(t.Nanosecond())
	attr.Atime = sec
	attr.Atimensec = nsec
	attr.Mtime = sec
	attr.Mtimensec = nsec
	attr.Ctime = sec
	attr.Ctimensec = nsec
}

func readAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return []byte{}
	}
	end := int64(len(data))
	if int64(len(dest)) < end-off {
		end = off + int64(len(dest))
	}
	return data[off:end]
}

// Mount mounts the filesystem at mountpoint and returns the running
// server. Callers unmount via the returned server.
func Mount(mountpoint string, gfs *gitlabfs.FileSystem, log *zap.Logger, debug bool) (*fuse.Server, error) {
	opts := &fs.Options{}
	opts.Debug = debug
	entryTimeout := cacheTTLImmutable
	attrTimeout := cacheTTLImmutable
	opts.EntryTimeout = &entryTimeout
	opts.AttrTimeout = &attrTimeout
	opts.MountOptions.Name = "gitlabfs"
	opts.MountOptions.FsName = gfs.FSID()
	return fs.Mount(mountpoint, NewRoot(gfs, log), opts)
}
