package gitlabfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
)

// ByteRange selects a window of a blob: Length bytes starting at
// Offset. The window is clamped to the blob, never an error: a range
// extending past end-of-file is truncated to the remaining bytes.
type ByteRange struct {
	Offset int64
	Length int64
}

// blobReader opens repository blobs for reading. Existence and
// file-ness are checked through the metadata resolver before any
// content is transferred.
type blobReader struct {
	api  gitlab.API
	meta *metadataResolver
	log  *zap.Logger
}

func newBlobReader(api gitlab.API, meta *metadataResolver, log *zap.Logger) *blobReader {
	return &blobReader{api: api, meta: meta, log: log}
}

// open prepares a read handle on the blob at innerPath, restricted to
// br when non-nil. No content is fetched until the first Read.
func (b *blobReader) open(ctx context.Context, rref ResolvedRef, innerPath string, br *ByteRange) (*File, error) {
	fi, err := b.meta.info(ctx, rref, innerPath)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s: %w", innerPath, ErrIsADirectory)
	}

	start, length := int64(0), fi.Size
	if br != nil {
		start = min(max(br.Offset, 0), fi.Size)
		length = min(max(br.Length, 0), fi.Size-start)
	}
	return &File{
		api:      b.api,
		ctx:      ctx,
		log:      b.log,
		rref:     rref,
		path:     innerPath,
		start:    start,
		size:     length,
		blobSize: fi.Size,
	}, nil
}

// File is a read-only handle on a repository blob, possibly restricted
// to a byte window. It implements io.ReadSeekCloser.
//
// Reads are stateless with respect to the remote: each underlying fetch
// lasts only as long as the bytes it delivers, and a Seek discards any
// in-flight stream so the next Read issues a fresh ranged request. When
// the server does not honor range requests the whole blob is fetched
// once and the window served from memory. Externally the handle always
// behaves as one contiguous byte stream with no gaps or duplication.
//
// The context passed to Open governs every subsequent fetch; closing
// the handle releases any in-progress transfer.
type File struct {
	api  gitlab.API
	ctx  context.Context
	log  *zap.Logger
	rref ResolvedRef
	path string

	start    int64 // absolute blob offset of the window start
	size     int64 // window length in bytes
	blobSize int64 // total blob size

	mu     sync.Mutex
	offset int64 // window-relative read position
	rc     io.ReadCloser
	buf    []byte // entire blob, populated only on range fallback
	closed bool
}

// Path returns the in-repository path of the blob.
func (f *File) Path() string { return f.path }

// Size returns the number of bytes readable through this handle (the
// window length, not necessarily the blob size).
func (f *File) Size() int64 { return f.size }

func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}
	if f.offset >= f.size {
		return 0, io.EOF
	}
	if remaining := f.size - f.offset; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	if f.buf != nil {
		return f.readBuffered(p)
	}
	if f.rc == nil {
		if err := f.fetch(); err != nil {
			return 0, err
		}
		if f.buf != nil {
			return f.readBuffered(p)
		}
	}

	n, err := f.rc.Read(p)
	f.offset += int64(n)
	if err == io.EOF {
		f.rc.Close()
		f.rc = nil
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

// fetch issues a ranged request for the unread remainder of the window.
// Servers that ignore the Range header return the full blob, which is
// buffered once and sliced locally from then on.
func (f *File) fetch() error {
	abs := f.start + f.offset
	rng := gitlab.ByteRange{Start: abs, End: f.start + f.size - 1}
	rc, info, err := f.api.ReadRawFile(f.ctx, f.rref.ProjectPath, f.rref.Ref, f.path, &rng)
	if err != nil {
		if gitlab.IsNotFound(err) {
			return fmt.Errorf("%s: %w", f.path, ErrPathNotFound)
		}
		return err
	}
	if info.Ranged {
		f.rc = rc
		return nil
	}

	f.log.Debug("range not supported, buffering full blob",
		zap.String("path", f.path), zap.Int64("size", f.blobSize))
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read full blob %s: %w", f.path, err)
	}
	f.buf = data
	return nil
}

// readBuffered serves p from the buffered full blob at the current
// window offset, clamping against short server responses.
func (f *File) readBuffered(p []byte) (int, error) {
	abs := min(f.start+f.offset, int64(len(f.buf)))
	end := min(f.start+f.size, int64(len(f.buf)))
	n := copy(p, f.buf[abs:end])
	f.offset += int64(n)
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek repositions the read offset within the window. Seeking discards
// any in-flight remote stream; the next Read fetches from the new
// position.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.offset + offset
	case io.SeekEnd:
		abs = f.size + offset
	default:
		return 0, fmt.Errorf("gitlabfs: invalid seek whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("gitlabfs: negative seek position %d", abs)
	}
	if abs != f.offset && f.rc != nil {
		f.rc.Close()
		f.rc = nil
	}
	f.offset = abs
	return abs, nil
}

// Close releases any in-progress transfer. Closing twice is an error.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	if f.rc != nil {
		err := f.rc.Close()
		f.rc = nil
		return err
	}
	return nil
}

var _ io.ReadSeekCloser = (*File)(nil)
