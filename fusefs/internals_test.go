package fusefs

import (
	"bytes"
	"fmt"
	"syscall"
	"testing"

	"github.com/gchaperon/gitlab-fsspec/gitlabfs"
)

func TestReadAt(t *testing.T) {
	data := []byte("hello world")

	tests := []struct {
		off  int64
		dest int
		want string
	}{
		{0, 5, "hello"},
		{6, 5, "world"},
		{6, 100, "world"},
		{0, 100, "hello world"},
		{11, 5, ""},
		{100, 5, ""},
	}
	for _, tt := range tests {
		got := readAt(data, make([]byte, tt.dest), tt.off)
		if !bytes.Equal(got, []byte(tt.want)) {
			t.Errorf("readAt(off=%d, len=%d) = %q, want %q", tt.off, tt.dest, got, tt.want)
		}
	}
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{gitlabfs.ErrPathNotFound, syscall.ENOENT},
		{gitlabfs.ErrRefNotFound, syscall.ENOENT},
		{fmt.Errorf("dir: %w", gitlabfs.ErrNotADirectory), syscall.ENOTDIR},
		{gitlabfs.ErrIsADirectory, syscall.EISDIR},
		{gitlabfs.ErrReadOnly, syscall.EROFS},
		{fmt.Errorf("boom"), syscall.EIO},
	}
	for _, tt := range tests {
		if got := errno(tt.err); got != tt.want {
			t.Errorf("errno(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
