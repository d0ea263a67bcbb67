package gitlabfs_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/gchaperon/gitlab-fsspec/gitlabfs"
	"github.com/gchaperon/gitlab-fsspec/mockserver"
)

const blobContent = "0123456789abcdefghij"

func blobFS(t *testing.T, opts ...mockserver.Option) *gitlabfs.FileSystem {
	t.Helper()
	opts = append([]mockserver.Option{
		mockserver.WithProject("group/project", "main"),
		mockserver.WithFile("group/project", "main", "blob.bin", []byte(blobContent)),
	}, opts...)
	fs, _ := newTestFS(t, gitlabfs.Config{ProjectPath: "group/project", Ref: "main"}, opts...)
	return fs
}

func TestFileWindowedRead(t *testing.T) {
	fs := blobFS(t)

	f, err := fs.Open(context.Background(), "blob.bin", gitlabfs.ModeRead, &gitlabfs.ByteRange{Offset: 10, Length: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Size() != 5 {
		t.Errorf("Size() = %d, want 5", f.Size())
	}
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "abcde" {
		t.Errorf("window = %q, want %q", data, "abcde")
	}
}

func TestFileSequentialReadsContiguous(t *testing.T) {
	fs := blobFS(t)

	f, err := fs.Open(context.Background(), "blob.bin", gitlabfs.ModeRead, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	// Small reads must deliver one contiguous stream with no gaps or
	// duplicated bytes regardless of how fetches are segmented.
	var got []byte
	buf := make([]byte, 3)
	for {
		n, err := f.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(got) != blobContent {
		t.Errorf("assembled %q, want %q", got, blobContent)
	}
}

func TestFileSeek(t *testing.T) {
	fs := blobFS(t)

	f, err := fs.Open(context.Background(), "blob.bin", gitlabfs.ModeRead, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if _, err := f.Seek(10, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "abcde" {
		t.Errorf("after seek read %q, want %q", buf, "abcde")
	}

	// Seek back re-reads earlier bytes through a fresh fetch.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek to start: %v", err)
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "01234" {
		t.Errorf("after rewind read %q, want %q", buf, "01234")
	}

	if pos, err := f.Seek(-5, io.SeekEnd); err != nil || pos != int64(len(blobContent)-5) {
		t.Errorf("SeekEnd = %d, %v", pos, err)
	}
	if _, err := f.Seek(-100, io.SeekCurrent); err == nil {
		t.Error("negative position accepted")
	}
}

func TestFileWithoutRangeSupport(t *testing.T) {
	fs := blobFS(t, mockserver.WithoutRangeSupport())

	f, err := fs.Open(context.Background(), "blob.bin", gitlabfs.ModeRead, &gitlabfs.ByteRange{Offset: 10, Length: 5})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "abcde" {
		t.Errorf("window without range support = %q, want %q", data, "abcde")
	}
}

func TestFileClose(t *testing.T) {
	fs := blobFS(t)

	f, err := fs.Open(context.Background(), "blob.bin", gitlabfs.ModeRead, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("second Close = %v, want os.ErrClosed", err)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Read after Close = %v, want os.ErrClosed", err)
	}
	if _, err := f.Seek(0, io.SeekStart); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Seek after Close = %v, want os.ErrClosed", err)
	}
}

func TestFileRangeBeyondEOF(t *testing.T) {
	fs := blobFS(t)

	f, err := fs.Open(context.Background(), "blob.bin", gitlabfs.ModeRead, &gitlabfs.ByteRange{Offset: 100, Length: 10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Size() != 0 {
		t.Errorf("Size() = %d, want 0", f.Size())
	}
	if _, err := f.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Read = %v, want io.EOF", err)
	}
}
