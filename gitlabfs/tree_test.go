package gitlabfs_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gchaperon/gitlab-fsspec/gitlabfs"
	"github.com/gchaperon/gitlab-fsspec/mockserver"
)

func TestLsDrainsAllPages(t *testing.T) {
	opts := []mockserver.Option{
		mockserver.WithProject("group/project", "main"),
		mockserver.WithPageSize(2),
	}
	var want []string
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("file%02d.txt", i)
		want = append(want, name)
		opts = append(opts, mockserver.WithFile("group/project", "main", name, []byte("x")))
	}
	fs, srv := newTestFS(t, gitlabfs.Config{ProjectPath: "group/project", Ref: "main"}, opts...)

	entries, err := fs.Ls(context.Background(), "", false)
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if diff := cmp.Diff(want, gitlabfs.EntryNames(entries)); diff != "" {
		t.Errorf("paginated listing mismatch (-want +got):\n%s", diff)
	}
	// 7 entries at 2 per page means 4 pages fetched.
	if got := srv.TreeCalls(); got != 4 {
		t.Errorf("drained %d pages, want 4", got)
	}
}

func TestLsPaginatedListingCachedWhole(t *testing.T) {
	opts := []mockserver.Option{
		mockserver.WithProject("group/project", "main"),
		mockserver.WithPageSize(1),
		mockserver.WithFile("group/project", "main", "a.txt", []byte("a")),
		mockserver.WithFile("group/project", "main", "b.txt", []byte("b")),
		mockserver.WithFile("group/project", "main", "c.txt", []byte("c")),
	}
	fs, srv := newTestFS(t, gitlabfs.Config{ProjectPath: "group/project", Ref: "main"}, opts...)
	ctx := context.Background()

	if _, err := fs.Ls(ctx, "", false); err != nil {
		t.Fatalf("first Ls: %v", err)
	}
	calls := srv.TreeCalls()
	if _, err := fs.Ls(ctx, "", false); err != nil {
		t.Fatalf("second Ls: %v", err)
	}
	if got := srv.TreeCalls(); got != calls {
		t.Errorf("cached listing refetched %d pages", got-calls)
	}
}

func TestLsEmptyDirectoryDistinctFromFile(t *testing.T) {
	fs, _ := newTestFS(t, gitlabfs.Config{ProjectPath: "group/project", Ref: "main"},
		mockserver.WithProject("group/project", "main"),
		mockserver.WithFile("group/project", "main", "dir/inner/leaf.txt", []byte("x")),
	)
	ctx := context.Background()

	// A file path lists as that file, not as an empty directory.
	entries, err := fs.Ls(ctx, "dir/inner/leaf.txt", false)
	if err != nil {
		t.Fatalf("Ls on file: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != gitlabfs.KindFile {
		t.Errorf("file listing = %+v", entries)
	}
}
