package mockserver_test

import (
	"context"
	"io"
	"testing"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
	"github.com/gchaperon/gitlab-fsspec/mockserver"
)

func TestProjectLookup(t *testing.T) {
	srv := mockserver.New(mockserver.WithProject("group/project", "main"))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL)
	p, err := c.GetProject(context.Background(), "group/project")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.DefaultBranch != "main" {
		t.Errorf("DefaultBranch = %q", p.DefaultBranch)
	}
	if srv.ProjectCalls() != 1 {
		t.Errorf("ProjectCalls = %d", srv.ProjectCalls())
	}

	if _, err := c.GetProject(context.Background(), "group/other"); !gitlab.IsNotFound(err) {
		t.Errorf("missing project err = %v, want not found", err)
	}
}

func TestTreeListing(t *testing.T) {
	srv := mockserver.New(
		mockserver.WithFile("group/project", "main", "dir/a.txt", []byte("a")),
		mockserver.WithFile("group/project", "main", "dir/sub/b.txt", []byte("b")),
		mockserver.WithFile("group/project", "main", "top.txt", []byte("t")),
	)
	defer srv.Close()

	c := gitlab.NewClient(srv.URL)
	ctx := context.Background()

	tp, err := c.ListTree(ctx, "group/project", "main", "", "")
	if err != nil {
		t.Fatalf("ListTree root: %v", err)
	}
	if len(tp.Items) != 2 || tp.Items[0].Name != "dir" || tp.Items[0].Type != "tree" {
		t.Errorf("root items = %+v", tp.Items)
	}

	tp, err = c.ListTree(ctx, "group/project", "main", "dir", "")
	if err != nil {
		t.Fatalf("ListTree dir: %v", err)
	}
	if len(tp.Items) != 2 {
		t.Errorf("dir items = %+v", tp.Items)
	}

	if _, err := c.ListTree(ctx, "group/project", "main", "nope", ""); !gitlab.IsNotFound(err) {
		t.Errorf("unknown dir err = %v, want not found", err)
	}
	if _, err := c.ListTree(ctx, "group/project", "v9", "", ""); !gitlab.IsNotFound(err) {
		t.Errorf("unknown ref err = %v, want not found", err)
	}
}

func TestTreePagination(t *testing.T) {
	srv := mockserver.New(
		mockserver.WithPageSize(2),
		mockserver.WithFile("group/project", "main", "a", []byte("1")),
		mockserver.WithFile("group/project", "main", "b", []byte("2")),
		mockserver.WithFile("group/project", "main", "c", []byte("3")),
	)
	defer srv.Close()

	c := gitlab.NewClient(srv.URL)
	ctx := context.Background()

	tp, err := c.ListTree(ctx, "group/project", "main", "", "")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(tp.Items) != 2 || tp.NextPage != "2" {
		t.Fatalf("page 1 = %d items, next %q", len(tp.Items), tp.NextPage)
	}
	tp, err = c.ListTree(ctx, "group/project", "main", "", tp.NextPage)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(tp.Items) != 1 || tp.NextPage != "" {
		t.Errorf("page 2 = %d items, next %q", len(tp.Items), tp.NextPage)
	}
}

func TestFileMetadataAndRaw(t *testing.T) {
	content := []byte("0123456789")
	srv := mockserver.New(mockserver.WithFile("group/project", "main", "f.bin", content))
	defer srv.Close()

	c := gitlab.NewClient(srv.URL)
	ctx := context.Background()

	meta, err := c.GetFileMetadata(ctx, "group/project", "main", "f.bin")
	if err != nil {
		t.Fatalf("GetFileMetadata: %v", err)
	}
	if meta.Size != int64(len(content)) || meta.BlobID == "" || meta.ContentSHA256 == "" {
		t.Errorf("meta = %+v", meta)
	}

	rc, info, err := c.ReadRawFile(ctx, "group/project", "main", "f.bin", &gitlab.ByteRange{Start: 3, End: 6})
	if err != nil {
		t.Fatalf("ReadRawFile: %v", err)
	}
	defer rc.Close()
	if !info.Ranged {
		t.Error("range request not honored")
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "3456" {
		t.Errorf("body = %q", body)
	}
}

func TestWithoutRangeSupport(t *testing.T) {
	content := []byte("0123456789")
	srv := mockserver.New(
		mockserver.WithoutRangeSupport(),
		mockserver.WithFile("group/project", "main", "f.bin", content),
	)
	defer srv.Close()

	c := gitlab.NewClient(srv.URL)
	rc, info, err := c.ReadRawFile(context.Background(), "group/project", "main", "f.bin", &gitlab.ByteRange{Start: 3, End: 6})
	if err != nil {
		t.Fatalf("ReadRawFile: %v", err)
	}
	defer rc.Close()
	if info.Ranged {
		t.Error("info.Ranged = true with range support disabled")
	}
	body, _ := io.ReadAll(rc)
	if string(body) != string(content) {
		t.Errorf("body = %q, want full content", body)
	}
}
