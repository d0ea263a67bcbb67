// Package mockserver provides a mock GitLab v4 API backend for testing.
//
// It handles the endpoints the filesystem layer depends on: project
// lookup, paginated repository tree listings, per-file metadata via
// HEAD, and raw file content with optional Range support.
//
// Usage:
//
//	s := mockserver.New(
//		mockserver.WithProject("group/project", "main"),
//		mockserver.WithFile("group/project", "main", "dir/file.txt", []byte("hi")),
//	)
//	defer s.Close()
//	client := gitlab.NewClient(s.URL)
package mockserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gchaperon/gitlab-fsspec/gitlab"
)

// Server wraps an httptest.Server with a preconfigured GitLab mock
// backend. Per-endpoint request counters support tests that verify
// caching and de-duplication behavior.
type Server struct {
	*httptest.Server

	projects map[string]*projectData
	nextID   int

	// pageSize, when non-zero, overrides the client's per_page and
	// forces tree listings to paginate.
	pageSize int

	// rangeSupport controls whether raw file requests honor the Range
	// header (206) or always return the full body (200).
	rangeSupport bool

	// requestHook, if set, is called on every request before routing.
	requestHook func(r *http.Request)

	projectCalls  int32
	treeCalls     int32
	metadataCalls int32
	rawCalls      int32
}

type projectData struct {
	project gitlab.Project
	// refs is keyed by ref, then by in-repository file path.
	refs map[string]map[string][]byte
}

// Option configures a mock server.
type Option func(*Server)

// WithProject registers a project with the given default branch.
func WithProject(path, defaultBranch string) Option {
	return func(s *Server) {
		s.ensureProject(path).project.DefaultBranch = defaultBranch
	}
}

// WithFile registers a file's content at a ref, implicitly creating the
// project (with ref as its default branch) and any parent directories.
func WithFile(projectPath, ref, filePath string, content []byte) Option {
	return func(s *Server) {
		p := s.ensureProject(projectPath)
		if p.project.DefaultBranch == "" {
			p.project.DefaultBranch = ref
		}
		if p.refs[ref] == nil {
			p.refs[ref] = make(map[string][]byte)
		}
		p.refs[ref][filePath] = content
	}
}

// WithPageSize forces tree listings to paginate with the given page
// size regardless of the per_page the client requests.
func WithPageSize(n int) Option {
	return func(s *Server) {
		s.pageSize = n
	}
}

// WithoutRangeSupport makes raw file requests ignore the Range header
// and return the full body, exercising the caller's local-slicing
// fallback.
func WithoutRangeSupport() Option {
	return func(s *Server) {
		s.rangeSupport = false
	}
}

// WithRequestHook sets a callback invoked on every request before routing.
func WithRequestHook(h func(r *http.Request)) Option {
	return func(s *Server) {
		s.requestHook = h
	}
}

// New creates and starts a mock server. Close it when done.
func New(opts ...Option) *Server {
	s := &Server{
		projects:     make(map[string]*projectData),
		rangeSupport: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) ensureProject(path string) *projectData {
	if p, ok := s.projects[path]; ok {
		return p
	}
	s.nextID++
	p := &projectData{
		project: gitlab.Project{ID: s.nextID, PathWithNamespace: path},
		refs:    make(map[string]map[string][]byte),
	}
	s.projects[path] = p
	return p
}

// ProjectCalls returns the number of project lookup requests served.
func (s *Server) ProjectCalls() int {
	return int(atomic.LoadInt32(&s.projectCalls))
}

// TreeCalls returns the number of tree listing requests served,
// counting each page separately.
func (s *Server) TreeCalls() int {
	return int(atomic.LoadInt32(&s.treeCalls))
}

// MetadataCalls returns the number of file metadata requests served.
func (s *Server) MetadataCalls() int {
	return int(atomic.LoadInt32(&s.metadataCalls))
}

// RawCalls returns the number of raw content requests served.
func (s *Server) RawCalls() int {
	return int(atomic.LoadInt32(&s.rawCalls))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if s.requestHook != nil {
		s.requestHook(r)
	}

	// Project paths arrive percent-encoded (%2F for the namespace
	// separators); route on the escaped path to keep them intact.
	esc := strings.TrimPrefix(r.URL.EscapedPath(), "/api/v4/projects/")
	if esc == r.URL.EscapedPath() {
		http.NotFound(w, r)
		return
	}

	repo := strings.Index(esc, "/repository/")
	if repo < 0 {
		s.handleProject(w, unescape(esc))
		return
	}

	projectPath := unescape(esc[:repo])
	tail := esc[repo+len("/repository/"):]
	switch {
	case tail == "tree":
		s.handleTree(w, r, projectPath)
	case strings.HasPrefix(tail, "files/") && strings.HasSuffix(tail, "/raw"):
		filePath := unescape(strings.TrimSuffix(strings.TrimPrefix(tail, "files/"), "/raw"))
		s.handleRaw(w, r, projectPath, filePath)
	case strings.HasPrefix(tail, "files/"):
		s.handleMetadata(w, r, projectPath, unescape(strings.TrimPrefix(tail, "files/")))
	default:
		http.NotFound(w, r)
	}
}

func unescape(s string) string {
	u, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return u
}

func (s *Server) handleProject(w http.ResponseWriter, projectPath string) {
	atomic.AddInt32(&s.projectCalls, 1)
	p, ok := s.projects[projectPath]
	if !ok {
		notFound(w, "404 Project Not Found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p.project)
}

// lookupRef resolves the ref query parameter, defaulting to the
// project's default branch like the real API does.
func (s *Server) lookupRef(p *projectData, r *http.Request) (map[string][]byte, bool) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = p.project.DefaultBranch
	}
	files, ok := p.refs[ref]
	return files, ok
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request, projectPath string) {
	atomic.AddInt32(&s.treeCalls, 1)
	p, ok := s.projects[projectPath]
	if !ok {
		notFound(w, "404 Project Not Found")
		return
	}
	files, ok := s.lookupRef(p, r)
	if !ok {
		notFound(w, "404 Tree Not Found")
		return
	}

	dir := r.URL.Query().Get("path")
	items := directChildren(files, dir)
	if items == nil && dir != "" {
		if _, isFile := files[dir]; isFile {
			// Listing a blob path yields an empty page, matching the
			// observed API behavior.
			items = []gitlab.TreeItem{}
		} else {
			notFound(w, "404 Tree Not Found")
			return
		}
	}

	per := s.pageSize
	if per == 0 {
		per, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
		if per <= 0 {
			per = len(items)
		}
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	start := min((page-1)*per, len(items))
	end := len(items)
	if per > 0 {
		end = min(start+per, len(items))
		w.Header().Set("X-Total-Pages", strconv.Itoa((len(items)+per-1)/per))
	}
	if end < len(items) {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items[start:end])
}

// directChildren computes the tree items directly under dir, sorted by
// name the way the real API returns them. Returns nil when dir is not a
// prefix of any file.
func directChildren(files map[string][]byte, dir string) []gitlab.TreeItem {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}
	seen := make(map[string]gitlab.TreeItem)
	for f, content := range files {
		if !strings.HasPrefix(f, prefix) {
			continue
		}
		name, _, nested := strings.Cut(f[len(prefix):], "/")
		item := gitlab.TreeItem{Name: name, Path: prefix + name}
		if nested {
			item.Type = "tree"
			item.Mode = "040000"
			item.ID = blobID([]byte(item.Path))
		} else {
			item.Type = "blob"
			item.Mode = "100644"
			item.ID = blobID(content)
		}
		seen[name] = item
	}
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]gitlab.TreeItem, 0, len(names))
	for _, name := range names {
		items = append(items, seen[name])
	}
	return items
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, projectPath, filePath string) {
	atomic.AddInt32(&s.metadataCalls, 1)
	p, ok := s.projects[projectPath]
	if !ok {
		notFound(w, "404 Project Not Found")
		return
	}
	files, ok := s.lookupRef(p, r)
	if !ok {
		notFound(w, "404 File Not Found")
		return
	}
	content, ok := files[filePath]
	if !ok {
		notFound(w, "404 File Not Found")
		return
	}

	sum := sha256.Sum256(content)
	w.Header().Set("X-Gitlab-Size", strconv.Itoa(len(content)))
	w.Header().Set("X-Gitlab-Blob-Id", blobID(content))
	w.Header().Set("X-Gitlab-Content-Sha256", hex.EncodeToString(sum[:]))
	w.Header().Set("X-Gitlab-Last-Commit-Id", blobID([]byte(filePath)))
	w.Header().Set("X-Gitlab-Encoding", "base64")
	w.Header().Set("X-Gitlab-File-Path", filePath)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request, projectPath, filePath string) {
	atomic.AddInt32(&s.rawCalls, 1)
	p, ok := s.projects[projectPath]
	if !ok {
		notFound(w, "404 Project Not Found")
		return
	}
	files, ok := s.lookupRef(p, r)
	if !ok {
		notFound(w, "404 File Not Found")
		return
	}
	content, ok := files[filePath]
	if !ok {
		notFound(w, "404 File Not Found")
		return
	}

	if start, end, ok := parseRange(r.Header.Get("Range"), int64(len(content))); ok && s.rangeSupport {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
		return
	}
	w.Write(content)
}

// parseRange parses a single "bytes=a-b" range, clamping b to the last
// byte of the body.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || size == 0 {
		return 0, 0, false
	}
	a, b, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(a, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}
	end, err = strconv.ParseInt(b, 10, 64)
	if err != nil || end < start {
		return 0, 0, false
	}
	return start, min(end, size-1), true
}

func blobID(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:40]
}

func notFound(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
