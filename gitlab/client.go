// Package gitlab implements a minimal client for the GitLab REST v4 API,
// covering the endpoints needed to present a repository as a read-only
// filesystem: project lookup, repository tree listing, file metadata, and
// raw file content (with optional byte ranges).
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the GitLab instance used when none is configured.
const DefaultBaseURL = "https://gitlab.com"

// perPage is the page size requested from paginated endpoints.
const perPage = 100

// Client is a GitLab REST v4 API client.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	log        *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCredentials sets explicit credentials. Fields left empty fall back
// to the environment per the precedence documented on Credentials.
func WithCredentials(creds Credentials) ClientOption {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a new GitLab API client for the given instance URL.
// An empty baseURL selects DefaultBaseURL. Credentials not provided via
// WithCredentials are resolved from the environment.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 1 * time.Minute, // Prevent hanging on unresponsive servers
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.creds = c.creds.withEnvFallback()
	return c
}

// Project describes a GitLab project as returned by the projects endpoint.
type Project struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	DefaultBranch     string `json:"default_branch"`
}

// TreeItem is a single entry from a repository tree listing.
// Type is "blob" for files and "tree" for directories.
type TreeItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
	Mode string `json:"mode"`
}

// TreePage holds one page of a repository tree listing. NextPage is the
// cursor for the following page, empty when this page is the last.
type TreePage struct {
	Items    []TreeItem
	NextPage string
}

// FileMetadata describes a single file at a ref, as reported by the
// files endpoint headers. Size is authoritative, unlike tree listings.
type FileMetadata struct {
	Size          int64
	BlobID        string
	ContentSHA256 string
	LastCommitID  string
	Encoding      string
}

// ByteRange selects an inclusive range of bytes from a raw file.
type ByteRange struct {
	Start int64
	End   int64
}

// RawFileInfo reports how a raw file request was served.
type RawFileInfo struct {
	// Ranged is true when the server honored the Range header and the
	// body contains only the requested bytes (HTTP 206).
	Ranged bool
	// Size is the Content-Length of the response body, -1 if unknown.
	Size int64
}

// GetProject fetches a project by its namespace path. The response
// carries the project's default branch.
func (c *Client) GetProject(ctx context.Context, projectPath string) (Project, error) {
	var project Project
	resp, err := c.get(ctx, "/api/v4/projects/"+url.PathEscape(projectPath), nil, nil)
	if err != nil {
		return Project{}, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return Project{}, fmt.Errorf("decode project %s: %w", projectPath, err)
	}
	return project, nil
}

// ListTree fetches one page of the repository tree listing for dirPath
// at ref. An empty dirPath lists the repository root; an empty page
// requests the first page. Callers drain pages via TreePage.NextPage.
func (c *Client) ListTree(ctx context.Context, projectPath, ref, dirPath, page string) (TreePage, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	if dirPath != "" {
		query.Set("path", dirPath)
	}
	if ref != "" {
		query.Set("ref", ref)
	}
	if page != "" {
		query.Set("page", page)
	}

	resp, err := c.get(ctx, "/api/v4/projects/"+url.PathEscape(projectPath)+"/repository/tree", query, nil)
	if err != nil {
		return TreePage{}, err
	}
	defer resp.Body.Close()

	var items []TreeItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return TreePage{}, fmt.Errorf("decode tree listing %s@%s:%s: %w", projectPath, ref, dirPath, err)
	}

	next := resp.Header.Get("X-Next-Page")
	if next == "0" {
		next = ""
	}
	return TreePage{Items: items, NextPage: next}, nil
}

// GetFileMetadata fetches metadata for a single file at ref without
// transferring its content. The files endpoint reports size, blob ID and
// content hash in X-Gitlab-* response headers on a HEAD request.
func (c *Client) GetFileMetadata(ctx context.Context, projectPath, ref, filePath string) (FileMetadata, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	endpoint := "/api/v4/projects/" + url.PathEscape(projectPath) + "/repository/files/" + url.PathEscape(filePath)

	req, err := c.newRequest(ctx, http.MethodHead, endpoint, query)
	if err != nil {
		return FileMetadata{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return FileMetadata{}, err
	}
	defer resp.Body.Close()

	size, err := strconv.ParseInt(resp.Header.Get("X-Gitlab-Size"), 10, 64)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("parse X-Gitlab-Size for %s: %w", filePath, err)
	}
	return FileMetadata{
		Size:          size,
		BlobID:        resp.Header.Get("X-Gitlab-Blob-Id"),
		ContentSHA256: resp.Header.Get("X-Gitlab-Content-Sha256"),
		LastCommitID:  resp.Header.Get("X-Gitlab-Last-Commit-Id"),
		Encoding:      resp.Header.Get("X-Gitlab-Encoding"),
	}, nil
}

// ReadRawFile opens the raw content of a file at ref. When br is non-nil
// a Range header is sent; RawFileInfo.Ranged reports whether the server
// honored it (206) or returned the whole file (200), in which case the
// caller is responsible for slicing. The returned body must be closed.
func (c *Client) ReadRawFile(ctx context.Context, projectPath, ref, filePath string, br *ByteRange) (io.ReadCloser, RawFileInfo, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	endpoint := "/api/v4/projects/" + url.PathEscape(projectPath) + "/repository/files/" + url.PathEscape(filePath) + "/raw"

	var headers http.Header
	if br != nil {
		headers = http.Header{}
		headers.Set("Range", fmt.Sprintf("bytes=%d-%d", br.Start, br.End))
	}
	resp, err := c.get(ctx, endpoint, query, headers)
	if err != nil {
		return nil, RawFileInfo{}, err
	}

	info := RawFileInfo{
		Ranged: resp.StatusCode == http.StatusPartialContent,
		Size:   resp.ContentLength,
	}
	c.log.Debug("raw file opened",
		zap.String("project", projectPath),
		zap.String("path", filePath),
		zap.Bool("ranged", info.Ranged))
	return resp.Body, info, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values) (*http.Request, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.creds.apply(req)
	return req, nil
}

// get issues a GET request and returns the response if the status is
// 200 or 206. Any other status is converted to a *StatusError and the
// body is consumed and closed.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, headers http.Header) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query)
	if err != nil {
		return nil, err
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	c.log.Debug("remote call", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.URL.Path,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
