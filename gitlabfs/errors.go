package gitlabfs

import "errors"

// Error taxonomy of the filesystem layer. Parse and validation errors
// are returned before any remote call; remote-sourced errors surface at
// the point the remote call is made. Transport failures pass through
// unchanged as *gitlab.StatusError. Match with errors.Is.
var (
	// ErrMalformedAddress means an address string violates the grammar.
	ErrMalformedAddress = errors.New("malformed gitlab address")

	// ErrAmbiguousProjectPath means an address embeds a project path
	// that conflicts with the one the filesystem was constructed with.
	ErrAmbiguousProjectPath = errors.New("ambiguous project path")

	// ErrRefNotFound means the remote confirmed the ref does not exist.
	ErrRefNotFound = errors.New("ref not found")

	// ErrPathNotFound means no file or directory exists at the path.
	ErrPathNotFound = errors.New("path not found")

	// ErrNotADirectory means a directory operation hit a file.
	ErrNotADirectory = errors.New("not a directory")

	// ErrIsADirectory means a file operation hit a directory.
	ErrIsADirectory = errors.New("is a directory")

	// ErrReadOnly means a write operation was attempted.
	ErrReadOnly = errors.New("read-only filesystem")
)
