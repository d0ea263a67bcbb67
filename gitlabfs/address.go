package gitlabfs

import (
	"fmt"
	"path"
	"strings"
)

// Scheme is the address scheme prefix handled by this package.
const Scheme = "gitlab://"

// Address is the parsed form of a gitlab:// address:
//
//	gitlab://<project/path>[@<ref>](:|/)<inner/path>
//
// ProjectPath is a slash-joined namespace path of arbitrary depth. Ref
// is empty when the address defers to the project's default branch.
// InnerPath is the slash-separated path inside the repository tree,
// empty for the repository root. Addresses are values: constructed once
// per operation, never mutated.
type Address struct {
	ProjectPath string
	Ref         string
	InnerPath   string
}

// Segments returns the project path split into its namespace segments.
func (a Address) Segments() []string {
	return strings.Split(a.ProjectPath, "/")
}

// String reconstructs the canonical address using the colon inner-path
// delimiter, the least ambiguous form. ParseAddress(a.String()) yields
// an identical Address for any valid a.
func (a Address) String() string {
	s := Scheme + a.ProjectPath
	if a.Ref != "" {
		s += "@" + a.Ref
	}
	if a.InnerPath != "" {
		s += ":" + a.InnerPath
	}
	return s
}

// ParseAddress parses a full gitlab:// address. The grammar is resolved
// with ordered disambiguation rules rather than one greedy match:
//
//  1. The ref, if any, starts at the first "@". Project paths must not
//     contain "@" or ":".
//  2. After the "@", a ":" ends the ref and starts the inner path. In
//     this form the ref may contain "/" (e.g. "@feature/x:dir/f.txt").
//  3. Without a ":", the first "/" after the "@" ends the ref; a ref
//     containing "/" cannot be expressed in this form.
//  4. Without an "@", a ":" separates project path from inner path.
//     Without either delimiter the whole remainder is the project path
//     and the address denotes the repository root; a filesystem bound
//     to a project may reinterpret the remainder against its own
//     project path (see FileSystem).
//
// An empty ref after "@" is accepted and means the default branch.
func ParseAddress(raw string) (Address, error) {
	rest, ok := strings.CutPrefix(raw, Scheme)
	if !ok {
		return Address{}, fmt.Errorf("%w: %q lacks %q prefix", ErrMalformedAddress, raw, Scheme)
	}
	if rest == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrMalformedAddress)
	}

	var addr Address
	if at := strings.Index(rest, "@"); at >= 0 {
		addr.ProjectPath = rest[:at]
		tail := rest[at+1:]
		switch colon := strings.Index(tail, ":"); {
		case colon >= 0:
			addr.Ref = tail[:colon]
			addr.InnerPath = tail[colon+1:]
		default:
			if slash := strings.Index(tail, "/"); slash >= 0 {
				addr.Ref = tail[:slash]
				addr.InnerPath = tail[slash+1:]
			} else {
				addr.Ref = tail
			}
		}
	} else if colon := strings.Index(rest, ":"); colon >= 0 {
		addr.ProjectPath = rest[:colon]
		addr.InnerPath = rest[colon+1:]
	} else {
		// No delimiters at all: the remainder is the project path and
		// the address denotes the repository root.
		addr.ProjectPath = rest
	}

	if err := validateProjectPath(addr.ProjectPath); err != nil {
		return Address{}, err
	}
	if strings.Contains(addr.Ref, ":") {
		return Address{}, fmt.Errorf("%w: ref %q contains %q", ErrMalformedAddress, addr.Ref, ":")
	}
	inner, err := cleanInnerPath(addr.InnerPath)
	if err != nil {
		return Address{}, err
	}
	addr.InnerPath = inner
	return addr, nil
}

// validateProjectPath checks the project-path invariant: one or more
// non-empty slash-separated segments, free of delimiter characters.
func validateProjectPath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty project path", ErrMalformedAddress)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return fmt.Errorf("%w: project path %q has empty segment", ErrMalformedAddress, p)
		}
		if strings.ContainsAny(seg, "@:") {
			return fmt.Errorf("%w: project path segment %q contains delimiter", ErrMalformedAddress, seg)
		}
	}
	return nil
}

// cleanInnerPath normalizes an in-repository path: slashes trimmed,
// "." elided. Paths escaping the repository root are rejected.
func cleanInnerPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: inner path %q escapes repository root", ErrMalformedAddress, p)
	}
	return cleaned, nil
}
