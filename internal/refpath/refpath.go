// Package refpath classifies Git ref paths into the ref kinds the backing
// repository knows about, and renders them back.
package refpath

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// All is the pseudo-ref present in every non-empty repository.
	All = "ALL"
	// Head is the pseudo-ref pointing at the default branch head.
	Head = string(plumbing.HEAD)

	Prefix           = "refs/"
	branchPrefix     = "refs/heads/"
	tagPrefix        = "refs/tags/"
	keepAroundPrefix = "refs/keep-around/"
)

// ZeroID is the all-zero changeset id targeted by All.
var ZeroID = plumbing.ZeroHash.String()

// ErrInvalidRef is returned for paths outside the refs/ namespace.
var ErrInvalidRef = errors.New("invalid refname")

// Ref is the classification of a ref path. It is one of Branch, Tag,
// Special, KeepAround or Unrecognized.
type Ref interface {
	// Path renders the ref back to its full path.
	Path() string
	isRef()
}

// Branch is refs/heads/<Name>.
type Branch struct{ Name string }

// Tag is refs/tags/<Name>.
type Tag struct{ Name string }

// Special is a special ref. Key is the path without "refs/".
type Special struct{ Key string }

// KeepAround is refs/keep-around/<ID>.
type KeepAround struct{ ID string }

// Unrecognized is a well-formed path that matches no known kind.
type Unrecognized struct{ Raw string }

func (Branch) isRef()       {}
func (Tag) isRef()          {}
func (Special) isRef()      {}
func (KeepAround) isRef()   {}
func (Unrecognized) isRef() {}

func (r Branch) Path() string       { return BranchRef(r.Name) }
func (r Tag) Path() string          { return TagRef(r.Name) }
func (r Special) Path() string      { return SpecialRef(r.Key) }
func (r KeepAround) Path() string   { return KeepAroundRef(r.ID) }
func (r Unrecognized) Path() string { return r.Raw }

// specialRefPattern lists the special-ref templates, matched against the
// path without its "refs/" prefix.
var specialRefPattern = regexp.MustCompile(
	`^(?:` +
		`merge-requests/[1-9][0-9]*/(?:head|merge|train)` +
		`|pipelines/[1-9][0-9]*` +
		`|environments/[^/]+/deployments/[1-9][0-9]*` +
		`)$`)

// Parse classifies a ref path. Paths not starting with "refs/" yield
// ErrInvalidRef.
func Parse(path string) (Ref, error) {
	if !strings.HasPrefix(path, Prefix) {
		return nil, ErrInvalidRef
	}

	name := plumbing.ReferenceName(path)
	switch {
	case name.IsBranch():
		if short := strings.TrimPrefix(path, branchPrefix); short != "" {
			return Branch{Name: short}, nil
		}
	case name.IsTag():
		if short := strings.TrimPrefix(path, tagPrefix); short != "" {
			return Tag{Name: short}, nil
		}
	}

	if id, ok := strings.CutPrefix(path, keepAroundPrefix); ok {
		if IsChangesetID(id) {
			return KeepAround{ID: id}, nil
		}
		return Unrecognized{Raw: path}, nil
	}

	if key, ok := ParseSpecial(path); ok {
		return Special{Key: key}, nil
	}
	return Unrecognized{Raw: path}, nil
}

// ParseSpecial returns the special-ref key of path, if path is a special ref.
func ParseSpecial(path string) (string, bool) {
	key, ok := strings.CutPrefix(path, Prefix)
	if !ok || !specialRefPattern.MatchString(key) {
		return "", false
	}
	return key, true
}

// BranchName accepts a bare branch name or a full refs/heads/ path. It
// returns false for any other path under refs/.
func BranchName(name string) (string, bool) {
	if !strings.HasPrefix(name, Prefix) {
		return name, name != ""
	}
	ref, err := Parse(name)
	if err != nil {
		return "", false
	}
	b, ok := ref.(Branch)
	return b.Name, ok
}

// BranchRef renders a branch name as refs/heads/<name>.
func BranchRef(name string) string {
	return plumbing.NewBranchReferenceName(name).String()
}

// TagRef renders a tag name as refs/tags/<name>.
func TagRef(name string) string {
	return plumbing.NewTagReferenceName(name).String()
}

// SpecialRef renders a special-ref key as refs/<key>.
func SpecialRef(key string) string {
	return Prefix + key
}

// KeepAroundRef renders a keep-around id as refs/keep-around/<id>.
func KeepAroundRef(id string) string {
	return keepAroundPrefix + id
}

// IsChangesetID reports whether id is a full lowercase hex changeset id.
func IsChangesetID(id string) bool {
	return plumbing.IsHash(id) && strings.ToLower(id) == id
}
