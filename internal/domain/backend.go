package domain

import (
	"context"
	"io/fs"

	"github.com/rs/zerolog"
)

// RecordSource yields the user records matching a filter. Backends that
// cannot search return ErrSearchUnavailable.
type RecordSource interface {
	Query(ctx context.Context, filter Filter) ([]UserRecord, error)
}

// Group is the desired state of an OS group.
type Group struct {
	Name string
	GID  *int
	// Members replaces the whole member list when ReplaceMembers is set and
	// is ignored otherwise.
	Members        []string
	ReplaceMembers bool
	// CreateOnly leaves an existing group of the same name untouched.
	CreateOnly bool
}

// Account is the desired state of an OS account. Password holds an
// already hashed value and is never logged.
type Account struct {
	Name       string
	UID        *int
	Group      *GroupRef
	Shell      string
	Comment    string
	Password   *string
	Home       string
	ManageHome bool
	Action     Action
}

// MarshalZerologObject logs the account without its password.
func (a Account) MarshalZerologObject(e *zerolog.Event) {
	e.Str("name", a.Name).Str("action", string(a.Action))
	if a.UID != nil {
		e.Int("uid", *a.UID)
	}
	if a.Group != nil {
		e.Str("gid", a.Group.String())
	}
	if a.Shell != "" {
		e.Str("shell", a.Shell)
	}
	if a.Home != "" {
		e.Str("home", a.Home)
	}
	e.Bool("manage_home", a.ManageHome).Bool("password_set", a.Password != nil)
}

// AccountManager applies groups and accounts. Both calls are idempotent and
// report whether anything changed.
type AccountManager interface {
	EnsureGroup(ctx context.Context, g Group) (bool, error)
	EnsureAccount(ctx context.Context, a Account) (bool, error)
}

// Directory is a directory that must exist with the given ownership.
type Directory struct {
	Path  string
	Owner string
	Group string
	Mode  fs.FileMode
}

// File is a file rendered from a named template.
type File struct {
	Path      string
	Template  string
	Owner     string
	Group     string
	Mode      fs.FileMode
	Variables map[string]any
}

// FileManager converges directories and templated files. It never deletes
// anything and expects parent directories to exist.
type FileManager interface {
	EnsureDirectory(ctx context.Context, d Directory) (bool, error)
	EnsureFile(ctx context.Context, f File) (bool, error)
}

// MountDetector tells whether a path lives on a remote filesystem.
type MountDetector interface {
	IsRemoteMount(ctx context.Context, path string) (bool, error)
}

// HostTagger answers host tag membership.
type HostTagger interface {
	HasTag(tag string) bool
}

// PlatformDetector returns the platform family of the running host.
type PlatformDetector interface {
	PlatformFamily(ctx context.Context) (string, error)
}
