package reconcile_test

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/h2hsecure/usermanage/internal/domain"
)

type fakeSource struct {
	records     []domain.UserRecord
	unavailable bool
	queries     []string
}

func (s *fakeSource) Query(_ context.Context, f domain.Filter) ([]domain.UserRecord, error) {
	s.queries = append(s.queries, f.String())
	if s.unavailable {
		return nil, domain.ErrSearchUnavailable
	}
	var out []domain.UserRecord
	for _, r := range s.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeGroup struct {
	gid     *int
	members []string
}

type fakeUser struct {
	acct   domain.Account
	locked bool
}

// fakeAccounts is an in-memory passwd/group database with the same
// idempotence contract as the shadow-utils adapter.
type fakeAccounts struct {
	groups       map[string]*fakeGroup
	users        map[string]*fakeUser
	groupCalls   []domain.Group
	accountCalls []domain.Account
	failRemove   map[string]error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		groups:     map[string]*fakeGroup{},
		users:      map[string]*fakeUser{},
		failRemove: map[string]error{},
	}
}

func (f *fakeAccounts) EnsureGroup(_ context.Context, g domain.Group) (bool, error) {
	f.groupCalls = append(f.groupCalls, g)
	if g.GID != nil {
		for name, other := range f.groups {
			if name != g.Name && other.gid != nil && *other.gid == *g.GID {
				return false, fmt.Errorf("%w: gid %d used by %s", domain.ErrPrimitiveConflict, *g.GID, name)
			}
		}
	}
	cur, ok := f.groups[g.Name]
	if !ok {
		f.groups[g.Name] = &fakeGroup{gid: g.GID, members: slices.Clone(g.Members)}
		return true, nil
	}
	if g.CreateOnly {
		return false, nil
	}
	changed := false
	if g.GID != nil && (cur.gid == nil || *cur.gid != *g.GID) {
		cur.gid = g.GID
		changed = true
	}
	if g.ReplaceMembers && !slices.Equal(cur.members, g.Members) {
		cur.members = slices.Clone(g.Members)
		changed = true
	}
	return changed, nil
}

func (f *fakeAccounts) EnsureAccount(_ context.Context, a domain.Account) (bool, error) {
	f.accountCalls = append(f.accountCalls, a)
	cur, ok := f.users[a.Name]
	switch a.Action {
	case domain.ActionRemove:
		if err := f.failRemove[a.Name]; err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		delete(f.users, a.Name)
		return true, nil
	case domain.ActionLock:
		if !ok {
			return false, fmt.Errorf("user %s: %w", a.Name, domain.ErrNotFound)
		}
		if cur.locked {
			return false, nil
		}
		cur.locked = true
		return true, nil
	case domain.ActionModify:
		if !ok {
			return false, fmt.Errorf("user %s: %w", a.Name, domain.ErrNotFound)
		}
	}
	if a.UID != nil {
		for name, other := range f.users {
			if name != a.Name && other.acct.UID != nil && *other.acct.UID == *a.UID {
				return false, fmt.Errorf("%w: uid %d used by %s", domain.ErrPrimitiveConflict, *a.UID, name)
			}
		}
	}
	if !ok {
		f.users[a.Name] = &fakeUser{acct: a}
		return true, nil
	}
	if cmp.Equal(cur.acct, a) {
		return false, nil
	}
	cur.acct = a
	return true, nil
}

func (f *fakeAccounts) accountNames() []string {
	var out []string
	for _, a := range f.accountCalls {
		out = append(out, string(a.Action)+":"+a.Name)
	}
	return out
}

type fakeFiles struct {
	dirs      map[string]domain.Directory
	files     map[string]domain.File
	dirCalls  []domain.Directory
	fileCalls []domain.File
	failPaths map[string]error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		dirs:      map[string]domain.Directory{},
		files:     map[string]domain.File{},
		failPaths: map[string]error{},
	}
}

func (f *fakeFiles) EnsureDirectory(_ context.Context, d domain.Directory) (bool, error) {
	f.dirCalls = append(f.dirCalls, d)
	if err := f.failPaths[d.Path]; err != nil {
		return false, err
	}
	if cur, ok := f.dirs[d.Path]; ok && cur == d {
		return false, nil
	}
	f.dirs[d.Path] = d
	return true, nil
}

func (f *fakeFiles) EnsureFile(_ context.Context, file domain.File) (bool, error) {
	f.fileCalls = append(f.fileCalls, file)
	if err := f.failPaths[file.Path]; err != nil {
		return false, err
	}
	if cur, ok := f.files[file.Path]; ok && cmp.Equal(cur, file) {
		return false, nil
	}
	f.files[file.Path] = file
	return true, nil
}

func (f *fakeFiles) paths() []string {
	var out []string
	for _, d := range f.dirCalls {
		out = append(out, d.Path+"/")
	}
	for _, file := range f.fileCalls {
		out = append(out, file.Path)
	}
	return out
}

type fakeMounts struct {
	remote []string
}

func (m fakeMounts) IsRemoteMount(_ context.Context, p string) (bool, error) {
	for _, prefix := range m.remote {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true, nil
		}
	}
	return false, nil
}

type fakeTags []string

func (t fakeTags) HasTag(tag string) bool {
	return slices.Contains(t, tag)
}

type fakePlatform struct {
	family string
	err    error
}

func (p fakePlatform) PlatformFamily(context.Context) (string, error) {
	return p.family, p.err
}
