package adapter

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/domain"
)

const (
	// getent exit code 2: one or more supplied key could not be found in
	// the database.
	getentNoSuchKey = 2

	// shadow-utils exit codes for a uid or gid, and a name, already in use.
	exitIDInUse   = 4
	exitNameInUse = 9
)

// ShadowAccounts manages accounts with getent and the shadow-utils
// commands found on Linux distributions.
type ShadowAccounts struct {
	cmds domain.AccountsConfig
	run  Runner
}

func NewShadowAccounts(cmds domain.AccountsConfig, run Runner) *ShadowAccounts {
	return &ShadowAccounts{cmds: cmds, run: run}
}

type groupEntry struct {
	name    string
	gid     int
	members []string
}

type passwdEntry struct {
	name    string
	uid     int
	gid     int
	comment string
	home    string
	shell   string
}

// getent returns the first entry for key, ok is false when there is none.
func (s *ShadowAccounts) getent(ctx context.Context, db, key string) (string, bool, error) {
	out, err := s.run.Run(ctx, s.cmds.Getent, db, key)
	if exitCode(err) == getentNoSuchKey {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getent %s %s: %w", db, key, err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return line, true, nil
}

func (s *ShadowAccounts) lookupGroup(ctx context.Context, key string) (*groupEntry, error) {
	line, ok, err := s.getent(ctx, "group", key)
	if err != nil || !ok {
		return nil, err
	}

	// sysadmin:x:2300:alice,bob
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 4 {
		return nil, fmt.Errorf("invalid group entry %q", line)
	}
	gid, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid gid in group entry %q: %w", line, err)
	}

	g := &groupEntry{name: parts[0], gid: gid}
	if parts[3] != "" {
		g.members = strings.Split(parts[3], ",")
	}
	return g, nil
}

func (s *ShadowAccounts) lookupUser(ctx context.Context, key string) (*passwdEntry, error) {
	line, ok, err := s.getent(ctx, "passwd", key)
	if err != nil || !ok {
		return nil, err
	}

	// alice:x:2001:5000:Alice:/home/alice:/bin/bash
	parts := strings.SplitN(line, ":", 7)
	if len(parts) < 7 {
		return nil, fmt.Errorf("invalid passwd entry %q", line)
	}
	uid, err := strconv.Atoi(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid uid in passwd entry %q: %w", line, err)
	}
	gid, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("invalid gid in passwd entry %q: %w", line, err)
	}

	return &passwdEntry{
		name:    parts[0],
		uid:     uid,
		gid:     gid,
		comment: parts[4],
		home:    parts[5],
		shell:   parts[6],
	}, nil
}

// shadowPassword returns the password field of the shadow entry.
func (s *ShadowAccounts) shadowPassword(ctx context.Context, name string) (string, error) {
	line, ok, err := s.getent(ctx, "shadow", name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("shadow entry %s: %w", name, domain.ErrNotFound)
	}
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid shadow entry for %s", name)
	}
	return parts[1], nil
}

// mutate runs a command changing the host, or only logs it in dry run.
func (s *ShadowAccounts) mutate(ctx context.Context, name string, args ...string) error {
	logged := redact(args)
	if s.cmds.DryRun {
		log.Info().Str("cmd", name).Strs("args", logged).Msg("dry run, not running")
		return nil
	}

	log.Debug().Str("cmd", name).Strs("args", logged).Msg("running")
	_, err := s.run.Run(ctx, name, args...)
	switch exitCode(err) {
	case -1, 0:
	case exitIDInUse, exitNameInUse:
		return fmt.Errorf("%w: %w", domain.ErrPrimitiveConflict, err)
	}
	return err
}

// redact hides the value following -p.
func redact(args []string) []string {
	out := slices.Clone(args)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "-p" {
			out[i+1] = "********"
		}
	}
	return out
}

// EnsureGroup implements domain.AccountManager.
func (s *ShadowAccounts) EnsureGroup(ctx context.Context, g domain.Group) (bool, error) {
	cur, err := s.lookupGroup(ctx, g.Name)
	if err != nil {
		return false, err
	}
	if cur != nil && g.CreateOnly {
		return false, nil
	}

	if g.GID != nil && (cur == nil || cur.gid != *g.GID) {
		owner, err := s.lookupGroup(ctx, strconv.Itoa(*g.GID))
		if err != nil {
			return false, err
		}
		if owner != nil && owner.name != g.Name {
			return false, fmt.Errorf("%w: gid %d of group %s belongs to %s", domain.ErrPrimitiveConflict, *g.GID, g.Name, owner.name)
		}
	}

	changed := false
	switch {
	case cur == nil:
		var args []string
		if g.GID != nil {
			args = append(args, "-g", strconv.Itoa(*g.GID))
		}
		if err := s.mutate(ctx, s.cmds.GroupAdd, append(args, g.Name)...); err != nil {
			return false, fmt.Errorf("create group %s: %w", g.Name, err)
		}
		cur = &groupEntry{name: g.Name}
		changed = true
	case g.GID != nil && cur.gid != *g.GID:
		if err := s.mutate(ctx, s.cmds.GroupMod, "-g", strconv.Itoa(*g.GID), g.Name); err != nil {
			return false, fmt.Errorf("change gid of group %s: %w", g.Name, err)
		}
		changed = true
	}

	if g.ReplaceMembers && !sameMembers(cur.members, g.Members) {
		if err := s.mutate(ctx, s.cmds.GPasswd, "-M", strings.Join(g.Members, ","), g.Name); err != nil {
			return false, fmt.Errorf("set members of group %s: %w", g.Name, err)
		}
		changed = true
	}

	if changed {
		log.Info().Str("group", g.Name).Strs("members", g.Members).Msg("group converged")
	}
	return changed, nil
}

func sameMembers(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

// EnsureAccount implements domain.AccountManager.
func (s *ShadowAccounts) EnsureAccount(ctx context.Context, a domain.Account) (bool, error) {
	switch a.Action {
	case domain.ActionRemove:
		return s.removeUser(ctx, a.Name)
	case domain.ActionLock:
		return s.lockUser(ctx, a.Name)
	case domain.ActionCreate, domain.ActionModify:
		return s.convergeUser(ctx, a)
	}
	return false, fmt.Errorf("user %s: %w: %q", a.Name, domain.ErrInvalidAction, a.Action)
}

// removeUser deletes the account and keeps its home directory.
func (s *ShadowAccounts) removeUser(ctx context.Context, name string) (bool, error) {
	cur, err := s.lookupUser(ctx, name)
	if err != nil || cur == nil {
		return false, err
	}
	if err := s.mutate(ctx, s.cmds.UserDel, name); err != nil {
		return false, fmt.Errorf("remove user %s: %w", name, err)
	}
	return true, nil
}

func (s *ShadowAccounts) lockUser(ctx context.Context, name string) (bool, error) {
	cur, err := s.lookupUser(ctx, name)
	if err != nil {
		return false, err
	}
	if cur == nil {
		return false, fmt.Errorf("lock user %s: %w", name, domain.ErrNotFound)
	}

	pw, err := s.shadowPassword(ctx, name)
	if err != nil {
		return false, err
	}
	if strings.HasPrefix(pw, "!") {
		return false, nil
	}

	if err := s.mutate(ctx, s.cmds.UserMod, "-L", name); err != nil {
		return false, fmt.Errorf("lock user %s: %w", name, err)
	}
	return true, nil
}

func (s *ShadowAccounts) convergeUser(ctx context.Context, a domain.Account) (bool, error) {
	cur, err := s.lookupUser(ctx, a.Name)
	if err != nil {
		return false, err
	}

	if a.UID != nil && (cur == nil || cur.uid != *a.UID) {
		owner, err := s.lookupUser(ctx, strconv.Itoa(*a.UID))
		if err != nil {
			return false, err
		}
		if owner != nil && owner.name != a.Name {
			return false, fmt.Errorf("%w: uid %d of user %s belongs to %s", domain.ErrPrimitiveConflict, *a.UID, a.Name, owner.name)
		}
	}

	if cur == nil {
		if a.Action == domain.ActionModify {
			return false, fmt.Errorf("modify user %s: %w", a.Name, domain.ErrNotFound)
		}
		if err := s.mutate(ctx, s.cmds.UserAdd, append(userAddArgs(a), a.Name)...); err != nil {
			return false, fmt.Errorf("create user %s: %w", a.Name, err)
		}
		return true, nil
	}

	args, err := s.userModArgs(ctx, cur, a)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}
	if err := s.mutate(ctx, s.cmds.UserMod, append(args, a.Name)...); err != nil {
		return false, fmt.Errorf("modify user %s: %w", a.Name, err)
	}
	return true, nil
}

func userAddArgs(a domain.Account) []string {
	var args []string
	if a.UID != nil {
		args = append(args, "-u", strconv.Itoa(*a.UID))
	}
	if a.Group != nil {
		args = append(args, "-g", a.Group.String())
	}
	if a.Shell != "" {
		args = append(args, "-s", a.Shell)
	}
	if a.Comment != "" {
		args = append(args, "-c", a.Comment)
	}
	if a.Password != nil {
		args = append(args, "-p", *a.Password)
	}
	if a.Home != "" {
		args = append(args, "-d", a.Home)
	}
	if a.ManageHome {
		args = append(args, "-m")
	} else {
		args = append(args, "-M")
	}
	return args
}

// userModArgs returns the usermod options converging cur to a, none when
// the account is already in the desired state.
func (s *ShadowAccounts) userModArgs(ctx context.Context, cur *passwdEntry, a domain.Account) ([]string, error) {
	var args []string
	if a.UID != nil && cur.uid != *a.UID {
		args = append(args, "-u", strconv.Itoa(*a.UID))
	}

	if a.Group != nil {
		gid, numeric := a.Group.Numeric()
		if !numeric {
			g, err := s.lookupGroup(ctx, a.Group.String())
			if err != nil {
				return nil, err
			}
			gid = -1
			if g != nil {
				gid = g.gid
			}
		}
		if gid != cur.gid {
			args = append(args, "-g", a.Group.String())
		}
	}

	if a.Shell != "" && a.Shell != cur.shell {
		args = append(args, "-s", a.Shell)
	}
	if a.Comment != "" && a.Comment != cur.comment {
		args = append(args, "-c", a.Comment)
	}
	if a.Home != "" && a.Home != cur.home {
		args = append(args, "-d", a.Home)
		if a.ManageHome {
			args = append(args, "-m")
		}
	}

	if a.Password != nil {
		pw, err := s.shadowPassword(ctx, a.Name)
		if err != nil {
			return nil, err
		}
		if pw != *a.Password {
			args = append(args, "-p", *a.Password)
		}
	}

	return args, nil
}
