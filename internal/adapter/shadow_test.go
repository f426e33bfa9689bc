package adapter_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/samber/lo"

	"github.com/h2hsecure/usermanage/internal/adapter"
	"github.com/h2hsecure/usermanage/internal/domain"
)

type fakeResponse struct {
	out  string
	code int
}

// fakeRunner answers getent from a fixed table, unknown keys exit 2, and
// records every command.
type fakeRunner struct {
	responses map[string]fakeResponse
	calls     []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, cmd)
	resp, ok := r.responses[cmd]
	if !ok {
		if name == "getent" {
			return "", &adapter.CommandError{Name: name, Code: 2}
		}
		return "", nil
	}
	if resp.code != 0 {
		return resp.out, &adapter.CommandError{Name: name, Code: resp.code, Stderr: "failed"}
	}
	return resp.out, nil
}

func (r *fakeRunner) mutations() []string {
	return lo.Filter(r.calls, func(c string, _ int) bool { return !strings.HasPrefix(c, "getent ") })
}

func newShadow(responses map[string]fakeResponse) (*adapter.ShadowAccounts, *fakeRunner) {
	run := &fakeRunner{responses: responses}
	return adapter.NewShadowAccounts(domain.DefaultConfig().Accounts, run), run
}

func TestEnsureGroupCreates(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{})

	changed, err := s.EnsureGroup(context.Background(), domain.Group{
		Name: "sysadmin", GID: lo.ToPtr(2300), Members: []string{"alice", "bob"}, ReplaceMembers: true,
	})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(Equal([]string{
		"groupadd -g 2300 sysadmin",
		"gpasswd -M alice,bob sysadmin",
	}))
}

func TestEnsureGroupIdempotent(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent group sysadmin": {out: "sysadmin:x:2300:bob,alice\n"},
	})

	changed, err := s.EnsureGroup(context.Background(), domain.Group{
		Name: "sysadmin", GID: lo.ToPtr(2300), Members: []string{"alice", "bob"}, ReplaceMembers: true,
	})
	Expect(err).To(BeNil())
	Expect(changed).To(BeFalse())
	Expect(run.mutations()).To(BeEmpty())
}

func TestEnsureGroupReplacesMembers(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent group sysadmin": {out: "sysadmin:x:2300:alice,mallory"},
	})

	changed, err := s.EnsureGroup(context.Background(), domain.Group{
		Name: "sysadmin", GID: lo.ToPtr(2300), Members: []string{"alice", "bob"}, ReplaceMembers: true,
	})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(Equal([]string{"gpasswd -M alice,bob sysadmin"}))

	// an empty desired list clears the group
	_, err = s.EnsureGroup(context.Background(), domain.Group{Name: "sysadmin", ReplaceMembers: true})
	Expect(err).To(BeNil())
	Expect(run.mutations()[1]).To(Equal("gpasswd -M  sysadmin"))
}

func TestEnsureGroupChangesGID(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent group sysadmin": {out: "sysadmin:x:2200:"},
	})

	changed, err := s.EnsureGroup(context.Background(), domain.Group{Name: "sysadmin", GID: lo.ToPtr(2300)})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(Equal([]string{"groupmod -g 2300 sysadmin"}))
}

func TestEnsureGroupCreateOnly(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent group alice": {out: "alice:x:4000:"},
	})

	changed, err := s.EnsureGroup(context.Background(), domain.Group{Name: "alice", GID: lo.ToPtr(5000), CreateOnly: true})
	Expect(err).To(BeNil())
	Expect(changed).To(BeFalse())
	Expect(run.mutations()).To(BeEmpty())
}

func TestEnsureGroupGIDConflict(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent group 5000": {out: "staff:x:5000:"},
	})

	_, err := s.EnsureGroup(context.Background(), domain.Group{Name: "alice", GID: lo.ToPtr(5000), CreateOnly: true})
	Expect(errors.Is(err, domain.ErrPrimitiveConflict)).To(BeTrue())
	Expect(run.mutations()).To(BeEmpty())
}

func TestEnsureGroupExitCodeConflict(t *testing.T) {
	RegisterTestingT(t)
	s, _ := newShadow(map[string]fakeResponse{
		"groupadd -g 5000 alice": {code: 4},
	})

	_, err := s.EnsureGroup(context.Background(), domain.Group{Name: "alice", GID: lo.ToPtr(5000)})
	Expect(errors.Is(err, domain.ErrPrimitiveConflict)).To(BeTrue())
}

func TestEnsureAccountCreates(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{})

	changed, err := s.EnsureAccount(context.Background(), domain.Account{
		Name:       "alice",
		UID:        lo.ToPtr(2001),
		Group:      domain.GroupID(5000),
		Shell:      "/bin/zsh",
		Comment:    "Alice Example",
		Password:   lo.ToPtr("$6$salt$hash"),
		Home:       "/home/alice",
		ManageHome: true,
		Action:     domain.ActionCreate,
	})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(Equal([]string{
		"useradd -u 2001 -g 5000 -s /bin/zsh -c Alice Example -p $6$salt$hash -d /home/alice -m alice",
	}))
}

func TestEnsureAccountDevNullHome(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{})

	_, err := s.EnsureAccount(context.Background(), domain.Account{
		Name: "carol", Home: domain.DevNull, Action: domain.ActionCreate,
	})
	Expect(err).To(BeNil())
	Expect(run.mutations()).To(Equal([]string{"useradd -d /dev/null -M carol"}))
}

func TestEnsureAccountUpToDate(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent passwd alice": {out: "alice:x:2001:5000:Alice Example:/home/alice:/bin/zsh\n"},
		"getent shadow alice": {out: "alice:$6$salt$hash:19000:0:99999:7:::\n"},
		"getent group staff":  {out: "staff:x:5000:"},
	})

	changed, err := s.EnsureAccount(context.Background(), domain.Account{
		Name:       "alice",
		UID:        lo.ToPtr(2001),
		Group:      domain.GroupName("staff"),
		Shell:      "/bin/zsh",
		Comment:    "Alice Example",
		Password:   lo.ToPtr("$6$salt$hash"),
		Home:       "/home/alice",
		ManageHome: true,
		Action:     domain.ActionCreate,
	})
	Expect(err).To(BeNil())
	Expect(changed).To(BeFalse())
	Expect(run.mutations()).To(BeEmpty())
}

func TestEnsureAccountModifies(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent passwd alice": {out: "alice:x:2001:100::/home/alice:/bin/bash"},
		"getent shadow alice": {out: "alice:$6$old$hash:19000::::::"},
	})

	changed, err := s.EnsureAccount(context.Background(), domain.Account{
		Name:       "alice",
		Group:      domain.GroupID(5000),
		Shell:      "/bin/zsh",
		Password:   lo.ToPtr("$6$new$hash"),
		Home:       "/srv/alice",
		ManageHome: true,
		Action:     domain.ActionModify,
	})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(Equal([]string{
		"usermod -g 5000 -s /bin/zsh -d /srv/alice -m -p $6$new$hash alice",
	}))
}

func TestEnsureAccountModifyMissing(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{})

	_, err := s.EnsureAccount(context.Background(), domain.Account{Name: "ghost", Action: domain.ActionModify})
	Expect(errors.Is(err, domain.ErrNotFound)).To(BeTrue())
	Expect(run.mutations()).To(BeEmpty())
}

func TestEnsureAccountUIDConflict(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent passwd 2001": {out: "bob:x:2001:2001::/home/bob:/bin/bash"},
	})

	_, err := s.EnsureAccount(context.Background(), domain.Account{Name: "alice", UID: lo.ToPtr(2001), Action: domain.ActionCreate})
	Expect(errors.Is(err, domain.ErrPrimitiveConflict)).To(BeTrue())
	Expect(run.mutations()).To(BeEmpty())
}

func TestEnsureAccountRemove(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent passwd gone": {out: "gone:x:3000:3000::/home/gone:/bin/bash"},
	})

	changed, err := s.EnsureAccount(context.Background(), domain.Account{Name: "gone", Action: domain.ActionRemove})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(Equal([]string{"userdel gone"}))

	changed, err = s.EnsureAccount(context.Background(), domain.Account{Name: "never", Action: domain.ActionRemove})
	Expect(err).To(BeNil())
	Expect(changed).To(BeFalse())
}

func TestEnsureAccountRemoveFailure(t *testing.T) {
	RegisterTestingT(t)
	s, _ := newShadow(map[string]fakeResponse{
		"getent passwd gone": {out: "gone:x:3000:3000::/home/gone:/bin/bash"},
		"userdel gone":       {code: 8},
	})

	_, err := s.EnsureAccount(context.Background(), domain.Account{Name: "gone", Action: domain.ActionRemove})
	Expect(err).NotTo(BeNil())

	var ce *adapter.CommandError
	Expect(errors.As(err, &ce)).To(BeTrue())
	Expect(ce.ExitCode()).To(Equal(8))
}

func TestEnsureAccountLock(t *testing.T) {
	RegisterTestingT(t)
	s, run := newShadow(map[string]fakeResponse{
		"getent passwd dave": {out: "dave:x:3001:3001::/home/dave:/bin/bash"},
		"getent shadow dave": {out: "dave:$6$x$y:19000::::::"},
		"getent passwd erin": {out: "erin:x:3002:3002::/home/erin:/bin/bash"},
		"getent shadow erin": {out: "erin:!$6$x$y:19000::::::"},
	})
	ctx := context.Background()

	changed, err := s.EnsureAccount(ctx, domain.Account{Name: "dave", Action: domain.ActionLock})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())

	changed, err = s.EnsureAccount(ctx, domain.Account{Name: "erin", Action: domain.ActionLock})
	Expect(err).To(BeNil())
	Expect(changed).To(BeFalse())

	_, err = s.EnsureAccount(ctx, domain.Account{Name: "frank", Action: domain.ActionLock})
	Expect(errors.Is(err, domain.ErrNotFound)).To(BeTrue())

	Expect(run.mutations()).To(Equal([]string{"usermod -L dave"}))
}

func TestEnsureAccountInvalidAction(t *testing.T) {
	RegisterTestingT(t)
	s, _ := newShadow(map[string]fakeResponse{})

	_, err := s.EnsureAccount(context.Background(), domain.Account{Name: "alice", Action: "manage"})
	Expect(errors.Is(err, domain.ErrInvalidAction)).To(BeTrue())
}

func TestShadowDryRun(t *testing.T) {
	RegisterTestingT(t)
	cmds := domain.DefaultConfig().Accounts
	cmds.DryRun = true
	run := &fakeRunner{responses: map[string]fakeResponse{}}
	s := adapter.NewShadowAccounts(cmds, run)

	changed, err := s.EnsureAccount(context.Background(), domain.Account{Name: "alice", Home: "/home/alice", ManageHome: true, Action: domain.ActionCreate})
	Expect(err).To(BeNil())
	Expect(changed).To(BeTrue())
	Expect(run.mutations()).To(BeEmpty())
	Expect(run.calls).To(Equal([]string{"getent passwd alice"}))
}
