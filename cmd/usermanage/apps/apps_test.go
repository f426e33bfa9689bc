package apps

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GehirnInc/crypt/sha512_crypt"
	. "github.com/onsi/gomega"

	"github.com/h2hsecure/usermanage/internal/adapter"
	"github.com/h2hsecure/usermanage/internal/reconcile"
)

func useConfig(t *testing.T, cfg string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "usermanage.yaml")
	Expect(os.WriteFile(path, []byte(cfg), 0o600)).To(Succeed())

	ConfigPath, LogLevel = path, "error"
	t.Cleanup(func() { ConfigPath, LogLevel = "", "" })
}

func writeConfig(t *testing.T, dbPath string) {
	t.Helper()
	useConfig(t, "data_bag: users\nsource:\n  type: bolt\n  db_path: "+dbPath+"\n")
}

// shadowHost is a data bag directory plus stand-in shadow-utils commands.
// getent only knows the passwd entry of "gone"; every other command appends
// its invocation to a log file.
type shadowHost struct {
	dir string
	log string
}

func newShadowHost(t *testing.T, dryRun bool) *shadowHost {
	t.Helper()
	h := &shadowHost{dir: t.TempDir()}
	h.log = filepath.Join(h.dir, "commands.log")

	bag := filepath.Join(h.dir, "bags", "users")
	Expect(os.MkdirAll(bag, 0o755)).To(Succeed())
	for name, item := range map[string]string{
		"alice.json": `{"id":"alice","groups":["sysadmin"],"home":"/dev/null","password":"$6$salt$SECRETHASH"}`,
		"bob.json":   `{"id":"bob","groups":["developers"],"home":"/dev/null"}`,
		"gone.json":  `{"id":"gone","groups":["sysadmin"],"action":"remove"}`,
	} {
		Expect(os.WriteFile(filepath.Join(bag, name), []byte(item), 0o600)).To(Succeed())
	}

	bin := filepath.Join(h.dir, "bin")
	Expect(os.Mkdir(bin, 0o755)).To(Succeed())
	getent := "#!/bin/sh\nif [ \"$1\" = passwd ] && [ \"$2\" = gone ]; then echo 'gone:x:3000:3000::/home/gone:/bin/sh'; exit 0; fi\nexit 2\n"
	Expect(os.WriteFile(filepath.Join(bin, "getent"), []byte(getent), 0o755)).To(Succeed())

	cfg := "data_bag: users\nplatform_family: debian\nsource:\n  type: dir\n  dir: " + filepath.Join(h.dir, "bags") + "\naccounts:\n  getent: " + filepath.Join(bin, "getent") + "\n"
	for _, cmd := range []string{"groupadd", "groupmod", "gpasswd", "useradd", "usermod", "userdel"} {
		script := "#!/bin/sh\necho \"" + cmd + " $*\" >> " + h.log + "\n"
		Expect(os.WriteFile(filepath.Join(bin, cmd), []byte(script), 0o755)).To(Succeed())
		cfg += "  " + cmd + ": " + filepath.Join(bin, cmd) + "\n"
	}
	if dryRun {
		cfg += "  dry_run: true\n"
	}
	useConfig(t, cfg)
	return h
}

func (h *shadowHost) commands() []string {
	b, err := os.ReadFile(h.log)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	Expect(err).To(BeNil())
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestHashPassword(t *testing.T) {
	RegisterTestingT(t)

	hash, err := HashPassword([]string{"s3cret"})
	Expect(err).To(BeNil())
	Expect(hash).To(HavePrefix("$6$"))
	Expect(sha512_crypt.New().Verify(hash, []byte("s3cret"))).To(Succeed())

	_, err = HashPassword([]string{""})
	Expect(err).To(MatchError("empty password"))
}

func TestImportIntoBolt(t *testing.T) {
	RegisterTestingT(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "records.db")
	writeConfig(t, dbPath)

	item := filepath.Join(dir, "alice.yaml")
	Expect(os.WriteFile(item, []byte("uid: 2001\ngid: 5000\ngroups: [sysadmin]\nssh_keys:\n  - ssh-ed25519 AAAA alice\n"), 0o600)).To(Succeed())

	Expect(Import(context.Background(), []string{item})).To(Succeed())

	db, err := adapter.NewBoltStore(dbPath, "users", true)
	Expect(err).To(BeNil())
	defer func() { _ = db.Close() }()

	rec, err := db.ReadRecord(context.Background(), "alice")
	Expect(err).To(BeNil())
	Expect(*rec.UID).To(Equal(2001))
	Expect(rec.Groups).To(Equal([]string{"sysadmin"}))
}

func TestImportRejectsInvalidRecord(t *testing.T) {
	RegisterTestingT(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, "records.db"))

	item := filepath.Join(dir, "bad.json")
	Expect(os.WriteFile(item, []byte(`{"id":"bad","action":"explode"}`), 0o600)).To(Succeed())

	err := Import(context.Background(), []string{item})
	Expect(err).NotTo(BeNil())
	Expect(err.Error()).To(ContainSubstring("bad.json"))
}

func TestFinish(t *testing.T) {
	RegisterTestingT(t)

	Expect(finish(nil)).To(Succeed())
	Expect(finish(&reconcile.Report{})).To(Succeed())

	err := finish(&reconcile.Report{Failures: []error{errors.New("a"), errors.New("b")}})
	Expect(err).To(MatchError("2 steps failed"))
}

func TestQueryPrintsMatchingRecordsWithoutPasswords(t *testing.T) {
	RegisterTestingT(t)
	newShadowHost(t, true)

	var out bytes.Buffer
	Expect(Query(context.Background(), &out, "groups:sysadmin AND NOT action:remove")).To(Succeed())

	Expect(out.String()).To(ContainSubstring("id: alice"))
	Expect(out.String()).NotTo(ContainSubstring("bob"))
	Expect(out.String()).NotTo(ContainSubstring("gone"))
	Expect(out.String()).NotTo(ContainSubstring("SECRETHASH"))
	Expect(out.String()).NotTo(ContainSubstring("password"))

	Expect(Query(context.Background(), &out, "groups:(")).NotTo(Succeed())
}

func TestCreateRunsShadowUtils(t *testing.T) {
	RegisterTestingT(t)
	h := newShadowHost(t, false)

	Expect(Create(context.Background())).To(Succeed())

	Expect(h.commands()).To(Equal([]string{
		"useradd -p $6$salt$SECRETHASH -d /dev/null -M alice",
		"groupadd -g 2300 sysadmin",
		"gpasswd -M alice sysadmin",
	}))
}

func TestRemoveDeletesFlaggedUsers(t *testing.T) {
	RegisterTestingT(t)
	h := newShadowHost(t, false)

	Expect(Remove(context.Background())).To(Succeed())

	Expect(h.commands()).To(Equal([]string{"userdel gone"}))
}

func TestApplyDryRunChangesNothing(t *testing.T) {
	RegisterTestingT(t)
	h := newShadowHost(t, false)

	Expect(Apply(context.Background(), true)).To(Succeed())
	Expect(h.commands()).To(BeEmpty())

	h = newShadowHost(t, true)
	Expect(Create(context.Background())).To(Succeed())
	Expect(h.commands()).To(BeEmpty())
}

func TestScheduleFinishesPassAfterCancel(t *testing.T) {
	RegisterTestingT(t)
	ctx, cancel := context.WithCancel(context.Background())

	var passes int
	err := schedule(ctx, time.Millisecond, func(passCtx context.Context) error {
		passes++
		cancel()
		Expect(passCtx.Err()).To(BeNil())
		return errors.New("failed pass is only logged")
	})

	Expect(err).To(MatchError(context.Canceled))
	Expect(passes).To(Equal(1))
}
