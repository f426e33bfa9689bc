package reconcile

import (
	"context"
	"path"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// Template names understood by the file manager.
const (
	TemplateAuthorizedKeys = "authorized_keys"
	TemplatePrivateKey     = "private_key"
	TemplatePublicKey      = "public_key"
	TemplateAllowedOpenIDs = "allowed_openids"
)

// reconcileHome converges the .ssh directory and the key files of a record.
// Files whose field is absent are left alone. A failing .ssh directory stops
// the key files, the other steps are independent of each other.
func (p *Provisioner) reconcileHome(ctx context.Context, rec domain.UserRecord, home string, rep *Report) (domain.HomeDirectorySpec, []error) {
	name := rec.Name()
	hd := domain.HomeDirectorySpec{
		Path:   home,
		Owner:  name,
		Group:  rec.PrimaryGroup(),
		Manage: true,
	}
	sshDir := path.Join(home, ".ssh")

	changed, err := p.files.EnsureDirectory(ctx, domain.Directory{
		Path:  sshDir,
		Owner: hd.Owner,
		Group: hd.Group,
		Mode:  0o700,
	})
	if err != nil {
		return hd, []error{&domain.StepError{Record: name, Step: domain.StepSSHDir, Err: err}}
	}
	rep.record(name, domain.StepSSHDir, changed)

	var errs []error
	step := func(s domain.Step, f domain.File) {
		changed, err := p.files.EnsureFile(ctx, f)
		if err != nil {
			errs = append(errs, &domain.StepError{Record: name, Step: s, Err: err})
			return
		}
		rep.record(name, s, changed)
	}

	if len(rec.SSHKeys) > 0 {
		hd.AuthorizedKeys = true
		warnUnparsableKeys(name, rec.SSHKeys)
		step(domain.StepAuthorizedKeys, domain.File{
			Path:      path.Join(sshDir, "authorized_keys"),
			Template:  TemplateAuthorizedKeys,
			Owner:     hd.Owner,
			Group:     hd.Group,
			Mode:      0o600,
			Variables: map[string]any{"Keys": rec.SSHKeys},
		})
	}

	if rec.SSHPrivateKey != nil {
		hd.PrivateKeyType = PrivateKeyType(*rec.SSHPrivateKey)
		step(domain.StepPrivateKey, domain.File{
			Path:      path.Join(sshDir, "id_"+hd.PrivateKeyType),
			Template:  TemplatePrivateKey,
			Owner:     rec.KeyOwner(),
			Group:     rec.KeyGroup(),
			Mode:      0o400,
			Variables: map[string]any{"PrivateKey": *rec.SSHPrivateKey},
		})
	}

	if rec.SSHPublicKey != nil {
		hd.PublicKeyType = PublicKeyType(*rec.SSHPublicKey)
		step(domain.StepPublicKey, domain.File{
			Path:      path.Join(sshDir, "id_"+hd.PublicKeyType+".pub"),
			Template:  TemplatePublicKey,
			Owner:     rec.KeyOwner(),
			Group:     rec.KeyGroup(),
			Mode:      0o400,
			Variables: map[string]any{"PublicKey": *rec.SSHPublicKey},
		})
	}

	return hd, errs
}

// warnUnparsableKeys logs keys sshd would most likely reject. They are still
// written, the data bag stays authoritative.
func warnUnparsableKeys(user string, keys []string) {
	for i, key := range keys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			log.Warn().Err(err).Str("user", user).Int("index", i).Msg("ssh key does not parse")
		}
	}
}
