package adapter

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
	"text/template"

	"github.com/rs/zerolog/log"

	"github.com/h2hsecure/usermanage/internal/domain"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// LocalFiles renders templated files on the local filesystem. Templates
// named <name>.tmpl in the override directory replace the built in ones.
type LocalFiles struct {
	// DryRun reports what would change without touching the filesystem.
	DryRun bool

	templates *template.Template
}

func NewLocalFiles(overrideDir string) (*LocalFiles, error) {
	t, err := template.New("files").Option("missingkey=error").ParseFS(defaultTemplates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	if overrideDir != "" {
		matches, err := filepath.Glob(filepath.Join(overrideDir, "*.tmpl"))
		if err != nil {
			return nil, fmt.Errorf("template dir %s: %w", overrideDir, err)
		}
		if len(matches) > 0 {
			if t, err = t.ParseFiles(matches...); err != nil {
				return nil, fmt.Errorf("parse templates in %s: %w", overrideDir, err)
			}
			log.Debug().Strs("templates", matches).Msg("using template overrides")
		}
	}

	return &LocalFiles{templates: t}, nil
}

func (l *LocalFiles) render(name string, vars map[string]any) ([]byte, error) {
	t := l.templates.Lookup(name + ".tmpl")
	if t == nil {
		return nil, fmt.Errorf("template %s: %w", name, domain.ErrNotFound)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// EnsureDirectory implements domain.FileManager. The parent directory must
// already exist.
func (l *LocalFiles) EnsureDirectory(ctx context.Context, d domain.Directory) (bool, error) {
	if l.DryRun {
		fi, err := os.Lstat(d.Path)
		changed := err != nil || !fi.IsDir() || fi.Mode().Perm() != d.Mode.Perm()
		log.Info().Str("path", d.Path).Bool("changed", changed).Msg("dry run, directory not touched")
		return changed, nil
	}

	uid, gid, err := resolveOwner(d.Owner, d.Group)
	if err != nil {
		return false, err
	}

	changed := false
	fi, err := os.Lstat(d.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Mkdir(d.Path, d.Mode.Perm()); err != nil {
			return false, fmt.Errorf("create directory: %w", err)
		}
		changed = true
		if fi, err = os.Lstat(d.Path); err != nil {
			return changed, err
		}
	case err != nil:
		return false, fmt.Errorf("stat %s: %w", d.Path, err)
	case !fi.IsDir():
		return false, fmt.Errorf("%s exists and is not a directory", d.Path)
	}

	fixed, err := fixAttributes(d.Path, fi, d.Mode, uid, gid)
	return changed || fixed, err
}

// EnsureFile implements domain.FileManager. Content is replaced atomically
// and only when it differs.
func (l *LocalFiles) EnsureFile(ctx context.Context, f domain.File) (bool, error) {
	content, err := l.render(f.Template, f.Variables)
	if err != nil {
		return false, err
	}

	if l.DryRun {
		cur, err := os.ReadFile(f.Path)
		changed := err != nil || !bytes.Equal(cur, content)
		log.Info().Str("path", f.Path).Bool("changed", changed).Msg("dry run, file not written")
		return changed, nil
	}

	if _, err := os.Stat(filepath.Dir(f.Path)); err != nil {
		return false, fmt.Errorf("parent of %s: %w", f.Path, err)
	}

	uid, gid, err := resolveOwner(f.Owner, f.Group)
	if err != nil {
		return false, err
	}

	cur, err := os.ReadFile(f.Path)
	switch {
	case err == nil && bytes.Equal(cur, content):
		fi, err := os.Lstat(f.Path)
		if err != nil {
			return false, err
		}
		return fixAttributes(f.Path, fi, f.Mode, uid, gid)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("read %s: %w", f.Path, err)
	}

	if err := writeFileAtomic(f.Path, content, f.Mode.Perm(), uid, gid); err != nil {
		return false, fmt.Errorf("write %s: %w", f.Path, err)
	}
	log.Debug().Str("path", f.Path).Str("template", f.Template).Msg("file written")
	return true, nil
}

// fixAttributes applies mode and ownership when they differ. A negative id
// leaves that id alone.
func fixAttributes(path string, fi fs.FileInfo, mode fs.FileMode, uid, gid int) (bool, error) {
	changed := false
	if fi.Mode().Perm() != mode.Perm() {
		if err := os.Chmod(path, mode.Perm()); err != nil {
			return changed, fmt.Errorf("chmod %s: %w", path, err)
		}
		changed = true
	}

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return changed, nil
	}
	if (uid >= 0 && int(st.Uid) != uid) || (gid >= 0 && int(st.Gid) != gid) {
		if err := os.Lchown(path, uid, gid); err != nil {
			return changed, fmt.Errorf("chown %s: %w", path, err)
		}
		changed = true
	}
	return changed, nil
}

func writeFileAtomic(path string, data []byte, perm fs.FileMode, uid, gid int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".usermanage-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if uid >= 0 || gid >= 0 {
		if err := tmp.Chown(uid, gid); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// resolveOwner maps user and group names, or numeric ids, to ids. Empty
// names resolve to -1.
func resolveOwner(owner, group string) (int, int, error) {
	uid, gid := -1, -1
	if owner != "" {
		id, err := lookupID(owner, func(name string) (string, error) {
			u, err := user.Lookup(name)
			if err != nil {
				return "", err
			}
			return u.Uid, nil
		})
		if err != nil {
			return uid, gid, fmt.Errorf("owner %s: %w", owner, err)
		}
		uid = id
	}
	if group != "" {
		id, err := lookupID(group, func(name string) (string, error) {
			g, err := user.LookupGroup(name)
			if err != nil {
				return "", err
			}
			return g.Gid, nil
		})
		if err != nil {
			return uid, gid, fmt.Errorf("group %s: %w", group, err)
		}
		gid = id
	}
	return uid, gid, nil
}

func lookupID(name string, lookup func(string) (string, error)) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	s, err := lookup(name)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(s)
}
