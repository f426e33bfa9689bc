package reconcile

import (
	"context"
	"fmt"
	"path"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// platformBaseDirs maps platform families to the root of user homes.
var platformBaseDirs = map[string]string{
	"mac_os_x":  "/Users",
	"debian":    "/home",
	"rhel":      "/home",
	"fedora":    "/home",
	"arch":      "/home",
	"suse":      "/home",
	"freebsd":   "/home",
	"openbsd":   "/home",
	"slackware": "/home",
	"gentoo":    "/home",
}

// ResolveBaseDir returns the home base directory of a platform family.
// Unknown families are a configuration error, there is no default.
func ResolveBaseDir(family string) (string, error) {
	dir, ok := platformBaseDirs[family]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnresolvedPlatform, family)
	}
	return dir, nil
}

// ResolveHomeDir returns the explicit home of the record or base/name.
func ResolveHomeDir(u domain.UserRecord, base string) string {
	if u.Home != "" {
		return u.Home
	}
	return path.Join(base, u.Name())
}

// ShouldManageHomeFiles reports whether the content of home may be managed:
// never for /dev/null, and for remote mounts only when nfsAllowed.
func ShouldManageHomeFiles(ctx context.Context, mounts domain.MountDetector, home string, nfsAllowed bool) (bool, error) {
	if home == domain.DevNull {
		return false, nil
	}
	if nfsAllowed || mounts == nil {
		return true, nil
	}
	remote, err := mounts.IsRemoteMount(ctx, home)
	if err != nil {
		return false, fmt.Errorf("detect mount of %s: %w", home, err)
	}
	return !remote, nil
}
