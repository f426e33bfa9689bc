package adapter

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
)

// remoteFsTypes are the filesystem types treated as network mounts.
var remoteFsTypes = map[string]bool{
	"nfs":            true,
	"nfs4":           true,
	"cifs":           true,
	"smbfs":          true,
	"smb3":           true,
	"9p":             true,
	"afs":            true,
	"ceph":           true,
	"glusterfs":      true,
	"fuse.glusterfs": true,
	"fuse.sshfs":     true,
	"lustre":         true,
	"davfs":          true,
	"ncpfs":          true,
}

// Mounts detects remote mounts from the mount table.
type Mounts struct {
	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
}

func NewMounts() *Mounts {
	return &Mounts{partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
		return disk.PartitionsWithContext(ctx, true)
	}}
}

// IsRemoteMount implements domain.MountDetector. The path does not need to
// exist: the mount with the longest mount point prefix decides.
func (m *Mounts) IsRemoteMount(ctx context.Context, path string) (bool, error) {
	parts, err := m.partitions(ctx)
	if err != nil {
		return false, fmt.Errorf("list mounts: %w", err)
	}

	path = filepath.Clean(path)
	var best *disk.PartitionStat
	for i := range parts {
		mp := filepath.Clean(parts[i].Mountpoint)
		if !underMount(path, mp) {
			continue
		}
		if best == nil || len(mp) > len(filepath.Clean(best.Mountpoint)) {
			best = &parts[i]
		}
	}
	if best == nil {
		return false, nil
	}
	return remoteFsTypes[strings.ToLower(best.Fstype)], nil
}

func underMount(path, mountpoint string) bool {
	if mountpoint == "/" || path == mountpoint {
		return true
	}
	return strings.HasPrefix(path, mountpoint+"/")
}

// Platform detects the platform family of the running host.
type Platform struct {
	goos string
	info func(ctx context.Context) (platform, family, version string, err error)
}

func NewPlatform() *Platform {
	return &Platform{goos: runtime.GOOS, info: host.PlatformInformationWithContext}
}

// PlatformFamily implements domain.PlatformDetector.
func (p *Platform) PlatformFamily(ctx context.Context) (string, error) {
	switch p.goos {
	case "darwin":
		return "mac_os_x", nil
	case "freebsd", "openbsd":
		return p.goos, nil
	}

	platform, family, _, err := p.info(ctx)
	if err != nil {
		return "", fmt.Errorf("platform information: %w", err)
	}
	family = strings.ToLower(family)
	if family == "" {
		family = strings.ToLower(platform)
	}
	switch family {
	case "ubuntu", "linuxmint", "raspbian":
		return "debian", nil
	case "centos", "redhat", "amazon", "oracle", "rocky", "almalinux":
		return "rhel", nil
	case "opensuse", "sles":
		return "suse", nil
	}
	return family, nil
}

// StaticTags is the tag list of the host, from the config.
type StaticTags []string

func (t StaticTags) HasTag(tag string) bool {
	return slices.Contains(t, tag)
}
