package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where LoadConfig looks when no path is given.
const DefaultConfigPath = "/etc/usermanage.yaml"

// Home content failure policies.
const (
	HomeFailureContinue = "continue"
	HomeFailureAbort    = "abort"
)

// Source types.
const (
	SourceDir      = "dir"
	SourceBolt     = "bolt"
	SourceLDAP     = "ldap"
	SourceKeycloak = "keycloak"
	SourceNone     = "none"
)

// Config is base config in /etc/usermanage.yaml
type Config struct {
	DataBag             string              `yaml:"data_bag"`
	SearchGroup         string              `yaml:"search_group"`
	GroupName           string              `yaml:"group_name"`
	GroupID             *int                `yaml:"group_id"`
	Environment         string              `yaml:"environment"`
	RequireEnvironments bool                `yaml:"require_environments"`
	ManageNFSHomeDirs   bool                `yaml:"manage_nfs_home_dirs"`
	PlatformFamily      string              `yaml:"platform_family"`
	HomeFailure         string              `yaml:"home_failure"`
	TemplateDir         string              `yaml:"template_dir"`
	SharedAccount       SharedAccountConfig `yaml:"shared_account"`
	OpenID              OpenIDConfig        `yaml:"openid"`
	Source              SourceConfig        `yaml:"source"`
	Accounts            AccountsConfig      `yaml:"accounts"`
	Daemon              DaemonConfig        `yaml:"daemon"`
	Tags                []string            `yaml:"tags"`
}

// SharedAccountConfig describes the privileged account receiving the keys
// of every record flagged with shared_account. It is only managed on hosts
// carrying Tag.
type SharedAccountConfig struct {
	Tag   string `yaml:"tag"`
	User  string `yaml:"user"`
	Group string `yaml:"group"`
	Shell string `yaml:"shell"`
}

type OpenIDConfig struct {
	AllowedFile string `yaml:"allowed_file"`
}

type SourceConfig struct {
	Type     string         `yaml:"type"`
	Dir      string         `yaml:"dir"`
	DBPath   string         `yaml:"db_path"`
	LDAP     LDAPConfig     `yaml:"ldap"`
	Keycloak KeycloakConfig `yaml:"keycloak"`
}

type LDAPConfig struct {
	URL          string `yaml:"url"`
	BindDN       string `yaml:"bind_dn"`
	BindPassword string `yaml:"bind_password"`
	BaseDN       string `yaml:"base_dn"`
	ObjectClass  string `yaml:"object_class"`
	// Attributes maps record fields to LDAP attribute names.
	Attributes map[string]string `yaml:"attributes"`
}

type KeycloakConfig struct {
	Server   string `yaml:"server"`
	ClientId string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Realm    string `yaml:"realm"`
}

// AccountsConfig names the shadow-utils commands used to change the host.
type AccountsConfig struct {
	Getent   string `yaml:"getent"`
	GroupAdd string `yaml:"groupadd"`
	GroupMod string `yaml:"groupmod"`
	GPasswd  string `yaml:"gpasswd"`
	UserAdd  string `yaml:"useradd"`
	UserMod  string `yaml:"usermod"`
	UserDel  string `yaml:"userdel"`
	DryRun   bool   `yaml:"dry_run"`
}

type DaemonConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig mirrors the defaults of the original users cookbook.
func DefaultConfig() *Config {
	return &Config{
		DataBag:     "users",
		SearchGroup: "sysadmin",
		GroupName:   "sysadmin",
		GroupID:     lo.ToPtr(2300),
		HomeFailure: HomeFailureContinue,
		SharedAccount: SharedAccountConfig{
			Tag:   "git",
			User:  "git",
			Group: "git",
			Shell: "/usr/bin/git-shell",
		},
		Source: SourceConfig{
			Type:   SourceDir,
			Dir:    "/var/lib/usermanage/data_bags",
			DBPath: "/var/lib/usermanage/records.db",
			LDAP: LDAPConfig{
				ObjectClass: "posixAccount",
			},
		},
		Accounts: AccountsConfig{
			Getent:   "getent",
			GroupAdd: "groupadd",
			GroupMod: "groupmod",
			GPasswd:  "gpasswd",
			UserAdd:  "useradd",
			UserMod:  "usermod",
			UserDel:  "userdel",
		},
		Daemon: DaemonConfig{Interval: 30 * time.Minute},
	}
}

// LoadConfig reads the YAML config at path over the defaults. A missing
// file is not an error: defaults are used and a warning is logged.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	cfg := DefaultConfig()

	cfgfile, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config file not found, using defaults")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(cfgfile, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks option combinations that would make a run meaningless.
func (c *Config) Validate() error {
	if c.SearchGroup == "" {
		return errors.New("search_group is required")
	}
	if c.GroupName == "" {
		return errors.New("group_name is required")
	}
	if c.RequireEnvironments && c.Environment == "" {
		return errors.New("environment is required when require_environments is set")
	}
	switch c.HomeFailure {
	case HomeFailureContinue, HomeFailureAbort:
	default:
		return fmt.Errorf("home_failure must be %q or %q, got %q", HomeFailureContinue, HomeFailureAbort, c.HomeFailure)
	}
	if c.SharedAccount.Tag != "" && (c.SharedAccount.User == "" || c.SharedAccount.Group == "") {
		return errors.New("shared_account needs user and group when tag is set")
	}
	for _, name := range []string{c.GroupName, c.SharedAccount.User, c.SharedAccount.Group} {
		if strings.HasPrefix(name, "-") {
			return fmt.Errorf("account and group names cannot start with '-': %q", name)
		}
	}
	return nil
}
