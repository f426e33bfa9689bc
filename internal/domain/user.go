package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DevNull is the home directory of accounts that must not get a managed home.
const DevNull = "/dev/null"

// UserRecord is one data bag item describing the desired state of a user.
type UserRecord struct {
	ID            string    `json:"id" yaml:"id"`
	Username      string    `json:"username,omitempty" yaml:"username,omitempty"`
	UID           *int      `json:"uid,omitempty" yaml:"uid,omitempty"`
	GID           *GroupRef `json:"gid,omitempty" yaml:"gid,omitempty"`
	Shell         string    `json:"shell,omitempty" yaml:"shell,omitempty"`
	Comment       string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	Password      *string   `json:"password,omitempty" yaml:"password,omitempty"`
	Home          string    `json:"home,omitempty" yaml:"home,omitempty"`
	Action        *Action   `json:"action,omitempty" yaml:"action,omitempty"`
	SSHKeys       []string  `json:"ssh_keys,omitempty" yaml:"ssh_keys,omitempty"`
	SSHPrivateKey *string   `json:"ssh_private_key,omitempty" yaml:"ssh_private_key,omitempty"`
	SSHPublicKey  *string   `json:"ssh_public_key,omitempty" yaml:"ssh_public_key,omitempty"`
	OpenIDs       OpenIDs   `json:"openid,omitempty" yaml:"openid,omitempty"`
	Groups        []string  `json:"groups,omitempty" yaml:"groups,omitempty"`
	Environments  []string  `json:"environments,omitempty" yaml:"environments,omitempty"`
	SharedAccount bool      `json:"shared_account,omitempty" yaml:"shared_account,omitempty"`
}

// Name is the account name of the record: username, or the item id when
// no username is set.
func (u UserRecord) Name() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// PrimaryGroup is the group owning the user's managed files: the gid when
// given, the account name otherwise.
func (u UserRecord) PrimaryGroup() string {
	if u.GID != nil {
		return u.GID.String()
	}
	return u.Name()
}

// KeyOwner owns the private and public key files. Key files are owned by
// the item id rather than the username.
func (u UserRecord) KeyOwner() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Name()
}

// KeyGroup is the group of the private and public key files.
func (u UserRecord) KeyGroup() string {
	if u.GID != nil {
		return u.GID.String()
	}
	return u.KeyOwner()
}

// EffectiveAction returns the record action, ActionCreate when unset.
func (u UserRecord) EffectiveAction() Action {
	if u.Action == nil {
		return ActionCreate
	}
	return *u.Action
}

// Validate checks the invariants a record must hold before anything is
// applied for it.
func (u UserRecord) Validate() error {
	if strings.TrimSpace(u.Name()) == "" {
		return fmt.Errorf("%w: neither username nor id set", ErrInvalidRecord)
	}
	if strings.ContainsAny(u.Name(), ": \t\n") || strings.HasPrefix(u.Name(), "-") {
		return fmt.Errorf("%w: username %q", ErrInvalidRecord, u.Name())
	}
	if u.GID != nil && strings.HasPrefix(u.GID.String(), "-") {
		return fmt.Errorf("%w: user %s gid %q", ErrInvalidRecord, u.Name(), u.GID.String())
	}
	if u.Action != nil {
		if err := u.Action.Validate(); err != nil {
			return fmt.Errorf("user %s: %w", u.Name(), err)
		}
	}
	if u.UID != nil && *u.UID < 0 {
		return fmt.Errorf("%w: user %s uid %d", ErrInvalidRecord, u.Name(), *u.UID)
	}
	return nil
}

// GroupRef is a primary group given either by number or by name. A JSON or
// YAML string is always a name, even when it only holds digits.
type GroupRef struct {
	id      int
	name    string
	numeric bool
}

// GroupID returns a numeric group reference.
func GroupID(id int) *GroupRef {
	return &GroupRef{id: id, numeric: true}
}

// GroupName returns a named group reference.
func GroupName(name string) *GroupRef {
	return &GroupRef{name: name}
}

// Numeric returns the gid when the reference is numeric.
func (g GroupRef) Numeric() (int, bool) {
	return g.id, g.numeric
}

// Equal reports whether both references name the same group the same way.
func (g GroupRef) Equal(o GroupRef) bool {
	return g == o
}

func (g GroupRef) String() string {
	if g.numeric {
		return strconv.Itoa(g.id)
	}
	return g.name
}

func (g GroupRef) MarshalJSON() ([]byte, error) {
	if g.numeric {
		return json.Marshal(g.id)
	}
	return json.Marshal(g.name)
}

func (g *GroupRef) UnmarshalJSON(b []byte) error {
	var id int
	if err := json.Unmarshal(b, &id); err == nil {
		*g = GroupRef{id: id, numeric: true}
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("gid must be a number or a group name: %w", err)
	}
	*g = GroupRef{name: name}
	return nil
}

func (g GroupRef) MarshalYAML() (any, error) {
	if g.numeric {
		return g.id, nil
	}
	return g.name, nil
}

func (g *GroupRef) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("gid must be a scalar, line %d", n.Line)
	}
	if n.Tag == "!!int" {
		var id int
		if err := n.Decode(&id); err != nil {
			return err
		}
		*g = GroupRef{id: id, numeric: true}
		return nil
	}
	*g = GroupRef{name: n.Value}
	return nil
}

// OpenIDs accepts a single string or a list, like the data bag did.
type OpenIDs []string

func (o *OpenIDs) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one != "" {
			*o = OpenIDs{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("openid: %w", err)
	}
	*o = many
	return nil
}

func (o *OpenIDs) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Value != "" && n.Tag != "!!null" {
			*o = OpenIDs{n.Value}
		}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := n.Decode(&many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	return fmt.Errorf("openid must be a string or a list, line %d", n.Line)
}

// ManagedGroup is the group whose membership is recomputed on every run.
type ManagedGroup struct {
	Name    string
	GID     *int
	Members []string
}

// HomeDirectorySpec is what the home content pass derived for one record.
type HomeDirectorySpec struct {
	Path           string
	Owner          string
	Group          string
	Manage         bool
	AuthorizedKeys bool
	PrivateKeyType string
	PublicKeyType  string
}
