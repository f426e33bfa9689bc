package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/h2hsecure/usermanage/internal/domain"
)

const ldapPageSize = 500

// defaultLDAPAttributes maps record fields to the attributes of the
// posixAccount and ldapPublicKey schemas.
var defaultLDAPAttributes = map[string]string{
	"id":       "uid",
	"username": "uid",
	"uid":      "uidNumber",
	"gid":      "gidNumber",
	"shell":    "loginShell",
	"home":     "homeDirectory",
	"comment":  "gecos",
	"password": "userPassword",
	"ssh_keys": "sshPublicKey",
	"groups":   "memberOf",
}

// LDAPSource searches user records in a directory. Filters are translated
// to LDAP when every term maps to an attribute; records are always matched
// again locally so untranslatable terms stay exact.
type LDAPSource struct {
	cfg   domain.LDAPConfig
	attrs map[string]string
	dial  func(url string) (ldapConn, error)
}

type ldapConn interface {
	Bind(username, password string) error
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Close() error
}

func NewLDAPSource(cfg domain.LDAPConfig) *LDAPSource {
	return &LDAPSource{
		cfg:   cfg,
		attrs: lo.Assign(defaultLDAPAttributes, cfg.Attributes),
		dial: func(url string) (ldapConn, error) {
			return ldap.DialURL(url)
		},
	}
}

// Query implements domain.RecordSource.
func (a *LDAPSource) Query(ctx context.Context, filter domain.Filter) ([]domain.UserRecord, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, fmt.Errorf("ldap connect: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	search := a.SearchFilter(filter)
	searchRequest := ldap.NewSearchRequest(
		a.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		search,
		lo.Uniq(lo.Values(a.attrs)),
		nil,
	)

	searchResp, err := conn.SearchWithPaging(searchRequest, ldapPageSize)
	if err != nil {
		return nil, fmt.Errorf("ldap search %s: %w", search, err)
	}
	log.Debug().Str("filter", search).Int("entries", len(searchResp.Entries)).Msg("ldap search")

	var ret []domain.UserRecord
	for _, entry := range searchResp.Entries {
		rec, err := a.Record(entry)
		if err != nil {
			log.Warn().Err(err).Str("dn", entry.DN).Msg("skipping ldap entry")
			continue
		}
		ret = append(ret, rec)
	}

	return matching(ret, filter), nil
}

func (a *LDAPSource) connect() (ldapConn, error) {
	conn, err := a.dial(a.cfg.URL)
	if err != nil {
		return nil, err
	}

	if a.cfg.BindDN != "" {
		if err := conn.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", a.cfg.BindDN, err)
		}
	}

	return conn, nil
}

// SearchFilter renders filter as an LDAP search filter restricted to the
// configured object class. When a term cannot be expressed the whole object
// class is searched.
func (a *LDAPSource) SearchFilter(filter domain.Filter) string {
	base := "(objectClass=" + ldap.EscapeFilter(a.cfg.ObjectClass) + ")"
	if a.cfg.ObjectClass == "" {
		base = "(objectClass=*)"
	}
	translated, ok := a.translate(filter)
	if !ok {
		return base
	}
	return "(&" + base + translated + ")"
}

func (a *LDAPSource) translate(f domain.Filter) (string, bool) {
	switch v := f.(type) {
	case domain.Term:
		attr, ok := a.attrs[v.Field]
		// memberOf holds DNs, matched by their first RDN locally
		if !ok || strings.EqualFold(attr, "memberOf") {
			return "", false
		}
		if v.Value == "*" {
			return "(" + attr + "=*)", true
		}
		return "(" + attr + "=" + ldap.EscapeFilter(v.Value) + ")", true
	case domain.And:
		return a.translateAll("&", v)
	case domain.Or:
		return a.translateAll("|", v)
	case domain.Not:
		inner, ok := a.translate(v.Inner)
		if !ok {
			return "", false
		}
		return "(!" + inner + ")", true
	}
	return "", false
}

func (a *LDAPSource) translateAll(op string, filters []domain.Filter) (string, bool) {
	var b strings.Builder
	b.WriteString("(" + op)
	for _, f := range filters {
		s, ok := a.translate(f)
		if !ok {
			return "", false
		}
		b.WriteString(s)
	}
	b.WriteString(")")
	return b.String(), true
}

// Record maps a directory entry to a user record.
func (a *LDAPSource) Record(entry *ldap.Entry) (domain.UserRecord, error) {
	get := func(field string) string {
		attr, ok := a.attrs[field]
		if !ok {
			return ""
		}
		return entry.GetAttributeValue(attr)
	}
	getAll := func(field string) []string {
		attr, ok := a.attrs[field]
		if !ok {
			return nil
		}
		return entry.GetAttributeValues(attr)
	}

	rec := domain.UserRecord{
		ID:           get("id"),
		Username:     get("username"),
		Shell:        get("shell"),
		Comment:      get("comment"),
		Home:         get("home"),
		SSHKeys:      getAll("ssh_keys"),
		OpenIDs:      getAll("openid"),
		Environments: getAll("environments"),
		Groups:       lo.Map(getAll("groups"), func(g string, _ int) string { return rdnValue(g) }),
	}
	if rec.ID == "" {
		rec.ID = rdnValue(entry.DN)
	}

	if s := get("uid"); s != "" {
		uid, err := strconv.Atoi(s)
		if err != nil {
			return rec, fmt.Errorf("uid %q: %w", s, err)
		}
		rec.UID = &uid
	}
	if s := get("gid"); s != "" {
		if gid, err := strconv.Atoi(s); err == nil {
			rec.GID = domain.GroupID(gid)
		} else {
			rec.GID = domain.GroupName(s)
		}
	}
	if s := get("password"); s != "" {
		if pw, ok := cryptPassword(s); ok {
			rec.Password = &pw
		} else {
			log.Warn().Str("dn", entry.DN).Msg("userPassword is not a {CRYPT} value, password left unmanaged")
		}
	}
	if s := get("action"); s != "" {
		rec.Action = domain.ActionPtr(domain.Action(s))
	}
	if s := get("ssh_private_key"); s != "" {
		rec.SSHPrivateKey = &s
	}
	if s := get("ssh_public_key"); s != "" {
		rec.SSHPublicKey = &s
	}
	if s := get("shared_account"); s != "" {
		rec.SharedAccount, _ = strconv.ParseBool(s)
	}

	return rec, nil
}

// cryptPassword extracts a crypt(3) hash from a userPassword value. Other
// schemes ({SSHA}, {SSHA512}, {MD5}...) cannot be handed to useradd -p.
func cryptPassword(s string) (string, bool) {
	if len(s) > 7 && strings.EqualFold(s[:7], "{crypt}") {
		return s[7:], true
	}
	if strings.HasPrefix(s, "{") {
		return "", false
	}
	return s, true
}

// rdnValue returns the value of the first RDN of a DN, or s itself when s
// is not a DN.
func rdnValue(s string) string {
	if !strings.Contains(s, "=") {
		return s
	}
	dn, err := ldap.ParseDN(s)
	if err != nil || len(dn.RDNs) == 0 || len(dn.RDNs[0].Attributes) == 0 {
		return s
	}
	return dn.RDNs[0].Attributes[0].Value
}
