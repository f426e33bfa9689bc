package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/h2hsecure/usermanage/internal/domain"
)

const (
	ServerTokenUrl       = "%s/auth/realms/%s/protocol/openid-connect/token"
	ServerUserDetailsUrl = "%s/auth/admin/realms/%s/users"

	keycloakPageSize = 100
)

// KeycloakSource reads user records from the users of a Keycloak realm.
// Record fields other than the username live in user attributes.
type KeycloakSource struct {
	ClientId       string
	Server         string
	Realm          string
	AccessUser     string
	AccessPassword string

	client *resty.Client
}

func NewKeycloakSource(cfg domain.KeycloakConfig) *KeycloakSource {
	return &KeycloakSource{
		ClientId:       cfg.ClientId,
		Server:         cfg.Server,
		Realm:          cfg.Realm,
		AccessUser:     cfg.Username,
		AccessPassword: cfg.Password,
		client:         resty.New().SetLogger(restyLogger{}),
	}
}

// restyLogger sends resty diagnostics to zerolog.
type restyLogger struct{}

func (restyLogger) Debugf(format string, v ...interface{}) {
	log.Debug().Str("component", "resty").Msgf(format, v...)
}

func (restyLogger) Errorf(format string, v ...interface{}) {
	log.Error().Str("component", "resty").Msgf(format, v...)
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	log.Warn().Str("component", "resty").Msgf(format, v...)
}

type tokenDetail struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type keycloakUser struct {
	Id         string              `json:"id"`
	Username   string              `json:"username"`
	Attributes map[string][]string `json:"attributes"`
	FirstName  string              `json:"firstName"`
	LastName   string              `json:"lastName"`
}

func (k keycloakUser) attr(name string) string {
	values := k.Attributes[name]
	if len(values) != 1 {
		return ""
	}
	return values[0]
}

func (k keycloakUser) record() (domain.UserRecord, error) {
	rec := domain.UserRecord{
		ID:           k.Username,
		Username:     k.attr("username"),
		Shell:        k.attr("shell"),
		Home:         k.attr("home"),
		Comment:      lo.CoalesceOrEmpty(k.attr("comment"), strings.TrimSpace(k.FirstName+" "+k.LastName)),
		SSHKeys:      k.Attributes["ssh-key"],
		OpenIDs:      k.Attributes["openid"],
		Groups:       k.Attributes["groups"],
		Environments: k.Attributes["environments"],
	}

	if s := k.attr("uid"); s != "" {
		uid, err := strconv.Atoi(s)
		if err != nil {
			return rec, fmt.Errorf("user %s uid %q: %w", k.Username, s, err)
		}
		rec.UID = &uid
	}
	if s := k.attr("gid"); s != "" {
		if gid, err := strconv.Atoi(s); err == nil {
			rec.GID = domain.GroupID(gid)
		} else {
			rec.GID = domain.GroupName(s)
		}
	}
	if s := k.attr("action"); s != "" {
		rec.Action = domain.ActionPtr(domain.Action(s))
	}
	if s := k.attr("shared_account"); s != "" {
		rec.SharedAccount, _ = strconv.ParseBool(s)
	}
	if s := k.attr("password"); s != "" {
		rec.Password = &s
	}
	if s := k.attr("ssh_private_key"); s != "" {
		rec.SSHPrivateKey = &s
	}
	if s := k.attr("ssh_public_key"); s != "" {
		rec.SSHPublicKey = &s
	}
	return rec, nil
}

func (a *KeycloakSource) auth(ctx context.Context) (string, error) {
	var ret tokenDetail

	formData := map[string]string{
		"client_id":  a.ClientId,
		"username":   a.AccessUser,
		"password":   a.AccessPassword,
		"grant_type": "password",
	}

	postUrl := fmt.Sprintf(ServerTokenUrl, a.Server, a.Realm)

	res, err := a.client.R().
		SetContext(ctx).
		SetFormData(formData).
		SetResult(&ret).
		Post(postUrl)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("auth request (%s): code: %d", postUrl, res.StatusCode())
	}

	return ret.AccessToken, nil
}

func (a *KeycloakSource) fetchUsers(ctx context.Context) ([]keycloakUser, error) {
	token, err := a.auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication: %w", err)
	}

	var all []keycloakUser
	for first := 0; ; first += keycloakPageSize {
		var page []keycloakUser

		res, err := a.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetAuthScheme("bearer").
			SetAuthToken(token).
			SetQueryParam("briefRepresentation", "false").
			SetQueryParam("first", strconv.Itoa(first)).
			SetQueryParam("max", strconv.Itoa(keycloakPageSize)).
			SetResult(&page).
			Get(fmt.Sprintf(ServerUserDetailsUrl, a.Server, a.Realm))
		if err != nil {
			return nil, fmt.Errorf("fetch users: %w", err)
		}
		if res.IsError() {
			return nil, fmt.Errorf("fetch users: code: %d", res.StatusCode())
		}

		all = append(all, page...)
		if len(page) < keycloakPageSize {
			return all, nil
		}
	}
}

// Query implements domain.RecordSource. The admin API cannot express the
// filter, so the realm is listed and matched locally.
func (a *KeycloakSource) Query(ctx context.Context, filter domain.Filter) ([]domain.UserRecord, error) {
	users, err := a.fetchUsers(ctx)
	if err != nil {
		return nil, err
	}

	var ret []domain.UserRecord
	for _, u := range users {
		rec, err := u.record()
		if err != nil {
			log.Warn().Err(err).Msg("skipping keycloak user")
			continue
		}
		ret = append(ret, rec)
	}

	return matching(ret, filter), nil
}
