package adapter

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// NewRecordSource builds the record source selected in the config. Sources
// holding resources implement io.Closer.
func NewRecordSource(cfg *domain.Config) (domain.RecordSource, error) {
	switch cfg.Source.Type {
	case domain.SourceDir, "":
		return NewDirSource(cfg.Source.Dir, cfg.DataBag), nil
	case domain.SourceBolt:
		return NewBoltStore(cfg.Source.DBPath, cfg.DataBag, true)
	case domain.SourceLDAP:
		return NewLDAPSource(cfg.Source.LDAP), nil
	case domain.SourceKeycloak:
		return NewKeycloakSource(cfg.Source.Keycloak), nil
	case domain.SourceNone:
		return NoSearch{}, nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
}

// NoSearch stands for a host without a search backend.
type NoSearch struct{}

func (NoSearch) Query(context.Context, domain.Filter) ([]domain.UserRecord, error) {
	return nil, domain.ErrSearchUnavailable
}

func matching(records []domain.UserRecord, filter domain.Filter) []domain.UserRecord {
	return lo.Filter(records, func(r domain.UserRecord, _ int) bool {
		return filter.Match(r)
	})
}
