package reconcile

import (
	"github.com/samber/lo"

	"github.com/h2hsecure/usermanage/internal/domain"
)

// GroupAggregator collects, across a whole pass, the managed group members,
// the keys for the shared account and the allowed OpenIDs.
type GroupAggregator struct {
	members    []string
	sharedKeys []string
	openIDs    []string
}

func NewGroupAggregator() *GroupAggregator {
	return &GroupAggregator{}
}

func (a *GroupAggregator) AddMember(name string) {
	a.members = append(a.members, name)
}

func (a *GroupAggregator) AddSharedKeys(keys []string) {
	a.sharedKeys = append(a.sharedKeys, keys...)
}

func (a *GroupAggregator) AddOpenIDs(ids []string) {
	a.openIDs = append(a.openIDs, lo.Compact(ids)...)
}

// Members returns the usernames seen so far, first occurrence first.
func (a *GroupAggregator) Members() []string {
	return lo.Uniq(a.members)
}

// SharedKeys keeps order and duplicates, as the keys were declared.
func (a *GroupAggregator) SharedKeys() []string {
	return append([]string(nil), a.sharedKeys...)
}

func (a *GroupAggregator) OpenIDs() []string {
	return lo.Uniq(a.openIDs)
}

// ManagedGroup is the full desired state of the managed group.
func (a *GroupAggregator) ManagedGroup(name string, gid *int) domain.ManagedGroup {
	return domain.ManagedGroup{Name: name, GID: gid, Members: a.Members()}
}
