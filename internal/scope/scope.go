// Package scope implements C8: intersecting a credential's allow-lists with
// a requested group/email, per design note "Dynamic credential scopes ->
// explicit predicate builder". It isolates the GORM query fragments that the
// teacher mixed directly into controllers (see controllers/unibox_controller.go's
// inline Where chains) behind a small value type the allocator and admin API
// both consume.
package scope

import (
	"gorm.io/gorm"

	"mailgateway/internal/apierr"
)

// Filter is the resolved scope of a credential: the group and email
// allow-lists it carries, already normalized into sets.
type Filter struct {
	AllowedGroupIDs map[uint]struct{}
	AllowedEmailIDs map[uint]struct{}
}

func New(allowedGroupIDs, allowedEmailIDs []uint) Filter {
	f := Filter{
		AllowedGroupIDs: make(map[uint]struct{}, len(allowedGroupIDs)),
		AllowedEmailIDs: make(map[uint]struct{}, len(allowedEmailIDs)),
	}
	for _, id := range allowedGroupIDs {
		f.AllowedGroupIDs[id] = struct{}{}
	}
	for _, id := range allowedEmailIDs {
		f.AllowedEmailIDs[id] = struct{}{}
	}
	return f
}

func (f Filter) hasGroupScope() bool { return len(f.AllowedGroupIDs) > 0 }
func (f Filter) hasEmailScope() bool { return len(f.AllowedEmailIDs) > 0 }

// AllowsGroup checks an explicitly requested group filter against the
// allow-list, per spec §4.8's first rule.
func (f Filter) AllowsGroup(groupID uint) bool {
	if !f.hasGroupScope() {
		return true
	}
	_, ok := f.AllowedGroupIDs[groupID]
	return ok
}

// AllowsEmail checks a mailbox id against the email allow-list.
func (f Filter) AllowsEmail(mailboxID uint) bool {
	if !f.hasEmailScope() {
		return true
	}
	_, ok := f.AllowedEmailIDs[mailboxID]
	return ok
}

// RequireGroup enforces spec §4.8 rule 1: if a group filter is explicitly
// requested and the allow-list is non-empty, the group must be in it.
func (f Filter) RequireGroup(groupID uint) error {
	if f.hasGroupScope() && !f.AllowsGroup(groupID) {
		return apierr.ErrGroupForbidden("group is outside credential scope")
	}
	return nil
}

// RequireEmail enforces EmailForbidden on admin-side scope updates (spec
// §4.8's last rule).
func (f Filter) RequireEmail(mailboxID uint) error {
	if f.hasEmailScope() && !f.AllowsEmail(mailboxID) {
		return apierr.ErrEmailForbidden("mailbox is outside credential scope")
	}
	return nil
}

// Apply adds the scope's ambient predicates (not an explicit group request)
// to a mailbox query, per spec §4.8 rule 2/3.
func (f Filter) Apply(q *gorm.DB) *gorm.DB {
	if f.hasGroupScope() {
		q = q.Where("group_id IN ?", keys(f.AllowedGroupIDs))
	}
	if f.hasEmailScope() {
		q = q.Where("id IN ?", keys(f.AllowedEmailIDs))
	}
	return q
}

func keys(m map[uint]struct{}) []uint {
	out := make([]uint, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
