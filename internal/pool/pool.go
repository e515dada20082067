// Package pool implements C9: exactly-once assignment of mailboxes to
// credentials. The unique primary key on PoolAssignment(credential_id,
// mailbox_id) is the sole arbiter of the exactly-once invariant; this
// package's job is to turn a unique-constraint violation into the
// AlreadyUsed error the spec names, and to retry the allocate+mark sequence
// a bounded number of times per §4.9/§5.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"mailgateway/internal/apierr"
	"mailgateway/internal/scope"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/store"
)

const maxAllocateAttempts = 3

type Allocator struct {
	db  *gorm.DB
	box *secretbox.Box
}

func New(db *gorm.DB, box *secretbox.Box) *Allocator {
	return &Allocator{db: db, box: box}
}

// Allocation is the decrypted mailbox handed back to the caller, ready for
// the mail orchestrator to use.
type Allocation struct {
	MailboxID    uint
	Address      string
	RefreshToken string
	GroupID      *uint
}

// Allocate resolves group by name (if given), then selects the lowest-id
// active mailbox within scope that has no existing assignment for
// credentialID. It does not persist an assignment; callers must call
// MarkUsed, or use AllocateAndMark for the full retry-on-race sequence.
func (a *Allocator) Allocate(ctx context.Context, credentialID uint, groupName string, sc scope.Filter) (*Allocation, error) {
	var groupID *uint
	if groupName != "" {
		var group store.MailboxGroup
		if err := a.db.WithContext(ctx).Where("name = ?", groupName).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apierr.ErrGroupNotFound(fmt.Sprintf("group %q not found", groupName))
			}
			return nil, err
		}
		if err := sc.RequireGroup(group.ID); err != nil {
			return nil, err
		}
		id := group.ID
		groupID = &id
	}

	q := a.db.WithContext(ctx).Model(&store.Mailbox{}).
		Where("status = ?", store.MailboxActive).
		Where("NOT EXISTS (SELECT 1 FROM pool_assignments pa WHERE pa.mailbox_id = mailboxes.id AND pa.credential_id = ?)", credentialID)

	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
		q = scope.Filter{AllowedEmailIDs: sc.AllowedEmailIDs}.Apply(q)
	} else {
		q = sc.Apply(q)
	}

	var mailbox store.Mailbox
	if err := q.Order("id ASC").First(&mailbox).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.ErrNoUnusedEmail("no unused mailbox available for this credential")
		}
		return nil, err
	}

	refreshToken, err := a.box.Decrypt(mailbox.RefreshTokenCipher)
	if err != nil {
		return nil, err
	}

	return &Allocation{
		MailboxID:    mailbox.ID,
		Address:      mailbox.Address,
		RefreshToken: refreshToken,
		GroupID:      mailbox.GroupID,
	}, nil
}

// MarkUsed persists the assignment. A unique-constraint violation means
// another caller won the race; that surfaces as AlreadyUsed so the caller
// can retry against a different mailbox.
func (a *Allocator) MarkUsed(ctx context.Context, credentialID, mailboxID uint) error {
	err := a.db.WithContext(ctx).Create(&store.PoolAssignment{
		CredentialID: credentialID,
		MailboxID:    mailboxID,
		AssignedAt:   time.Now(),
	}).Error
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return apierr.ErrAlreadyUsed("mailbox already used by this credential")
	}
	return err
}

// AllocateAndMark runs allocate+mark up to maxAllocateAttempts times,
// covering the race where two concurrent callers target the same mailbox.
// It does not reset the caller's context deadline between attempts, per
// spec §5.
func (a *Allocator) AllocateAndMark(ctx context.Context, credentialID uint, groupName string, sc scope.Filter) (*Allocation, error) {
	var lastErr error
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		alloc, err := a.Allocate(ctx, credentialID, groupName, sc)
		if err != nil {
			return nil, err
		}

		if err := a.MarkUsed(ctx, credentialID, alloc.MailboxID); err != nil {
			if apierr.As(err).Code == apierr.CodeAlreadyUsed {
				lastErr = err
				continue
			}
			return nil, err
		}

		return alloc, nil
	}
	if lastErr == nil {
		lastErr = apierr.ErrConcurrencyLimit("exhausted allocation attempts")
	}
	return nil, apierr.ErrConcurrencyLimit("exhausted allocation attempts after retries: " + lastErr.Error())
}

// Reset removes assignments for credentialID, restricted to scope and the
// optional group filter.
func (a *Allocator) Reset(ctx context.Context, credentialID uint, groupName string, sc scope.Filter) error {
	mailboxIDs, err := a.scopedMailboxIDs(ctx, groupName, sc)
	if err != nil {
		return err
	}

	q := a.db.WithContext(ctx).Where("credential_id = ?", credentialID)
	if mailboxIDs != nil {
		q = q.Where("mailbox_id IN ?", mailboxIDs)
	}
	return q.Delete(&store.PoolAssignment{}).Error
}

// Stats returns {total, used, remaining} for credentialID within scope.
type Stats struct {
	Total     int64
	Used      int64
	Remaining int64
}

func (a *Allocator) Stats(ctx context.Context, credentialID uint, groupName string, sc scope.Filter) (Stats, error) {
	mailboxIDs, err := a.scopedMailboxIDs(ctx, groupName, sc)
	if err != nil {
		return Stats{}, err
	}

	totalQ := a.db.WithContext(ctx).Model(&store.Mailbox{}).Where("status = ?", store.MailboxActive)
	if mailboxIDs != nil {
		totalQ = totalQ.Where("id IN ?", mailboxIDs)
	}
	var total int64
	if err := totalQ.Count(&total).Error; err != nil {
		return Stats{}, err
	}

	usedQ := a.db.WithContext(ctx).Model(&store.PoolAssignment{}).Where("credential_id = ?", credentialID)
	if mailboxIDs != nil {
		usedQ = usedQ.Where("mailbox_id IN ?", mailboxIDs)
	}
	var used int64
	if err := usedQ.Count(&used).Error; err != nil {
		return Stats{}, err
	}

	remaining := total - used
	if remaining < 0 {
		remaining = 0
	}
	return Stats{Total: total, Used: used, Remaining: remaining}, nil
}

// UpdatePool replaces the assignment set for credentialID with desiredMailboxIDs,
// computing (add, remove) in one transaction. All supplied ids must lie
// within scope.
func (a *Allocator) UpdatePool(ctx context.Context, credentialID uint, desiredMailboxIDs []uint, sc scope.Filter) error {
	for _, id := range desiredMailboxIDs {
		if err := sc.RequireEmail(id); err != nil {
			return err
		}
	}

	desired := make(map[uint]struct{}, len(desiredMailboxIDs))
	for _, id := range desiredMailboxIDs {
		desired[id] = struct{}{}
	}

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []store.PoolAssignment
		if err := tx.Where("credential_id = ?", credentialID).Find(&existing).Error; err != nil {
			return err
		}

		current := make(map[uint]struct{}, len(existing))
		for _, e := range existing {
			current[e.MailboxID] = struct{}{}
		}

		var toRemove []uint
		for id := range current {
			if _, keep := desired[id]; !keep {
				toRemove = append(toRemove, id)
			}
		}
		if len(toRemove) > 0 {
			if err := tx.Where("credential_id = ? AND mailbox_id IN ?", credentialID, toRemove).
				Delete(&store.PoolAssignment{}).Error; err != nil {
				return err
			}
		}

		now := time.Now()
		for id := range desired {
			if _, already := current[id]; already {
				continue
			}
			if err := tx.Create(&store.PoolAssignment{
				CredentialID: credentialID,
				MailboxID:    id,
				AssignedAt:   now,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (a *Allocator) scopedMailboxIDs(ctx context.Context, groupName string, sc scope.Filter) ([]uint, error) {
	if groupName == "" && len(sc.AllowedGroupIDs) == 0 && len(sc.AllowedEmailIDs) == 0 {
		return nil, nil
	}

	q := a.db.WithContext(ctx).Model(&store.Mailbox{})

	if groupName != "" {
		var group store.MailboxGroup
		if err := a.db.WithContext(ctx).Where("name = ?", groupName).First(&group).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apierr.ErrGroupNotFound(fmt.Sprintf("group %q not found", groupName))
			}
			return nil, err
		}
		if err := sc.RequireGroup(group.ID); err != nil {
			return nil, err
		}
		q = q.Where("group_id = ?", group.ID)
		q = scope.Filter{AllowedEmailIDs: sc.AllowedEmailIDs}.Apply(q)
	} else {
		q = sc.Apply(q)
	}

	var ids []uint
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
