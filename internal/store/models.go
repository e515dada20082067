// Package store holds the relational models mirroring spec §3, laid out one
// aggregate per file the way the teacher's models package did (models/user.go,
// models/sender.go, ...), and the AutoMigrate wiring that config/confiig.go
// drove from its migrateDB helper.
package store

import (
	"time"

	"gorm.io/gorm"
)

type CredentialLifecycleState string

const (
	CredentialActive   CredentialLifecycleState = "active"
	CredentialDisabled CredentialLifecycleState = "disabled"
)

// Credential is the identity external callers present via C17.
type Credential struct {
	gorm.Model
	DisplayName      string                    `gorm:"not null"`
	Prefix           string                    `gorm:"size:7;not null"`
	SecretDigest     string                    `gorm:"uniqueIndex;not null"`
	RatePerMinute    int                       `gorm:"not null;default:60"`
	LifecycleState   CredentialLifecycleState  `gorm:"not null;default:'active'"`
	ExpiresAt        *time.Time
	PermissionMap    JSONMap  `gorm:"type:jsonb"`
	AllowedGroupIDs  JSONUint `gorm:"type:jsonb"`
	AllowedEmailIDs  JSONUint `gorm:"type:jsonb"`
	UsageCount       int64    `gorm:"not null;default:0"`
	LastUsedAt       *time.Time
	CreatedBy        uint

	Assignments []PoolAssignment `gorm:"foreignKey:CredentialID;constraint:OnDelete:CASCADE"`
}

type MailboxStatus string

const (
	MailboxActive   MailboxStatus = "active"
	MailboxError    MailboxStatus = "error"
	MailboxDisabled MailboxStatus = "disabled"
)

// Mailbox is a real Microsoft consumer mailbox the gateway can fetch.
type Mailbox struct {
	gorm.Model
	Address            string        `gorm:"uniqueIndex;not null"`
	OAuthClientID      string        `gorm:"not null"`
	RefreshTokenCipher string        `gorm:"not null"`
	PasswordCipher     string
	Status             MailboxStatus `gorm:"not null;default:'active'"`
	GroupID            *uint         `gorm:"index"`
	LastCheckAt        *time.Time
	LastErrorMessage   string

	Group       *MailboxGroup    `gorm:"foreignKey:GroupID"`
	Assignments []PoolAssignment `gorm:"foreignKey:MailboxID;constraint:OnDelete:CASCADE"`
}

type FetchStrategy string

const (
	StrategyGraphFirst FetchStrategy = "graph_first"
	StrategyImapFirst  FetchStrategy = "imap_first"
	StrategyGraphOnly  FetchStrategy = "graph_only"
	StrategyImapOnly   FetchStrategy = "imap_only"
)

// MailboxGroup is a logical bucket with a fetch-strategy hint.
type MailboxGroup struct {
	gorm.Model
	Name          string        `gorm:"uniqueIndex;not null"`
	Description   string
	FetchStrategy FetchStrategy `gorm:"not null;default:'graph_first'"`
}

// PoolAssignment is a claim that (credential, mailbox) has been handed out.
// The composite primary key is the sole arbiter of exactly-once allocation.
type PoolAssignment struct {
	CredentialID uint      `gorm:"primaryKey"`
	MailboxID    uint      `gorm:"primaryKey"`
	AssignedAt   time.Time `gorm:"not null"`
}

type AdminRole string

const (
	RoleSuperAdmin AdminRole = "super_admin"
	RoleAdmin      AdminRole = "admin"
)

type AdminStatus string

const (
	AdminActive   AdminStatus = "active"
	AdminDisabled AdminStatus = "disabled"
)

// AdminAccount is a human operator of the admin console.
type AdminAccount struct {
	gorm.Model
	Username                     string `gorm:"uniqueIndex;not null"`
	PasswordDigest               string `gorm:"not null"`
	Email                        string
	Role                         AdminRole   `gorm:"not null;default:'admin'"`
	Status                       AdminStatus `gorm:"not null;default:'active'"`
	TwoFactorEnabled             bool        `gorm:"not null;default:false"`
	TwoFactorSecretCipher        string
	TwoFactorPendingSecretCipher string
	LastLoginAt                  *time.Time
	LastLoginIP                  string
}

// ApiCallRecord is an append-only log of external-API invocations.
type ApiCallRecord struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	Action       string `gorm:"index;not null"`
	CredentialID *uint  `gorm:"index"`
	MailboxID    *uint
	ClientIP     string
	HTTPStatus   int
	ElapsedMs    int64
	Metadata     JSONAny   `gorm:"type:jsonb"`
	CreatedAt    time.Time `gorm:"index;not null"`
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Credential{},
		&Mailbox{},
		&MailboxGroup{},
		&PoolAssignment{},
		&AdminAccount{},
		&ApiCallRecord{},
	)
}
