package models

import (
	"time"
)

// LedgerRecord is the devnet ledger's copy of an auto-pay record. The
// ciphertext is stored next to its handle so the devnet oracle can resolve it.
type LedgerRecord struct {
	ID               string     `gorm:"column:id;primaryKey"`
	Name             string     `gorm:"column:name;not null"`
	Creator          string     `gorm:"column:creator;not null;index"`
	Ciphertext       []byte     `gorm:"column:ciphertext;not null"`
	CiphertextHandle string     `gorm:"column:ciphertext_handle;not null;uniqueIndex"`
	PublicCondition  int64      `gorm:"column:public_condition;not null"`
	PublicValue2     int64      `gorm:"column:public_value2;not null;default:0"`
	Description      string     `gorm:"column:description;not null"`
	IsVerified       bool       `gorm:"column:is_verified;not null;default:false"`
	ClearAmount      *int64     `gorm:"column:clear_amount"`
	VerifiedBy       *string    `gorm:"column:verified_by"`
	VerifiedAt       *time.Time `gorm:"column:verified_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;not null;index"`
}

func (LedgerRecord) TableName() string {
	return "ledger_records"
}
