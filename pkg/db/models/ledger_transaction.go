package models

import (
	"time"

	"github.com/angelmondragon/fhe-autopay/pkg/enums"
)

// LedgerTransaction is the immutable receipt of an accepted ledger write.
type LedgerTransaction struct {
	Hash      string             `gorm:"column:hash;primaryKey"`
	Kind      enums.LedgerTxKind `gorm:"column:kind;not null"`
	RecordID  string             `gorm:"column:record_id;not null;index"`
	Sender    string             `gorm:"column:sender;not null"`
	Block     int64              `gorm:"column:block;not null"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerTransaction) TableName() string {
	return "ledger_transactions"
}
