package records

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/fhe-autopay/pkg/enums"
)

// ErrNotFound is returned by a Source when the ledger has no record for an ID.
var ErrNotFound = errors.New("record not found")

// LedgerEntry is a record as the ledger reports it.
type LedgerEntry struct {
	ID               string
	Name             string
	Creator          string
	CreatedAt        time.Time
	PublicCondition  int64
	PublicValue2     int64
	Description      string
	CiphertextHandle string
	IsVerified       bool
	// ClearAmount is meaningful only when IsVerified is true.
	ClearAmount int64
}

// Source enumerates and fetches ledger records.
type Source interface {
	GetAllRecordIDs(ctx context.Context) ([]string, error)
	GetRecord(ctx context.Context, id string) (LedgerEntry, error)
}

// Record is the read-replica view of an auto-pay record.
type Record struct {
	ID               string                   `json:"id"`
	Name             string                   `json:"name"`
	Creator          string                   `json:"creator"`
	CreatedAt        time.Time                `json:"created_at"`
	PublicCondition  int64                    `json:"public_condition"`
	PublicValue2     int64                    `json:"public_value2"`
	Description      string                   `json:"description"`
	CiphertextHandle string                   `json:"ciphertext_handle"`
	Status           enums.VerificationStatus `json:"status"`
	ClearAmount      *int64                   `json:"clear_amount,omitempty"`
	LocalClearAmount *int64                   `json:"local_clear_amount,omitempty"`
}

// IsVerified reports whether the ledger attested the clear amount.
func (r Record) IsVerified() bool {
	return r.Status == enums.VerificationStatusVerified
}

// FromLedger converts a ledger entry into a Record. ClearAmount is only
// populated for verified entries.
func FromLedger(entry LedgerEntry) Record {
	rec := Record{
		ID:               entry.ID,
		Name:             entry.Name,
		Creator:          entry.Creator,
		CreatedAt:        entry.CreatedAt,
		PublicCondition:  entry.PublicCondition,
		PublicValue2:     entry.PublicValue2,
		Description:      entry.Description,
		CiphertextHandle: entry.CiphertextHandle,
		Status:           enums.VerificationStatusFromLedger(entry.IsVerified),
	}
	if entry.IsVerified {
		amount := entry.ClearAmount
		rec.ClearAmount = &amount
	}
	return rec
}
