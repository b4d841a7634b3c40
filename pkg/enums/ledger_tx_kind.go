package enums

import "fmt"

// LedgerTxKind names the transaction types the devnet ledger accepts.
type LedgerTxKind string

const (
	LedgerTxKindCreateRecord LedgerTxKind = "create_record"
	LedgerTxKindVerify       LedgerTxKind = "verify"
)

var validLedgerTxKinds = []LedgerTxKind{
	LedgerTxKindCreateRecord,
	LedgerTxKindVerify,
}

// IsValid reports whether the value matches a known transaction kind.
func (k LedgerTxKind) IsValid() bool {
	for _, candidate := range validLedgerTxKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseLedgerTxKind converts raw input into LedgerTxKind.
func ParseLedgerTxKind(value string) (LedgerTxKind, error) {
	for _, candidate := range validLedgerTxKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger tx kind %q", value)
}
