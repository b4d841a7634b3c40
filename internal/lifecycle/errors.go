package lifecycle

import (
	"errors"

	"github.com/angelmondragon/fhe-autopay/internal/records"
)

var (
	// ErrUserRejected means the signer declined the transaction.
	ErrUserRejected = errors.New("user rejected transaction")
	// ErrAlreadyVerified means the ledger already holds a verified result for the record.
	ErrAlreadyVerified = errors.New("data already verified")
	// ErrRecordNotFound means the ledger has no record for the ID.
	ErrRecordNotFound = records.ErrNotFound
)
