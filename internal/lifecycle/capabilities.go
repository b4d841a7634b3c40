package lifecycle

import (
	"context"

	"github.com/angelmondragon/fhe-autopay/internal/records"
)

// LedgerReader is the read-only view of the auto-pay contract.
type LedgerReader interface {
	records.Source
	ContractAddress(ctx context.Context) (string, error)
	GetCiphertextHandle(ctx context.Context, id string) (string, error)
}

// CreateRecordTx carries a signed record creation.
type CreateRecordTx struct {
	ID              string
	Name            string
	Sender          string
	Input           EncryptedInput
	PublicCondition int64
	PublicValue2    int64
	Description     string
}

// LedgerWriter submits signed transactions on behalf of the connected account.
// Implementations return ErrUserRejected when the signer declines and
// ErrAlreadyVerified when a second verification is submitted for a record.
type LedgerWriter interface {
	CreateRecord(ctx context.Context, tx CreateRecordTx) (PendingTx, error)
	SubmitVerification(ctx context.Context, sender, id string, clearValues, proof []byte) (PendingTx, error)
}

// Receipt confirms a transaction reached finality.
type Receipt struct {
	TxHash string
	Block  int64
}

// PendingTx is a submitted transaction awaiting one confirmation.
type PendingTx interface {
	Hash() string
	Wait(ctx context.Context) (Receipt, error)
}

// EncryptedInput is the output of client-side encryption. Handle is the
// opaque on-ledger reference; InputProof binds it to contract and sender.
type EncryptedInput struct {
	Handle     string
	Ciphertext []byte
	InputProof []byte
}

// EncryptionGateway encrypts plaintext amounts for a contract and requester.
type EncryptionGateway interface {
	Encrypt(ctx context.Context, contract, requester string, plaintext uint64) (EncryptedInput, error)
}

// DecryptionResult holds cleartext values keyed by handle. AbiEncoded and
// Proof are what the ledger checks on submission.
type DecryptionResult struct {
	ClearValues map[string]uint64
	AbiEncoded  []byte
	Proof       []byte
}

// SubmitFunc submits a decryption proof to the ledger.
type SubmitFunc func(ctx context.Context, abiEncodedClearValues, proof []byte) (PendingTx, error)

// VerificationOracle runs the decryption protocol. DecryptAndVerify invokes
// submit and waits for the returned transaction before returning; Decrypt
// returns cleartext without touching the ledger.
type VerificationOracle interface {
	DecryptAndVerify(ctx context.Context, handles []string, contract string, submit SubmitFunc) (DecryptionResult, error)
	Decrypt(ctx context.Context, handles []string, contract string) (DecryptionResult, error)
}

// IdentityProvider reports the connected account, if any.
type IdentityProvider interface {
	Current(ctx context.Context) (string, bool)
}

// RecordStore is the read replica the orchestrator keeps current.
type RecordStore interface {
	Refresh(ctx context.Context) ([]records.Record, error)
	Get(id string) (records.Record, bool)
	SetLocalClearAmount(id, handle string, amount int64)
	ClearLocalClearAmount(id string)
}
