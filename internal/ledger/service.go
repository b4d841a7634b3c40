package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/internal/records"
	"github.com/angelmondragon/fhe-autopay/pkg/db"
	"github.com/angelmondragon/fhe-autopay/pkg/db/models"
	"github.com/angelmondragon/fhe-autopay/pkg/enums"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
	"github.com/angelmondragon/fhe-autopay/pkg/pagination"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

var (
	// ErrInvalidInputProof means the encrypted input is not bound to the contract and sender.
	ErrInvalidInputProof = errors.New("invalid input proof")
	// ErrInvalidDecryptionProof means the decryption proof does not cover the submitted values.
	ErrInvalidDecryptionProof = errors.New("invalid decryption proof")
	// ErrUnknownHandle means no record references the ciphertext handle.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")
	// ErrInvalidCursor means a transaction page cursor could not be decoded.
	ErrInvalidCursor = errors.New("invalid page cursor")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// InputVerifier checks that an encrypted input was produced for contract and sender.
type InputVerifier interface {
	VerifyInput(contract, sender string, input lifecycle.EncryptedInput) error
}

// ProofVerifier checks a decryption proof over handles and their encoded clear values.
type ProofVerifier interface {
	VerifyDecryption(handles []string, clearValues, proof []byte) error
}

// Signer approves a transaction on behalf of sender. Returning
// lifecycle.ErrUserRejected aborts the submission.
type Signer interface {
	Sign(ctx context.Context, sender string, kind enums.LedgerTxKind, recordID string) error
}

// AutoSigner approves every transaction.
type AutoSigner struct{}

func (AutoSigner) Sign(context.Context, string, enums.LedgerTxKind, string) error { return nil }

// Params groups dependencies for the ledger.
type Params struct {
	Repo     Repository
	Tx       txRunner
	Contract string
	Inputs   InputVerifier
	Proofs   ProofVerifier
	Signer   Signer
	Logger   *logger.Logger
}

// Ledger is the database-backed auto-pay contract. A transaction is final
// once Wait returns without error.
type Ledger struct {
	repo     Repository
	tx       txRunner
	contract string
	inputs   InputVerifier
	proofs   ProofVerifier
	signer   Signer
	logg     *logger.Logger
	now      func() time.Time
}

// NewLedger wires a ledger with the provided repository and verifiers.
func NewLedger(p Params) (*Ledger, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if strings.TrimSpace(p.Contract) == "" {
		return nil, fmt.Errorf("contract address required")
	}
	if p.Inputs == nil {
		return nil, fmt.Errorf("input verifier required")
	}
	if p.Proofs == nil {
		return nil, fmt.Errorf("proof verifier required")
	}
	if p.Signer == nil {
		p.Signer = AutoSigner{}
	}
	return &Ledger{
		repo:     p.Repo,
		tx:       p.Tx,
		contract: p.Contract,
		inputs:   p.Inputs,
		proofs:   p.Proofs,
		signer:   p.Signer,
		logg:     p.Logger,
		now:      time.Now,
	}, nil
}

func (l *Ledger) ContractAddress(context.Context) (string, error) {
	return l.contract, nil
}

func (l *Ledger) GetAllRecordIDs(ctx context.Context) ([]string, error) {
	return l.repo.ListRecordIDs(ctx)
}

func (l *Ledger) GetRecord(ctx context.Context, id string) (records.LedgerEntry, error) {
	rec, err := l.repo.FindRecord(ctx, id)
	if err != nil {
		return records.LedgerEntry{}, err
	}
	if rec == nil {
		return records.LedgerEntry{}, lifecycle.ErrRecordNotFound
	}
	return toEntry(*rec), nil
}

func (l *Ledger) GetCiphertextHandle(ctx context.Context, id string) (string, error) {
	rec, err := l.repo.FindRecord(ctx, id)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", lifecycle.ErrRecordNotFound
	}
	return rec.CiphertextHandle, nil
}

// Ciphertext resolves a handle to the stored ciphertext.
func (l *Ledger) Ciphertext(ctx context.Context, handle string) ([]byte, error) {
	rec, err := l.repo.FindByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	return append([]byte(nil), rec.Ciphertext...), nil
}

// Transactions lists the accepted transactions for a record in block order.
func (l *Ledger) Transactions(ctx context.Context, recordID string) ([]models.LedgerTransaction, error) {
	if err := l.requireRecord(ctx, recordID); err != nil {
		return nil, err
	}
	return l.repo.ListTransactions(ctx, recordID, 0, 0)
}

// TransactionPage is one cursor page of a record's transactions.
type TransactionPage struct {
	Items      []models.LedgerTransaction
	NextCursor string
}

// TransactionPage returns the record's transactions after the cursor block.
func (l *Ledger) TransactionPage(ctx context.Context, recordID string, params pagination.Params) (TransactionPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return TransactionPage{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := l.requireRecord(ctx, recordID); err != nil {
		return TransactionPage{}, err
	}

	var after int64
	if cursor != nil {
		after = cursor.Block
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := l.repo.ListTransactions(ctx, recordID, after, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return TransactionPage{}, err
	}

	page := TransactionPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{Block: rows[limit-1].Block})
	}
	return page, nil
}

func (l *Ledger) requireRecord(ctx context.Context, recordID string) error {
	rec, err := l.repo.FindRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return lifecycle.ErrRecordNotFound
	}
	return nil
}

func (l *Ledger) CreateRecord(ctx context.Context, in lifecycle.CreateRecordTx) (lifecycle.PendingTx, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	if err := l.signer.Sign(ctx, in.Sender, enums.LedgerTxKindCreateRecord, in.ID); err != nil {
		return nil, err
	}
	if err := l.inputs.VerifyInput(l.contract, in.Sender, in.Input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInputProof, err)
	}

	hash := txHash(enums.LedgerTxKindCreateRecord, in.ID, in.Sender)
	return newPendingTx(hash, func(ctx context.Context) (lifecycle.Receipt, error) {
		var block int64
		err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := l.repo.WithTx(tx)
			existing, err := repo.FindRecord(ctx, in.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("execution reverted: record %s already exists", in.ID)
			}
			if err := repo.CreateRecord(ctx, &models.LedgerRecord{
				ID:               in.ID,
				Name:             in.Name,
				Creator:          in.Sender,
				Ciphertext:       in.Input.Ciphertext,
				CiphertextHandle: in.Input.Handle,
				PublicCondition:  in.PublicCondition,
				PublicValue2:     in.PublicValue2,
				Description:      in.Description,
				CreatedAt:        l.now().UTC(),
			}); err != nil {
				if db.IsUniqueViolation(err, "") {
					return fmt.Errorf("execution reverted: ciphertext handle already registered")
				}
				return err
			}
			block, err = l.appendTx(ctx, repo, hash, enums.LedgerTxKindCreateRecord, in.ID, in.Sender)
			return err
		})
		if err != nil {
			return lifecycle.Receipt{}, err
		}
		l.logConfirmed(ctx, enums.LedgerTxKindCreateRecord, in.ID, hash, block)
		return lifecycle.Receipt{TxHash: hash, Block: block}, nil
	}), nil
}

func (l *Ledger) SubmitVerification(ctx context.Context, sender, id string, clearValues, proof []byte) (lifecycle.PendingTx, error) {
	if strings.TrimSpace(sender) == "" {
		return nil, fmt.Errorf("sender is required")
	}
	if err := l.signer.Sign(ctx, sender, enums.LedgerTxKindVerify, id); err != nil {
		return nil, err
	}

	rec, err := l.repo.FindRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, lifecycle.ErrRecordNotFound
	}
	if rec.IsVerified {
		return nil, fmt.Errorf("execution reverted: %w", lifecycle.ErrAlreadyVerified)
	}

	values, err := lifecycle.DecodeClearValues(clearValues)
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("execution reverted: expected 1 clear value, got %d", len(values))
	}
	if values[0] > math.MaxInt64 {
		return nil, fmt.Errorf("execution reverted: clear value out of range")
	}
	if err := l.proofs.VerifyDecryption([]string{rec.CiphertextHandle}, clearValues, proof); err != nil {
		return nil, fmt.Errorf("execution reverted: %w: %v", ErrInvalidDecryptionProof, err)
	}
	amount := int64(values[0])

	hash := txHash(enums.LedgerTxKindVerify, id, sender)
	return newPendingTx(hash, func(ctx context.Context) (lifecycle.Receipt, error) {
		var block int64
		err := l.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := l.repo.WithTx(tx)
			won, err := repo.MarkVerified(ctx, id, amount, sender, l.now().UTC())
			if err != nil {
				return err
			}
			if !won {
				return fmt.Errorf("execution reverted: %w", lifecycle.ErrAlreadyVerified)
			}
			block, err = l.appendTx(ctx, repo, hash, enums.LedgerTxKindVerify, id, sender)
			return err
		})
		if err != nil {
			return lifecycle.Receipt{}, err
		}
		l.logConfirmed(ctx, enums.LedgerTxKindVerify, id, hash, block)
		return lifecycle.Receipt{TxHash: hash, Block: block}, nil
	}), nil
}

func (l *Ledger) appendTx(ctx context.Context, repo Repository, hash string, kind enums.LedgerTxKind, recordID, sender string) (int64, error) {
	block, err := repo.NextBlock(ctx)
	if err != nil {
		return 0, err
	}
	if err := repo.CreateTransaction(ctx, &models.LedgerTransaction{
		Hash:     hash,
		Kind:     kind,
		RecordID: recordID,
		Sender:   sender,
		Block:    block,
	}); err != nil {
		return 0, err
	}
	return block, nil
}

func (l *Ledger) logConfirmed(ctx context.Context, kind enums.LedgerTxKind, recordID, hash string, block int64) {
	if l.logg == nil {
		return
	}
	ctx = l.logg.WithFields(ctx, map[string]any{
		"tx_kind":   string(kind),
		"record_id": recordID,
		"tx_hash":   hash,
		"block":     block,
	})
	l.logg.Info(ctx, "ledger.tx.confirmed")
}

func validateCreate(in lifecycle.CreateRecordTx) error {
	switch {
	case strings.TrimSpace(in.ID) == "":
		return fmt.Errorf("record id is required")
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("record name is required")
	case strings.TrimSpace(in.Sender) == "":
		return fmt.Errorf("sender is required")
	case in.Input.Handle == "" || len(in.Input.Ciphertext) == 0:
		return fmt.Errorf("encrypted input is required")
	}
	return nil
}

func toEntry(rec models.LedgerRecord) records.LedgerEntry {
	entry := records.LedgerEntry{
		ID:               rec.ID,
		Name:             rec.Name,
		Creator:          rec.Creator,
		CreatedAt:        rec.CreatedAt,
		PublicCondition:  rec.PublicCondition,
		PublicValue2:     rec.PublicValue2,
		Description:      rec.Description,
		CiphertextHandle: rec.CiphertextHandle,
		IsVerified:       rec.IsVerified,
	}
	if rec.IsVerified && rec.ClearAmount != nil {
		entry.ClearAmount = *rec.ClearAmount
	}
	return entry
}

func txHash(kind enums.LedgerTxKind, recordID, sender string) string {
	nonce := uuid.New()
	sum := blake2b.Sum256([]byte(string(kind) + "|" + recordID + "|" + sender + "|" + nonce.String()))
	return "0x" + hex.EncodeToString(sum[:])
}

// pendingTx lands its write on the first Wait; later calls return the same result.
type pendingTx struct {
	hash  string
	apply func(ctx context.Context) (lifecycle.Receipt, error)

	once    sync.Once
	receipt lifecycle.Receipt
	err     error
}

func newPendingTx(hash string, apply func(ctx context.Context) (lifecycle.Receipt, error)) *pendingTx {
	return &pendingTx{hash: hash, apply: apply}
}

func (p *pendingTx) Hash() string { return p.hash }

func (p *pendingTx) Wait(ctx context.Context) (lifecycle.Receipt, error) {
	p.once.Do(func() {
		p.receipt, p.err = p.apply(ctx)
	})
	return p.receipt, p.err
}
