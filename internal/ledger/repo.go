package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/fhe-autopay/internal/repo"
	"github.com/angelmondragon/fhe-autopay/pkg/db/models"
	"github.com/angelmondragon/fhe-autopay/pkg/enums"
	"gorm.io/gorm"
)

// Repository manages persistence for ledger records and their transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRecord(ctx context.Context, record *models.LedgerRecord) error
	FindRecord(ctx context.Context, id string) (*models.LedgerRecord, error)
	FindByHandle(ctx context.Context, handle string) (*models.LedgerRecord, error)
	ListRecordIDs(ctx context.Context) ([]string, error)
	MarkVerified(ctx context.Context, id string, amount int64, sender string, at time.Time) (bool, error)
	NextBlock(ctx context.Context) (int64, error)
	CreateTransaction(ctx context.Context, tx *models.LedgerTransaction) error
	// ListTransactions returns up to limit transactions after afterBlock in
	// block order. A non-positive limit returns them all.
	ListTransactions(ctx context.Context, recordID string, afterBlock int64, limit int) ([]models.LedgerTransaction, error)
}

var errBlockCounterMissing = errors.New("ledger block counter row missing")

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) CreateRecord(ctx context.Context, record *models.LedgerRecord) error {
	return r.DB(ctx).Create(record).Error
}

func (r *repository) FindRecord(ctx context.Context, id string) (*models.LedgerRecord, error) {
	var record models.LedgerRecord
	if err := r.DB(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByHandle(ctx context.Context, handle string) (*models.LedgerRecord, error) {
	var record models.LedgerRecord
	if err := r.DB(ctx).Where("ciphertext_handle = ?", handle).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListRecordIDs returns IDs in the block order of their creating transactions.
func (r *repository) ListRecordIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.DB(ctx).
		Model(&models.LedgerRecord{}).
		Joins("JOIN ledger_transactions ON ledger_transactions.record_id = ledger_records.id AND ledger_transactions.kind = ?", enums.LedgerTxKindCreateRecord).
		Order("ledger_transactions.block ASC, ledger_transactions.hash ASC").
		Pluck("ledger_records.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkVerified flips an unverified record to verified. It reports false when
// the record was already verified, so only one writer ever wins.
func (r *repository) MarkVerified(ctx context.Context, id string, amount int64, sender string, at time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.LedgerRecord{}).
		Where("id = ? AND is_verified = ?", id, false).
		Updates(map[string]any{
			"is_verified":  true,
			"clear_amount": amount,
			"verified_by":  sender,
			"verified_at":  at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// NextBlock allocates the next block number from the single counter row. The
// row stays locked until the surrounding transaction ends, so concurrent
// writers receive distinct, increasing blocks in commit order.
func (r *repository) NextBlock(ctx context.Context) (int64, error) {
	var next []int64
	if err := r.DB(ctx).
		Raw("UPDATE ledger_block_counter SET block = block + 1 WHERE id = 1 RETURNING block").
		Scan(&next).Error; err != nil {
		return 0, err
	}
	if len(next) != 1 {
		return 0, errBlockCounterMissing
	}
	return next[0], nil
}

func (r *repository) CreateTransaction(ctx context.Context, tx *models.LedgerTransaction) error {
	return r.DB(ctx).Create(tx).Error
}

func (r *repository) ListTransactions(ctx context.Context, recordID string, afterBlock int64, limit int) ([]models.LedgerTransaction, error) {
	query := r.DB(ctx).
		Where("record_id = ?", recordID).
		Order("block ASC")
	if afterBlock > 0 {
		query = query.Where("block > ?", afterBlock)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var txs []models.LedgerTransaction
	if err := query.Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
