package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"github.com/angelmondragon/fhe-autopay/pkg/db"
	"github.com/angelmondragon/fhe-autopay/pkg/enums"
	"github.com/angelmondragon/fhe-autopay/pkg/migrate"
	"github.com/angelmondragon/fhe-autopay/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testContract = "0xC0FFEE"

type stubInputs struct{ err error }

func (s stubInputs) VerifyInput(string, string, lifecycle.EncryptedInput) error { return s.err }

type stubProofs struct{ err error }

func (s stubProofs) VerifyDecryption([]string, []byte, []byte) error { return s.err }

type rejectingSigner struct{ kind enums.LedgerTxKind }

func (r rejectingSigner) Sign(_ context.Context, _ string, kind enums.LedgerTxKind, _ string) error {
	if kind == r.kind {
		return lifecycle.ErrUserRejected
	}
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:ledger-"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migrate.UpEmbedded(context.Background(), sqlDB, config.DBDriverSQLite))
	return conn
}

func newTestLedger(t *testing.T, mutate func(p *Params)) *Ledger {
	t.Helper()
	conn := newTestDB(t)
	p := Params{
		Repo:     NewRepository(conn),
		Tx:       db.NewFromGorm(conn),
		Contract: testContract,
		Inputs:   stubInputs{},
		Proofs:   stubProofs{},
	}
	if mutate != nil {
		mutate(&p)
	}
	l, err := NewLedger(p)
	require.NoError(t, err)
	return l
}

func createTx(id, handle string) lifecycle.CreateRecordTx {
	return lifecycle.CreateRecordTx{
		ID:     id,
		Name:   "rent",
		Sender: "0xAAA",
		Input: lifecycle.EncryptedInput{
			Handle:     handle,
			Ciphertext: []byte{0x01, 0x02},
			InputProof: []byte("proof"),
		},
		PublicCondition: 5,
		Description:     "Auto-Pay Condition",
	}
}

func mustCreate(t *testing.T, l *Ledger, id, handle string) lifecycle.Receipt {
	t.Helper()
	ctx := context.Background()
	tx, err := l.CreateRecord(ctx, createTx(id, handle))
	require.NoError(t, err)
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	return receipt
}

func TestNewLedgerValidation(t *testing.T) {
	_, err := NewLedger(Params{})
	require.Error(t, err)

	conn := newTestDB(t)
	_, err = NewLedger(Params{Repo: NewRepository(conn), Tx: db.NewFromGorm(conn), Inputs: stubInputs{}, Proofs: stubProofs{}})
	require.ErrorContains(t, err, "contract address")
}

func TestCreateRecordIsFinalOnlyAfterWait(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	tx, err := l.CreateRecord(ctx, createTx("autopay-1", "0xh1"))
	require.NoError(t, err)
	require.NotEmpty(t, tx.Hash())

	ids, err := l.GetAllRecordIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "record must not be visible before confirmation")

	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), receipt.TxHash)
	assert.Equal(t, int64(1), receipt.Block)

	again, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, receipt, again)

	entry, err := l.GetRecord(ctx, "autopay-1")
	require.NoError(t, err)
	assert.Equal(t, "rent", entry.Name)
	assert.Equal(t, "0xAAA", entry.Creator)
	assert.Equal(t, int64(5), entry.PublicCondition)
	assert.Equal(t, "0xh1", entry.CiphertextHandle)
	assert.False(t, entry.IsVerified)

	handle, err := l.GetCiphertextHandle(ctx, "autopay-1")
	require.NoError(t, err)
	assert.Equal(t, "0xh1", handle)

	ct, err := l.Ciphertext(ctx, "0xh1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, ct)
}

func TestRecordIDsFollowLedgerOrder(t *testing.T) {
	l := newTestLedger(t, nil)
	mustCreate(t, l, "autopay-b", "0xh1")
	second := mustCreate(t, l, "autopay-a", "0xh2")
	assert.Equal(t, int64(2), second.Block)

	ids, err := l.GetAllRecordIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"autopay-b", "autopay-a"}, ids)
}

func TestCreateRecordRejections(t *testing.T) {
	t.Run("signer rejects", func(t *testing.T) {
		l := newTestLedger(t, func(p *Params) { p.Signer = rejectingSigner{kind: enums.LedgerTxKindCreateRecord} })
		_, err := l.CreateRecord(context.Background(), createTx("autopay-1", "0xh1"))
		require.ErrorIs(t, err, lifecycle.ErrUserRejected)
	})

	t.Run("bad input proof", func(t *testing.T) {
		l := newTestLedger(t, func(p *Params) { p.Inputs = stubInputs{err: errors.New("mac mismatch")} })
		_, err := l.CreateRecord(context.Background(), createTx("autopay-1", "0xh1"))
		require.ErrorIs(t, err, ErrInvalidInputProof)
	})

	t.Run("missing fields", func(t *testing.T) {
		l := newTestLedger(t, nil)
		in := createTx("autopay-1", "0xh1")
		in.Name = " "
		_, err := l.CreateRecord(context.Background(), in)
		require.ErrorContains(t, err, "name is required")
	})

	t.Run("duplicate id reverts on wait", func(t *testing.T) {
		l := newTestLedger(t, nil)
		mustCreate(t, l, "autopay-1", "0xh1")
		tx, err := l.CreateRecord(context.Background(), createTx("autopay-1", "0xh2"))
		require.NoError(t, err)
		_, err = tx.Wait(context.Background())
		require.ErrorContains(t, err, "already exists")
	})

	t.Run("duplicate handle reverts on wait", func(t *testing.T) {
		l := newTestLedger(t, nil)
		mustCreate(t, l, "autopay-1", "0xh1")
		tx, err := l.CreateRecord(context.Background(), createTx("autopay-2", "0xh1"))
		require.NoError(t, err)
		_, err = tx.Wait(context.Background())
		require.ErrorContains(t, err, "ciphertext handle already registered")
	})
}

func TestGetRecordNotFound(t *testing.T) {
	l := newTestLedger(t, nil)
	_, err := l.GetRecord(context.Background(), "missing")
	require.ErrorIs(t, err, lifecycle.ErrRecordNotFound)
	_, err = l.GetCiphertextHandle(context.Background(), "missing")
	require.ErrorIs(t, err, lifecycle.ErrRecordNotFound)
	_, err = l.Ciphertext(context.Background(), "0xnope")
	require.ErrorIs(t, err, ErrUnknownHandle)
	_, err = l.Transactions(context.Background(), "missing")
	require.ErrorIs(t, err, lifecycle.ErrRecordNotFound)
}

func TestSubmitVerificationAcceptsOnce(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()
	mustCreate(t, l, "autopay-1", "0xh1")

	tx, err := l.SubmitVerification(ctx, "0xBBB", "autopay-1", lifecycle.EncodeClearValues([]uint64{42}), []byte("proof"))
	require.NoError(t, err)
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), receipt.Block)

	entry, err := l.GetRecord(ctx, "autopay-1")
	require.NoError(t, err)
	assert.True(t, entry.IsVerified)
	assert.Equal(t, int64(42), entry.ClearAmount)

	_, err = l.SubmitVerification(ctx, "0xAAA", "autopay-1", lifecycle.EncodeClearValues([]uint64{42}), []byte("proof"))
	require.ErrorIs(t, err, lifecycle.ErrAlreadyVerified)

	txs, err := l.Transactions(ctx, "autopay-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, enums.LedgerTxKindCreateRecord, txs[0].Kind)
	assert.Equal(t, enums.LedgerTxKindVerify, txs[1].Kind)
	assert.Equal(t, "0xBBB", txs[1].Sender)
}

func TestTransactionPageWalksCursor(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()
	mustCreate(t, l, "autopay-1", "0xh1")
	mustCreate(t, l, "autopay-2", "0xh2")
	tx, err := l.SubmitVerification(ctx, "0xBBB", "autopay-1", lifecycle.EncodeClearValues([]uint64{7}), []byte("proof"))
	require.NoError(t, err)
	_, err = tx.Wait(ctx)
	require.NoError(t, err)

	first, err := l.TransactionPage(ctx, "autopay-1", pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, enums.LedgerTxKindCreateRecord, first.Items[0].Kind)
	require.NotEmpty(t, first.NextCursor)

	second, err := l.TransactionPage(ctx, "autopay-1", pagination.Params{Limit: 1, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, enums.LedgerTxKindVerify, second.Items[0].Kind)
	assert.Equal(t, int64(3), second.Items[0].Block)
	assert.Empty(t, second.NextCursor)

	_, err = l.TransactionPage(ctx, "autopay-1", pagination.Params{Cursor: "!!"})
	require.ErrorIs(t, err, ErrInvalidCursor)
	_, err = l.TransactionPage(ctx, "missing", pagination.Params{})
	require.ErrorIs(t, err, lifecycle.ErrRecordNotFound)
}

func TestSubmitVerificationRacingWaitersOneWins(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()
	mustCreate(t, l, "autopay-1", "0xh1")

	// both pass the submission checks before either lands
	first, err := l.SubmitVerification(ctx, "0xAAA", "autopay-1", lifecycle.EncodeClearValues([]uint64{42}), []byte("proof"))
	require.NoError(t, err)
	second, err := l.SubmitVerification(ctx, "0xBBB", "autopay-1", lifecycle.EncodeClearValues([]uint64{42}), []byte("proof"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, tx := range []lifecycle.PendingTx{first, second} {
		wg.Add(1)
		go func(i int, tx lifecycle.PendingTx) {
			defer wg.Done()
			_, errs[i] = tx.Wait(ctx)
		}(i, tx)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, lifecycle.ErrAlreadyVerified):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	txs, err := l.Transactions(ctx, "autopay-1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestSubmitVerificationRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("bad proof", func(t *testing.T) {
		l := newTestLedger(t, func(p *Params) { p.Proofs = stubProofs{err: errors.New("mac mismatch")} })
		mustCreate(t, l, "autopay-1", "0xh1")
		_, err := l.SubmitVerification(ctx, "0xAAA", "autopay-1", lifecycle.EncodeClearValues([]uint64{42}), []byte("bad"))
		require.ErrorIs(t, err, ErrInvalidDecryptionProof)
	})

	t.Run("wrong value count", func(t *testing.T) {
		l := newTestLedger(t, nil)
		mustCreate(t, l, "autopay-1", "0xh1")
		_, err := l.SubmitVerification(ctx, "0xAAA", "autopay-1", lifecycle.EncodeClearValues([]uint64{1, 2}), []byte("proof"))
		require.ErrorContains(t, err, "expected 1 clear value")
	})

	t.Run("signer rejects", func(t *testing.T) {
		l := newTestLedger(t, func(p *Params) { p.Signer = rejectingSigner{kind: enums.LedgerTxKindVerify} })
		mustCreate(t, l, "autopay-1", "0xh1")
		_, err := l.SubmitVerification(ctx, "0xAAA", "autopay-1", lifecycle.EncodeClearValues([]uint64{42}), []byte("proof"))
		require.ErrorIs(t, err, lifecycle.ErrUserRejected)
	})

	t.Run("unknown record", func(t *testing.T) {
		l := newTestLedger(t, nil)
		_, err := l.SubmitVerification(ctx, "0xAAA", "missing", lifecycle.EncodeClearValues([]uint64{42}), []byte("proof"))
		require.ErrorIs(t, err, lifecycle.ErrRecordNotFound)
	})
}
