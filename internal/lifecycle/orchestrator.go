package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/fhe-autopay/internal/records"
	"github.com/angelmondragon/fhe-autopay/internal/status"
	"github.com/angelmondragon/fhe-autopay/pkg/enums"
	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
)

const (
	defaultDescription = "Auto-Pay Condition"
	defaultMaxNameLen  = 120
)

// StatusSink receives every status the orchestrator emits.
type StatusSink interface {
	Publish(status.Status)
}

// Metrics records operation outcomes.
type Metrics interface {
	ObserveDuration(operation string, duration time.Duration)
	IncStatus(operation, phase string)
	IncAlreadyVerifiedRecovery()
}

// Limits bounds the plaintext inputs accepted at creation.
type Limits struct {
	MaxAmount    uint64
	MinCondition int64
	MaxCondition int64
	MaxNameLen   int
}

// DefaultLimits matches a 32-bit encrypted amount and a 32-bit signed condition.
func DefaultLimits() Limits {
	return Limits{
		MaxAmount:    math.MaxUint32,
		MinCondition: math.MinInt32,
		MaxCondition: math.MaxInt32,
		MaxNameLen:   defaultMaxNameLen,
	}
}

// Params groups dependencies for the orchestrator.
type Params struct {
	Reader      LedgerReader
	Writer      LedgerWriter
	Gateway     EncryptionGateway
	Oracle      VerificationOracle
	Identity    IdentityProvider
	Store       RecordStore
	Status      StatusSink
	IDs         IDIssuer
	Metrics     Metrics
	Logger      *logger.Logger
	Limits      Limits
	Description string
}

// Orchestrator sequences record creation and verification against the
// ledger, the encryption gateway and the verification oracle.
type Orchestrator struct {
	reader      LedgerReader
	writer      LedgerWriter
	gateway     EncryptionGateway
	oracle      VerificationOracle
	identity    IdentityProvider
	store       RecordStore
	status      StatusSink
	ids         IDIssuer
	metrics     Metrics
	logg        *logger.Logger
	limits      Limits
	description string
	now         func() time.Time
}

// NewOrchestrator validates and wires the orchestrator.
func NewOrchestrator(p Params) (*Orchestrator, error) {
	if p.Reader == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if p.Writer == nil {
		return nil, fmt.Errorf("ledger writer required")
	}
	if p.Gateway == nil {
		return nil, fmt.Errorf("encryption gateway required")
	}
	if p.Oracle == nil {
		return nil, fmt.Errorf("verification oracle required")
	}
	if p.Identity == nil {
		return nil, fmt.Errorf("identity provider required")
	}
	if p.Store == nil {
		return nil, fmt.Errorf("record store required")
	}
	if p.Status == nil {
		return nil, fmt.Errorf("status sink required")
	}
	if p.IDs == nil {
		p.IDs = UUIDIssuer{}
	}
	if p.Limits == (Limits{}) {
		p.Limits = DefaultLimits()
	}
	if p.Limits.MaxNameLen <= 0 {
		p.Limits.MaxNameLen = defaultMaxNameLen
	}
	if p.Limits.MinCondition > p.Limits.MaxCondition {
		return nil, fmt.Errorf("min condition %d exceeds max condition %d", p.Limits.MinCondition, p.Limits.MaxCondition)
	}
	if strings.TrimSpace(p.Description) == "" {
		p.Description = defaultDescription
	}
	return &Orchestrator{
		reader:      p.Reader,
		writer:      p.Writer,
		gateway:     p.Gateway,
		oracle:      p.Oracle,
		identity:    p.Identity,
		store:       p.Store,
		status:      p.Status,
		ids:         p.IDs,
		metrics:     p.Metrics,
		logg:        p.Logger,
		limits:      p.Limits,
		description: p.Description,
		now:         time.Now,
	}, nil
}

// CreateRecordInput is the plaintext form of a new auto-pay record.
type CreateRecordInput struct {
	Name            string
	Amount          uint64
	PublicCondition int64
}

// CreateRecord encrypts the amount, submits the record, waits for one
// confirmation and refreshes the store. Nothing reaches the store unless the
// transaction confirmed.
func (o *Orchestrator) CreateRecord(ctx context.Context, in CreateRecordInput) (records.Record, error) {
	ctx, op := o.begin(ctx, enums.OperationCreate, "")

	account, ok := o.identity.Current(ctx)
	if !ok {
		return records.Record{}, op.fail(errNotConnected())
	}
	name, err := o.validateCreate(in)
	if err != nil {
		return records.Record{}, op.fail(err)
	}

	op.pending("Creating auto-pay with FHE encryption...")

	contract, err := o.reader.ContractAddress(ctx)
	if err != nil {
		return records.Record{}, op.fail(submissionError(err, "resolve contract"))
	}

	input, err := o.gateway.Encrypt(ctx, contract, account, in.Amount)
	if err != nil {
		return records.Record{}, op.fail(pkgerrors.Wrap(pkgerrors.CodeEncryptionFailure, err, "Encryption failed: "+err.Error()))
	}

	id, err := o.ids.NewRecordID()
	if err != nil {
		return records.Record{}, op.fail(pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue record id"))
	}
	ctx = op.attachRecord(ctx, id)

	tx, err := o.writer.CreateRecord(ctx, CreateRecordTx{
		ID:              id,
		Name:            name,
		Sender:          account,
		Input:           input,
		PublicCondition: in.PublicCondition,
		PublicValue2:    0,
		Description:     o.description,
	})
	if err != nil {
		return records.Record{}, op.fail(submissionError(err, "submit record"))
	}

	op.step("Waiting for transaction confirmation...")
	receipt, err := tx.Wait(ctx)
	if err != nil {
		return records.Record{}, op.fail(submissionError(err, "await confirmation"))
	}

	refreshed, err := o.store.Refresh(ctx)
	if err != nil {
		return records.Record{}, op.fail(refreshError(err, id, receipt.TxHash))
	}

	rec, found := findRecord(refreshed, id)
	if !found {
		// the transaction is final; the replica is behind
		rec = records.Record{
			ID:               id,
			Name:             name,
			Creator:          account,
			CreatedAt:        o.now().UTC(),
			PublicCondition:  in.PublicCondition,
			Description:      o.description,
			CiphertextHandle: input.Handle,
			Status:           enums.VerificationStatusUnverified,
		}
		if o.logg != nil {
			o.logg.Warn(ctx, "lifecycle.create.refresh_behind")
		}
	}

	op.succeed("Auto-pay created successfully!")
	return rec, nil
}

// VerifyOutcome tells callers how a verification concluded.
type VerifyOutcome string

const (
	// VerifyOutcomeVerified means this call's submission was accepted.
	VerifyOutcomeVerified VerifyOutcome = "verified"
	// VerifyOutcomeAlreadyVerified means the ledger was verified before the call started.
	VerifyOutcomeAlreadyVerified VerifyOutcome = "already_verified"
	// VerifyOutcomeRecovered means another party verified first; re-read the record.
	VerifyOutcomeRecovered VerifyOutcome = "recovered"
)

// VerifyResult is the success-shaped result of VerifyRecord. Amount is nil
// only for VerifyOutcomeRecovered.
type VerifyResult struct {
	Amount  *int64
	Outcome VerifyOutcome
}

// VerifyRecord runs the two-phase decrypt for an unverified record. It reads
// the record fresh from the ledger on every call. Losing a verification race
// is not an error: the result has a nil Amount and VerifyOutcomeRecovered.
func (o *Orchestrator) VerifyRecord(ctx context.Context, recordID string) (VerifyResult, error) {
	ctx, op := o.begin(ctx, enums.OperationVerify, recordID)

	account, ok := o.identity.Current(ctx)
	if !ok {
		return VerifyResult{}, op.fail(errNotConnected())
	}

	entry, err := o.reader.GetRecord(ctx, recordID)
	if err != nil {
		return VerifyResult{}, op.fail(readError(err, recordID))
	}
	if entry.IsVerified {
		amount := entry.ClearAmount
		op.succeed("Data already verified on-chain")
		return VerifyResult{Amount: &amount, Outcome: VerifyOutcomeAlreadyVerified}, nil
	}

	op.pending("Decrypting with proof...")

	handle, err := o.reader.GetCiphertextHandle(ctx, recordID)
	if err != nil {
		return VerifyResult{}, op.fail(readError(err, recordID))
	}
	contract, err := o.reader.ContractAddress(ctx)
	if err != nil {
		return VerifyResult{}, op.fail(submissionError(err, "resolve contract"))
	}

	tracker := &submissionTracker{}
	submit := func(ctx context.Context, clearValues, proof []byte) (PendingTx, error) {
		op.step("Verifying decryption on-chain...")
		tx, err := o.writer.SubmitVerification(ctx, account, recordID, clearValues, proof)
		if err != nil {
			tracker.record(err)
			return nil, err
		}
		tracker.submitted()
		return &trackedTx{PendingTx: tx, tracker: tracker}, nil
	}

	result, err := o.oracle.DecryptAndVerify(ctx, []string{handle}, contract, submit)
	if err != nil {
		if errors.Is(err, ErrAlreadyVerified) || errors.Is(tracker.err(), ErrAlreadyVerified) {
			return o.recoverAlreadyVerified(ctx, op)
		}
		if submitErr := tracker.err(); submitErr != nil {
			return VerifyResult{}, op.fail(submissionError(submitErr, "submit verification"))
		}
		return VerifyResult{}, op.fail(oracleError(err))
	}
	if !tracker.wasSubmitted() {
		return VerifyResult{}, op.fail(oracleError(errors.New("oracle returned without submitting a proof")))
	}

	value, ok := result.ClearValues[handle]
	if !ok {
		return VerifyResult{}, op.fail(oracleError(fmt.Errorf("no clear value for handle %s", handle)))
	}
	if value > math.MaxInt64 {
		return VerifyResult{}, op.fail(oracleError(fmt.Errorf("clear value %d out of range", value)))
	}

	if _, err := o.store.Refresh(ctx); err != nil {
		return VerifyResult{}, op.fail(refreshError(err, recordID, ""))
	}

	amount := int64(value)
	op.succeed("Data decrypted and verified successfully!")
	return VerifyResult{Amount: &amount, Outcome: VerifyOutcomeVerified}, nil
}

func (o *Orchestrator) recoverAlreadyVerified(ctx context.Context, op *operation) (VerifyResult, error) {
	if o.metrics != nil {
		o.metrics.IncAlreadyVerifiedRecovery()
	}
	if o.logg != nil {
		o.logg.Info(ctx, "lifecycle.verify.already_verified_recovered")
	}
	if _, err := o.store.Refresh(ctx); err != nil {
		return VerifyResult{}, op.fail(refreshError(err, op.recordID, ""))
	}
	op.succeed("Data is already verified on-chain")
	return VerifyResult{Outcome: VerifyOutcomeRecovered}, nil
}

// PreviewDecrypt decrypts a record's amount for the caller only. The value is
// attached to the store as a local preview and never submitted. Verified
// records return their ledger amount and store nothing.
func (o *Orchestrator) PreviewDecrypt(ctx context.Context, recordID string) (int64, error) {
	ctx, op := o.begin(ctx, enums.OperationPreview, recordID)

	if _, ok := o.identity.Current(ctx); !ok {
		return 0, op.fail(errNotConnected())
	}

	entry, err := o.reader.GetRecord(ctx, recordID)
	if err != nil {
		return 0, op.fail(readError(err, recordID))
	}
	if entry.IsVerified {
		op.succeed("Data already verified on-chain")
		return entry.ClearAmount, nil
	}

	op.pending("Decrypting locally...")

	handle, err := o.reader.GetCiphertextHandle(ctx, recordID)
	if err != nil {
		return 0, op.fail(readError(err, recordID))
	}
	contract, err := o.reader.ContractAddress(ctx)
	if err != nil {
		return 0, op.fail(submissionError(err, "resolve contract"))
	}

	result, err := o.oracle.Decrypt(ctx, []string{handle}, contract)
	if err != nil {
		return 0, op.fail(oracleError(err))
	}
	value, ok := result.ClearValues[handle]
	if !ok {
		return 0, op.fail(oracleError(fmt.Errorf("no clear value for handle %s", handle)))
	}
	if value > math.MaxInt64 {
		return 0, op.fail(oracleError(fmt.Errorf("clear value %d out of range", value)))
	}

	amount := int64(value)
	o.store.SetLocalClearAmount(recordID, handle, amount)
	op.succeed("Data decrypted locally")
	return amount, nil
}

// ClearPreview drops a local preview. It performs no I/O.
func (o *Orchestrator) ClearPreview(recordID string) {
	o.store.ClearLocalClearAmount(recordID)
}

func (o *Orchestrator) validateCreate(in CreateRecordInput) (string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if len([]rune(name)) > o.limits.MaxNameLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("name exceeds %d characters", o.limits.MaxNameLen))
	}
	if in.Amount > o.limits.MaxAmount {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("amount must be between 0 and %d", o.limits.MaxAmount))
	}
	if in.PublicCondition < o.limits.MinCondition || in.PublicCondition > o.limits.MaxCondition {
		return "", pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("condition must be between %d and %d", o.limits.MinCondition, o.limits.MaxCondition))
	}
	return name, nil
}

func findRecord(list []records.Record, id string) (records.Record, bool) {
	for _, rec := range list {
		if rec.ID == id {
			return rec, true
		}
	}
	return records.Record{}, false
}

// submissionTracker remembers what happened to the submit callback, which the
// oracle may run on its own goroutine.
type submissionTracker struct {
	mu      sync.Mutex
	failure error
	sent    bool
}

func (t *submissionTracker) record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure == nil {
		t.failure = err
	}
}

func (t *submissionTracker) submitted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = true
}

func (t *submissionTracker) err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

func (t *submissionTracker) wasSubmitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

type trackedTx struct {
	PendingTx
	tracker *submissionTracker
}

func (t *trackedTx) Wait(ctx context.Context) (Receipt, error) {
	receipt, err := t.PendingTx.Wait(ctx)
	if err != nil {
		t.tracker.record(err)
	}
	return receipt, err
}
