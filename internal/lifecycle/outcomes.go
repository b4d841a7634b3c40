package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelmondragon/fhe-autopay/internal/status"
	"github.com/angelmondragon/fhe-autopay/pkg/enums"
	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
)

// operation emits the status stream of a single orchestrator call: at most one
// pending status at the start, then exactly one terminal status.
type operation struct {
	o        *Orchestrator
	ctx      context.Context
	kind     enums.Operation
	recordID string
	begun    time.Time

	mu      sync.Mutex
	started bool
	done    bool
}

func (o *Orchestrator) begin(ctx context.Context, kind enums.Operation, recordID string) (context.Context, *operation) {
	op := &operation{o: o, kind: kind, recordID: recordID, begun: o.now()}
	if o.logg != nil {
		ctx = o.logg.WithOperation(ctx, string(kind))
		if recordID != "" {
			ctx = o.logg.WithRecordID(ctx, recordID)
		}
	}
	op.ctx = ctx
	return ctx, op
}

func (op *operation) attachRecord(ctx context.Context, recordID string) context.Context {
	op.recordID = recordID
	if op.o.logg != nil {
		ctx = op.o.logg.WithRecordID(ctx, recordID)
	}
	op.ctx = ctx
	return ctx
}

func (op *operation) emit(phase enums.StatusPhase, message string) {
	op.o.status.Publish(status.Status{
		Phase:     phase,
		Message:   message,
		Operation: op.kind,
		RecordID:  op.recordID,
	})
	if op.o.metrics != nil {
		op.o.metrics.IncStatus(string(op.kind), string(phase))
	}
}

func (op *operation) pending(message string) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.done || op.started {
		return
	}
	op.started = true
	op.emit(enums.StatusPhasePending, message)
}

// step logs protocol progress after the pending status went out.
func (op *operation) step(message string) {
	if op.o.logg != nil {
		op.o.logg.Debug(op.o.logg.WithField(op.ctx, "step", message), "lifecycle."+string(op.kind)+".step")
	}
}

// finish marks the operation terminal and reports whether this call did so.
func (op *operation) finish() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.done {
		return false
	}
	op.done = true
	return true
}

func (op *operation) succeed(message string) {
	if !op.finish() {
		return
	}
	op.emit(enums.StatusPhaseSuccess, message)
	op.observe()
	if op.o.logg != nil {
		op.o.logg.Info(op.ctx, "lifecycle."+string(op.kind)+".succeeded")
	}
}

// fail emits the terminal error status and returns err for the caller.
func (op *operation) fail(err error) error {
	if !op.finish() {
		return err
	}
	op.emit(enums.StatusPhaseError, statusMessage(err))
	op.observe()
	if op.o.logg != nil {
		ctx := op.o.logg.WithField(op.ctx, "error_code", string(pkgerrors.As(err).Code()))
		if pkgerrors.HasCode(err, pkgerrors.CodeValidation) || pkgerrors.HasCode(err, pkgerrors.CodeNotConnected) || pkgerrors.HasCode(err, pkgerrors.CodeUserRejected) {
			op.o.logg.Warn(ctx, "lifecycle."+string(op.kind)+".rejected")
		} else {
			op.o.logg.Error(ctx, "lifecycle."+string(op.kind)+".failed", err)
		}
	}
	return err
}

func (op *operation) observe() {
	if op.o.metrics != nil {
		op.o.metrics.ObserveDuration(string(op.kind), op.o.now().Sub(op.begun))
	}
}

func statusMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	return "Unexpected error"
}

func errNotConnected() error {
	return pkgerrors.New(pkgerrors.CodeNotConnected, "Please connect wallet first")
}

func submissionError(err error, step string) error {
	if errors.Is(err, ErrUserRejected) {
		return pkgerrors.Wrap(pkgerrors.CodeUserRejected, err, "Transaction rejected by user")
	}
	return pkgerrors.Wrap(pkgerrors.CodeSubmissionFailed, err, "Submission failed: "+err.Error()).
		WithDetails(map[string]any{"step": step})
}

func oracleError(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeOracleFailure, err, "Decryption failed: "+err.Error())
}

func readError(err error, recordID string) error {
	if errors.Is(err, ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "record "+recordID+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeSubmissionFailed, err, "Failed to load record: "+err.Error()).
		WithDetails(map[string]any{"step": "read record"})
}

func refreshError(err error, recordID, txHash string) error {
	details := map[string]any{"step": "refresh", "record_id": recordID}
	if txHash != "" {
		details["tx_hash"] = txHash
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "Transaction confirmed but records failed to refresh: "+err.Error()).
		WithDetails(details)
}
