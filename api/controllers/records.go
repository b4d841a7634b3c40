package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fhe-autopay/api/responses"
	"github.com/angelmondragon/fhe-autopay/api/validators"
	"github.com/angelmondragon/fhe-autopay/internal/ledger"
	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/internal/records"
	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
	"github.com/angelmondragon/fhe-autopay/pkg/pagination"
)

const maxSearchLen = 120

// RecordService runs the ledger-writing operations.
type RecordService interface {
	CreateRecord(ctx context.Context, in lifecycle.CreateRecordInput) (records.Record, error)
	VerifyRecord(ctx context.Context, recordID string) (lifecycle.VerifyResult, error)
	PreviewDecrypt(ctx context.Context, recordID string) (int64, error)
	ClearPreview(recordID string)
}

// RecordReader serves reads from the replica.
type RecordReader interface {
	Refresh(ctx context.Context) ([]records.Record, error)
	Snapshot() []records.Record
	Get(id string) (records.Record, bool)
}

// TransactionLister pages through the accepted ledger transactions of a record.
type TransactionLister interface {
	TransactionPage(ctx context.Context, recordID string, params pagination.Params) (ledger.TransactionPage, error)
}

type createRecordRequest struct {
	Name      string  `json:"name" validate:"required"`
	Amount    *uint64 `json:"amount" validate:"required"`
	Condition *int64  `json:"condition" validate:"required"`
}

type verifyRecordResponse struct {
	Amount          *int64 `json:"amount"`
	AlreadyVerified bool   `json:"already_verified"`
	Outcome         string `json:"outcome"`
}

type previewResponse struct {
	RecordID string `json:"record_id"`
	Amount   int64  `json:"amount"`
}

type transactionResponse struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender"`
	Block     int64     `json:"block"`
	CreatedAt time.Time `json:"created_at"`
}

type transactionPageResponse struct {
	Items      []transactionResponse `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// RecordsList returns the cached records, optionally filtered by ?q= over
// name and creator.
func RecordsList(reader RecordReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record store unavailable"))
			return
		}
		term := validators.SanitizeString(r.URL.Query().Get("q"), maxSearchLen)
		responses.WriteSuccess(w, records.Filter(reader.Snapshot(), term))
	}
}

// RecordsRefresh re-reads the ledger into the replica.
func RecordsRefresh(reader RecordReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record store unavailable"))
			return
		}
		list, err := reader.Refresh(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh failed"))
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// RecordGet returns one cached record.
func RecordGet(reader RecordReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record store unavailable"))
			return
		}
		id, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		rec, ok := reader.Get(id)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "record not found"))
			return
		}
		responses.WriteSuccess(w, rec)
	}
}

// RecordStats returns the dashboard figures for the cached records.
func RecordStats(reader RecordReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record store unavailable"))
			return
		}
		responses.WriteSuccess(w, records.ComputeStats(reader.Snapshot()))
	}
}

// RecordCreate encrypts and submits a new record.
func RecordCreate(svc RecordService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record service unavailable"))
			return
		}

		var req createRecordRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// a client disconnect must not abandon a submitted transaction
		rec, err := svc.CreateRecord(context.WithoutCancel(ctx), lifecycle.CreateRecordInput{
			Name:            req.Name,
			Amount:          *req.Amount,
			PublicCondition: *req.Condition,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, rec)
	}
}

// RecordVerify runs the two-phase decrypt and submits the proof.
func RecordVerify(svc RecordService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record service unavailable"))
			return
		}
		id, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.VerifyRecord(context.WithoutCancel(ctx), id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, verifyRecordResponse{
			Amount:          result.Amount,
			AlreadyVerified: result.Outcome != lifecycle.VerifyOutcomeVerified,
			Outcome:         string(result.Outcome),
		})
	}
}

// RecordPreview decrypts the amount for the caller without submitting it.
func RecordPreview(svc RecordService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record service unavailable"))
			return
		}
		id, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		amount, err := svc.PreviewDecrypt(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, previewResponse{RecordID: id, Amount: amount})
	}
}

// RecordPreviewClear drops the caller-side preview.
func RecordPreviewClear(svc RecordService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "record service unavailable"))
			return
		}
		id, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		svc.ClearPreview(id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// RecordTransactions pages through a record's accepted ledger transactions
// with ?limit= and ?cursor=.
func RecordTransactions(lister TransactionLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if lister == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		id, err := recordIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		page, err := lister.TransactionPage(ctx, id, pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			switch {
			case errors.Is(err, records.ErrNotFound):
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "record not found"))
			case errors.Is(err, ledger.ErrInvalidCursor):
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			default:
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions"))
			}
			return
		}

		out := transactionPageResponse{
			Items:      make([]transactionResponse, 0, len(page.Items)),
			NextCursor: page.NextCursor,
		}
		for _, tx := range page.Items {
			out.Items = append(out.Items, transactionResponse{
				Hash:      tx.Hash,
				Kind:      string(tx.Kind),
				Sender:    tx.Sender,
				Block:     tx.Block,
				CreatedAt: tx.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}

func recordIDParam(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "record id is required")
	}
	return id, nil
}
