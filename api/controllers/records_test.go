package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fhe-autopay/internal/ledger"
	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/internal/records"
	"github.com/angelmondragon/fhe-autopay/pkg/db/models"
	"github.com/angelmondragon/fhe-autopay/pkg/enums"
	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
	"github.com/angelmondragon/fhe-autopay/pkg/pagination"
)

type stubRecordService struct {
	created    lifecycle.CreateRecordInput
	createRec  records.Record
	createErr  error
	verifyID   string
	verifyRes  lifecycle.VerifyResult
	verifyErr  error
	preview    int64
	previewErr error
	cleared    string
	ctxErr     error
}

func (s *stubRecordService) CreateRecord(ctx context.Context, in lifecycle.CreateRecordInput) (records.Record, error) {
	s.created = in
	s.ctxErr = ctx.Err()
	return s.createRec, s.createErr
}

func (s *stubRecordService) VerifyRecord(ctx context.Context, id string) (lifecycle.VerifyResult, error) {
	s.verifyID = id
	return s.verifyRes, s.verifyErr
}

func (s *stubRecordService) PreviewDecrypt(ctx context.Context, id string) (int64, error) {
	return s.preview, s.previewErr
}

func (s *stubRecordService) ClearPreview(id string) {
	s.cleared = id
}

type stubRecordReader struct {
	list       []records.Record
	refreshErr error
	refreshes  int
}

func (s *stubRecordReader) Refresh(context.Context) ([]records.Record, error) {
	s.refreshes++
	if s.refreshErr != nil {
		return nil, s.refreshErr
	}
	return s.list, nil
}

func (s *stubRecordReader) Snapshot() []records.Record {
	return append([]records.Record(nil), s.list...)
}

func (s *stubRecordReader) Get(id string) (records.Record, bool) {
	for _, rec := range s.list {
		if rec.ID == id {
			return rec, true
		}
	}
	return records.Record{}, false
}

type stubTransactionLister struct {
	page   ledger.TransactionPage
	err    error
	params *pagination.Params
}

func (s stubTransactionLister) TransactionPage(_ context.Context, _ string, params pagination.Params) (ledger.TransactionPage, error) {
	if s.params != nil {
		*s.params = params
	}
	return s.page, s.err
}

func int64Ptr(v int64) *int64 { return &v }

func sampleRecords() []records.Record {
	return []records.Record{
		{ID: "autopay-1", Name: "Rent", Creator: "0xAAA", PublicCondition: 5, Status: enums.VerificationStatusVerified, ClearAmount: int64Ptr(100)},
		{ID: "autopay-2", Name: "Gym", Creator: "0xBBB", PublicCondition: 0, Status: enums.VerificationStatusUnverified},
	}
}

func serve(method, pattern, target, body string, h http.HandlerFunc) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Method(method, pattern, h)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeData(t *testing.T, resp *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func TestRecordsListFiltersByQuery(t *testing.T) {
	reader := &stubRecordReader{list: sampleRecords()}
	resp := serve(http.MethodGet, "/records", "/records?q=0xbbb", "", RecordsList(reader, nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var out []records.Record
	decodeData(t, resp, &out)
	if len(out) != 1 || out[0].ID != "autopay-2" {
		t.Fatalf("unexpected filter result %+v", out)
	}
}

func TestRecordsRefresh(t *testing.T) {
	reader := &stubRecordReader{list: sampleRecords()}
	resp := serve(http.MethodPost, "/records/refresh", "/records/refresh", "", RecordsRefresh(reader, nil))
	if resp.Code != http.StatusOK || reader.refreshes != 1 {
		t.Fatalf("expected one refresh, got code %d refreshes %d", resp.Code, reader.refreshes)
	}

	reader.refreshErr = errors.New("rpc down")
	resp = serve(http.MethodPost, "/records/refresh", "/records/refresh", "", RecordsRefresh(reader, nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRecordGet(t *testing.T) {
	reader := &stubRecordReader{list: sampleRecords()}

	resp := serve(http.MethodGet, "/records/{id}", "/records/autopay-1", "", RecordGet(reader, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var rec records.Record
	decodeData(t, resp, &rec)
	if rec.ClearAmount == nil || *rec.ClearAmount != 100 {
		t.Fatalf("unexpected record %+v", rec)
	}

	resp = serve(http.MethodGet, "/records/{id}", "/records/missing", "", RecordGet(reader, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestRecordStats(t *testing.T) {
	reader := &stubRecordReader{list: sampleRecords()}
	resp := serve(http.MethodGet, "/stats", "/stats", "", RecordStats(reader, nil))

	var stats struct {
		TotalPayments int    `json:"total_payments"`
		VerifiedCount int    `json:"verified_count"`
		AvgAmount     string `json:"avg_amount"`
		SuccessRate   string `json:"success_rate"`
	}
	decodeData(t, resp, &stats)
	if stats.TotalPayments != 2 || stats.VerifiedCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.AvgAmount != "50" || stats.SuccessRate != "50" {
		t.Fatalf("unexpected derived figures %+v", stats)
	}
}

func TestRecordCreate(t *testing.T) {
	svc := &stubRecordService{createRec: records.Record{ID: "autopay-9", Name: "Rent"}}
	resp := serve(http.MethodPost, "/records", "/records", `{"name":"Rent","amount":100,"condition":5}`, RecordCreate(svc, nil))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.created.Name != "Rent" || svc.created.Amount != 100 || svc.created.PublicCondition != 5 {
		t.Fatalf("unexpected input %+v", svc.created)
	}
	if svc.ctxErr != nil {
		t.Fatalf("orchestrator context must be live, got %v", svc.ctxErr)
	}
}

func TestRecordCreateValidatesBody(t *testing.T) {
	cases := map[string]string{
		"missing amount":    `{"name":"Rent","condition":5}`,
		"missing condition": `{"name":"Rent","amount":1}`,
		"negative amount":   `{"name":"Rent","amount":-1,"condition":5}`,
		"unknown field":     `{"name":"Rent","amount":1,"condition":5,"x":1}`,
	}
	for name, body := range cases {
		svc := &stubRecordService{}
		resp := serve(http.MethodPost, "/records", "/records", body, RecordCreate(svc, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, resp.Code)
		}
		if svc.created != (lifecycle.CreateRecordInput{}) {
			t.Fatalf("%s: service must not be called", name)
		}
	}
}

func TestRecordCreateMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{pkgerrors.New(pkgerrors.CodeNotConnected, "Please connect wallet first"), http.StatusUnauthorized},
		{pkgerrors.New(pkgerrors.CodeUserRejected, "Transaction rejected by user"), http.StatusConflict},
		{pkgerrors.New(pkgerrors.CodeEncryptionFailure, "Encryption failed: no key"), http.StatusUnprocessableEntity},
		{pkgerrors.New(pkgerrors.CodeSubmissionFailed, "Submission failed: reverted"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		svc := &stubRecordService{createErr: tc.err}
		resp := serve(http.MethodPost, "/records", "/records", `{"name":"Rent","amount":1,"condition":1}`, RecordCreate(svc, nil))
		if resp.Code != tc.status {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.status, resp.Code)
		}
	}
}

func TestRecordVerify(t *testing.T) {
	svc := &stubRecordService{verifyRes: lifecycle.VerifyResult{Amount: int64Ptr(42), Outcome: lifecycle.VerifyOutcomeVerified}}
	resp := serve(http.MethodPost, "/records/{id}/verify", "/records/autopay-1/verify", "", RecordVerify(svc, nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.verifyID != "autopay-1" {
		t.Fatalf("unexpected id %q", svc.verifyID)
	}
	var out verifyRecordResponse
	decodeData(t, resp, &out)
	if out.Amount == nil || *out.Amount != 42 || out.AlreadyVerified || out.Outcome != "verified" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestRecordVerifyRecovered(t *testing.T) {
	svc := &stubRecordService{verifyRes: lifecycle.VerifyResult{Outcome: lifecycle.VerifyOutcomeRecovered}}
	resp := serve(http.MethodPost, "/records/{id}/verify", "/records/autopay-1/verify", "", RecordVerify(svc, nil))

	var out verifyRecordResponse
	decodeData(t, resp, &out)
	if out.Amount != nil || !out.AlreadyVerified || out.Outcome != "recovered" {
		t.Fatalf("unexpected response %+v", out)
	}
}

func TestRecordVerifyOracleFailure(t *testing.T) {
	svc := &stubRecordService{verifyErr: pkgerrors.New(pkgerrors.CodeOracleFailure, "Decryption failed: relayer down")}
	resp := serve(http.MethodPost, "/records/{id}/verify", "/records/autopay-1/verify", "", RecordVerify(svc, nil))

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
	if code := errorCode(t, resp); code != string(pkgerrors.CodeOracleFailure) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestRecordPreviewAndClear(t *testing.T) {
	svc := &stubRecordService{preview: 77}
	resp := serve(http.MethodPost, "/records/{id}/preview", "/records/autopay-2/preview", "", RecordPreview(svc, nil))
	var out previewResponse
	decodeData(t, resp, &out)
	if out.Amount != 77 || out.RecordID != "autopay-2" {
		t.Fatalf("unexpected preview %+v", out)
	}

	resp = serve(http.MethodDelete, "/records/{id}/preview", "/records/autopay-2/preview", "", RecordPreviewClear(svc, nil))
	if resp.Code != http.StatusNoContent || svc.cleared != "autopay-2" {
		t.Fatalf("expected cleared preview, got %d %q", resp.Code, svc.cleared)
	}
}

func TestRecordTransactions(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var got pagination.Params
	lister := stubTransactionLister{
		params: &got,
		page: ledger.TransactionPage{
			Items: []models.LedgerTransaction{
				{Hash: "0x1", Kind: enums.LedgerTxKindCreateRecord, RecordID: "autopay-1", Sender: "0xAAA", Block: 1, CreatedAt: at},
			},
			NextCursor: "next",
		},
	}

	resp := serve(http.MethodGet, "/records/{id}/transactions", "/records/autopay-1/transactions?limit=1&cursor=abc", "", RecordTransactions(lister, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got.Limit != 1 || got.Cursor != "abc" {
		t.Fatalf("unexpected paging params %+v", got)
	}
	var out transactionPageResponse
	decodeData(t, resp, &out)
	if len(out.Items) != 1 || out.Items[0].Kind != "create_record" || out.Items[0].Block != 1 {
		t.Fatalf("unexpected transactions %+v", out)
	}
	if out.NextCursor != "next" {
		t.Fatalf("expected next cursor, got %q", out.NextCursor)
	}
}

func TestRecordTransactionsErrors(t *testing.T) {
	lister := stubTransactionLister{err: records.ErrNotFound}
	resp := serve(http.MethodGet, "/records/{id}/transactions", "/records/missing/transactions", "", RecordTransactions(lister, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}

	resp = serve(http.MethodGet, "/records/{id}/transactions", "/records/autopay-1/transactions?limit=0", "", RecordTransactions(stubTransactionLister{}, nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit got %d", resp.Code)
	}

	lister = stubTransactionLister{err: ledger.ErrInvalidCursor}
	resp = serve(http.MethodGet, "/records/{id}/transactions", "/records/autopay-1/transactions?cursor=zz", "", RecordTransactions(lister, nil))
	if resp.Code != http.StatusBadRequest || errorCode(t, resp) != string(pkgerrors.CodeValidation) {
		t.Fatalf("expected 400 for bad cursor got %d", resp.Code)
	}

	lister = stubTransactionLister{err: errors.New("db down")}
	resp = serve(http.MethodGet, "/records/{id}/transactions", "/records/autopay-1/transactions", "", RecordTransactions(lister, nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}
