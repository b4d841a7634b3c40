package lifecycle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/fhe-autopay/internal/records"
	"github.com/angelmondragon/fhe-autopay/internal/status"
)

const testContract = "0xC0FFEE"

type fakeLedger struct {
	mu          sync.Mutex
	order       []string
	entries     map[string]records.LedgerEntry
	ciphertexts map[string][]byte
	accepted    int

	contractErr error
	createErr   error
	waitErr     error
	submitErr   error
	hideIDs     bool
	enumErr     error
	readCalls   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		entries:     make(map[string]records.LedgerEntry),
		ciphertexts: make(map[string][]byte),
	}
}

func (l *fakeLedger) ContractAddress(context.Context) (string, error) {
	if l.contractErr != nil {
		return "", l.contractErr
	}
	return testContract, nil
}

func (l *fakeLedger) GetAllRecordIDs(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.enumErr != nil {
		return nil, l.enumErr
	}
	if l.hideIDs {
		return nil, nil
	}
	return append([]string(nil), l.order...), nil
}

func (l *fakeLedger) GetRecord(_ context.Context, id string) (records.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readCalls++
	entry, ok := l.entries[id]
	if !ok {
		return records.LedgerEntry{}, ErrRecordNotFound
	}
	return entry, nil
}

func (l *fakeLedger) GetCiphertextHandle(_ context.Context, id string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok {
		return "", ErrRecordNotFound
	}
	return entry.CiphertextHandle, nil
}

func (l *fakeLedger) ciphertext(handle string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ct, ok := l.ciphertexts[handle]
	return ct, ok
}

func (l *fakeLedger) CreateRecord(_ context.Context, tx CreateRecordTx) (PendingTx, error) {
	if l.createErr != nil {
		return nil, l.createErr
	}
	return &fakeTx{hash: "0xcreate-" + tx.ID, waitErr: l.waitErr, apply: func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.order = append(l.order, tx.ID)
		l.ciphertexts[tx.Input.Handle] = tx.Input.Ciphertext
		l.entries[tx.ID] = records.LedgerEntry{
			ID:               tx.ID,
			Name:             tx.Name,
			Creator:          tx.Sender,
			CreatedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			PublicCondition:  tx.PublicCondition,
			PublicValue2:     tx.PublicValue2,
			Description:      tx.Description,
			CiphertextHandle: tx.Input.Handle,
		}
	}}, nil
}

func (l *fakeLedger) SubmitVerification(_ context.Context, _ string, id string, clearValues, _ []byte) (PendingTx, error) {
	if l.submitErr != nil {
		return nil, l.submitErr
	}
	values, err := DecodeClearValues(clearValues)
	if err != nil || len(values) != 1 {
		return nil, fmt.Errorf("bad clear values")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if entry.IsVerified {
		return nil, fmt.Errorf("execution reverted: %w", ErrAlreadyVerified)
	}
	entry.IsVerified = true
	entry.ClearAmount = int64(values[0])
	l.entries[id] = entry
	l.accepted++
	return &fakeTx{hash: "0xverify-" + id}, nil
}

func (l *fakeLedger) markVerified(id string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.entries[id]
	entry.IsVerified = true
	entry.ClearAmount = amount
	l.entries[id] = entry
}

func (l *fakeLedger) acceptedSubmissions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepted
}

type fakeTx struct {
	hash    string
	waitErr error
	apply   func()
	once    sync.Once
}

func (t *fakeTx) Hash() string { return t.hash }

func (t *fakeTx) Wait(context.Context) (Receipt, error) {
	if t.waitErr != nil {
		return Receipt{}, t.waitErr
	}
	t.once.Do(func() {
		if t.apply != nil {
			t.apply()
		}
	})
	return Receipt{TxHash: t.hash, Block: 1}, nil
}

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls int
	next  int
}

func (g *fakeGateway) Encrypt(_ context.Context, contract, requester string, plaintext uint64) (EncryptedInput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return EncryptedInput{}, g.err
	}
	if contract == "" || requester == "" {
		return EncryptedInput{}, errors.New("missing binding")
	}
	g.next++
	ct := make([]byte, 8)
	binary.BigEndian.PutUint64(ct, plaintext)
	return EncryptedInput{
		Handle:     fmt.Sprintf("0xhandle%02d", g.next),
		Ciphertext: ct,
		InputProof: []byte("proof"),
	}, nil
}

type fakeOracle struct {
	ledger *fakeLedger

	mu           sync.Mutex
	decryptErr   error
	skipSubmit   bool
	dropValue    bool
	verifyCalls  int
	decryptCalls int
	// gate, when set, is waited on after decrypting and before submitting.
	gate chan struct{}
}

func (o *fakeOracle) decrypt(handles []string) (map[string]uint64, error) {
	if o.decryptErr != nil {
		return nil, o.decryptErr
	}
	out := make(map[string]uint64, len(handles))
	for _, h := range handles {
		ct, ok := o.ledger.ciphertext(h)
		if !ok {
			return nil, fmt.Errorf("unknown handle %s", h)
		}
		out[h] = binary.BigEndian.Uint64(ct)
	}
	return out, nil
}

func (o *fakeOracle) DecryptAndVerify(ctx context.Context, handles []string, _ string, submit SubmitFunc) (DecryptionResult, error) {
	o.mu.Lock()
	o.verifyCalls++
	o.mu.Unlock()

	values, err := o.decrypt(handles)
	if err != nil {
		return DecryptionResult{}, fmt.Errorf("relayer: %w", err)
	}
	if o.gate != nil {
		<-o.gate
	}
	ordered := make([]uint64, len(handles))
	for i, h := range handles {
		ordered[i] = values[h]
	}
	encoded := EncodeClearValues(ordered)
	if !o.skipSubmit {
		tx, err := submit(ctx, encoded, []byte("kms-proof"))
		if err != nil {
			return DecryptionResult{}, fmt.Errorf("submit: %w", err)
		}
		if _, err := tx.Wait(ctx); err != nil {
			return DecryptionResult{}, fmt.Errorf("wait: %w", err)
		}
	}
	if o.dropValue {
		values = map[string]uint64{}
	}
	return DecryptionResult{ClearValues: values, AbiEncoded: encoded, Proof: []byte("kms-proof")}, nil
}

func (o *fakeOracle) Decrypt(_ context.Context, handles []string, _ string) (DecryptionResult, error) {
	o.mu.Lock()
	o.decryptCalls++
	o.mu.Unlock()
	values, err := o.decrypt(handles)
	if err != nil {
		return DecryptionResult{}, err
	}
	return DecryptionResult{ClearValues: values}, nil
}

func (o *fakeOracle) calls() (verify, decrypt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.verifyCalls, o.decryptCalls
}

type staticIdentity struct {
	account string
}

func (s staticIdentity) Current(context.Context) (string, bool) {
	return s.account, s.account != ""
}

type recordingStatus struct {
	mu     sync.Mutex
	events []status.Status
}

func (r *recordingStatus) Publish(s status.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recordingStatus) snapshot() []status.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.Status(nil), r.events...)
}

type sequenceIssuer struct {
	mu   sync.Mutex
	next int
}

func (s *sequenceIssuer) NewRecordID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return fmt.Sprintf("autopay-test-%d", s.next), nil
}

type harness struct {
	ledger   *fakeLedger
	gateway  *fakeGateway
	oracle   *fakeOracle
	store    *records.Store
	statuses *recordingStatus
	orch     *Orchestrator
}

func newHarness(account string) *harness {
	ledger := newFakeLedger()
	store, err := records.NewStore(records.StoreParams{Source: ledger})
	if err != nil {
		panic(err)
	}
	h := &harness{
		ledger:   ledger,
		gateway:  &fakeGateway{},
		oracle:   &fakeOracle{ledger: ledger},
		store:    store,
		statuses: &recordingStatus{},
	}
	h.orch, err = NewOrchestrator(Params{
		Reader:   ledger,
		Writer:   ledger,
		Gateway:  h.gateway,
		Oracle:   h.oracle,
		Identity: staticIdentity{account: account},
		Store:    store,
		Status:   h.statuses,
		IDs:      &sequenceIssuer{},
	})
	if err != nil {
		panic(err)
	}
	return h
}

func (h *harness) as(account string) *Orchestrator {
	orch := *h.orch
	orch.identity = staticIdentity{account: account}
	return &orch
}
