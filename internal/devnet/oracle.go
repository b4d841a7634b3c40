package devnet

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
	"github.com/angelmondragon/fhe-autopay/pkg/security"
)

// CiphertextSource resolves a handle to the ciphertext the ledger stores.
type CiphertextSource interface {
	Ciphertext(ctx context.Context, handle string) ([]byte, error)
}

// Oracle decrypts ciphertexts and signs decryption proofs the ledger accepts.
type Oracle struct {
	gateway  *Gateway
	source   CiphertextSource
	proofKey []byte
	logg     *logger.Logger
}

// NewOracle wires an oracle around the gateway's key and a proof key.
func NewOracle(gateway *Gateway, source CiphertextSource, proofKey []byte, logg *logger.Logger) (*Oracle, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if source == nil {
		return nil, fmt.Errorf("ciphertext source required")
	}
	if len(proofKey) != security.KeySize {
		return nil, fmt.Errorf("proof key must be %d bytes", security.KeySize)
	}
	return &Oracle{gateway: gateway, source: source, proofKey: proofKey, logg: logg}, nil
}

// Decrypt returns cleartext values without producing a proof.
func (o *Oracle) Decrypt(ctx context.Context, handles []string, contract string) (lifecycle.DecryptionResult, error) {
	values, _, err := o.decrypt(ctx, handles, contract)
	if err != nil {
		return lifecycle.DecryptionResult{}, err
	}
	return lifecycle.DecryptionResult{ClearValues: values}, nil
}

// DecryptAndVerify decrypts, signs a proof over the encoded values, submits it
// and waits for the submission to confirm.
func (o *Oracle) DecryptAndVerify(ctx context.Context, handles []string, contract string, submit lifecycle.SubmitFunc) (lifecycle.DecryptionResult, error) {
	if submit == nil {
		return lifecycle.DecryptionResult{}, fmt.Errorf("submit callback required")
	}
	values, ordered, err := o.decrypt(ctx, handles, contract)
	if err != nil {
		return lifecycle.DecryptionResult{}, err
	}

	encoded := lifecycle.EncodeClearValues(ordered)
	proof, err := signDecryption(o.proofKey, handles, encoded)
	if err != nil {
		return lifecycle.DecryptionResult{}, err
	}

	tx, err := submit(ctx, encoded, proof)
	if err != nil {
		return lifecycle.DecryptionResult{}, fmt.Errorf("submit decryption proof: %w", err)
	}
	receipt, err := tx.Wait(ctx)
	if err != nil {
		return lifecycle.DecryptionResult{}, fmt.Errorf("confirm decryption proof: %w", err)
	}
	if o.logg != nil {
		ctx = o.logg.WithFields(ctx, map[string]any{"tx_hash": receipt.TxHash, "handles": len(handles)})
		o.logg.Info(ctx, "devnet.oracle.proof_confirmed")
	}
	return lifecycle.DecryptionResult{ClearValues: values, AbiEncoded: encoded, Proof: proof}, nil
}

func (o *Oracle) decrypt(ctx context.Context, handles []string, contract string) (map[string]uint64, []uint64, error) {
	if len(handles) == 0 {
		return nil, nil, fmt.Errorf("at least one handle is required")
	}
	values := make(map[string]uint64, len(handles))
	ordered := make([]uint64, 0, len(handles))
	for _, handle := range handles {
		ciphertext, err := o.source.Ciphertext(ctx, handle)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", handle, err)
		}
		value, err := o.gateway.open(contract, ciphertext)
		if err != nil {
			return nil, nil, fmt.Errorf("decrypt %s: %w", handle, err)
		}
		values[handle] = value
		ordered = append(ordered, value)
	}
	return values, ordered, nil
}
