package devnet

import (
	"fmt"

	"github.com/angelmondragon/fhe-autopay/pkg/security"
)

// ProofVerifier checks decryption proofs signed by the oracle.
type ProofVerifier struct {
	key []byte
}

func NewProofVerifier(proofKey []byte) (*ProofVerifier, error) {
	if len(proofKey) != security.KeySize {
		return nil, fmt.Errorf("proof key must be %d bytes", security.KeySize)
	}
	return &ProofVerifier{key: proofKey}, nil
}

func (v *ProofVerifier) VerifyDecryption(handles []string, clearValues, proof []byte) error {
	expected, err := signDecryption(v.key, handles, clearValues)
	if err != nil {
		return err
	}
	if !security.Equal(expected, proof) {
		return fmt.Errorf("decryption proof mismatch")
	}
	return nil
}

func signDecryption(key []byte, handles []string, clearValues []byte) ([]byte, error) {
	parts := make([][]byte, 0, len(handles)+1)
	for _, h := range handles {
		parts = append(parts, []byte(h))
	}
	parts = append(parts, clearValues)
	return keyedDigest(key, parts...)
}
