package devnet

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"github.com/angelmondragon/fhe-autopay/pkg/security"
)

// ResolveKeys loads the encryption and proof keys. A missing encryption key
// is not an error: the gateway starts uninitialized and rejects Encrypt.
func ResolveKeys(enc config.EncryptionConfig, oracle config.OracleConfig) (encKey, proofKey []byte, err error) {
	params := security.ParamsFromConfig(enc)

	encKey, err = security.ResolveKey(enc.KeyHex, enc.Passphrase, enc.Salt, "encryption", params)
	if errors.Is(err, security.ErrNoKeyMaterial) {
		encKey, err = nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	proofKey, err = security.ResolveKey(oracle.ProofKeyHex, oracle.ProofPassphrase, enc.Salt, "oracle-proof", params)
	if err != nil {
		return nil, nil, fmt.Errorf("oracle proof key: %w", err)
	}
	return encKey, proofKey, nil
}
