package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"golang.org/x/crypto/argon2"
)

// KeySize is the length of every symmetric key the devnet uses.
const KeySize = 32

// ErrNoKeyMaterial signals that neither a hex key nor a passphrase was configured.
var ErrNoKeyMaterial = fmt.Errorf("no key material configured")

// ArgonParams captures the Argon2id parameters used to stretch passphrases.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// ParamsFromConfig clamps the configured Argon2id parameters to sane bounds.
func ParamsFromConfig(cfg config.EncryptionConfig) ArgonParams {
	threads := clampInt(cfg.ArgonParallelism, 1, 255)
	return ArgonParams{
		Memory:      clampUint32(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clampUint32(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(threads),
	}
}

// ResolveKey returns the key for one purpose. A hex key is used as is;
// otherwise the passphrase is stretched with Argon2id over salt and purpose,
// so one passphrase yields independent keys per purpose.
func ResolveKey(keyHex, passphrase, salt, purpose string, params ArgonParams) ([]byte, error) {
	if keyHex = strings.TrimSpace(keyHex); keyHex != "" {
		key, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode %s key: %w", purpose, err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%s key must be %d bytes, got %d", purpose, KeySize, len(key))
		}
		return key, nil
	}
	if passphrase == "" {
		return nil, ErrNoKeyMaterial
	}
	if salt == "" {
		return nil, fmt.Errorf("salt is required to derive the %s key", purpose)
	}
	return argon2.IDKey([]byte(passphrase), []byte(salt+"|"+purpose), params.Time, params.Memory, params.Parallelism, KeySize), nil
}

// Equal compares two MACs in constant time.
func Equal(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("length must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return buf, nil
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampUint32(value, min, max int) uint32 {
	return uint32(clampInt(value, min, max))
}
