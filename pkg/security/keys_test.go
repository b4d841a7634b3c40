package security_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/angelmondragon/fhe-autopay/pkg/config"
	"github.com/angelmondragon/fhe-autopay/pkg/security"
)

var testParams = security.ArgonParams{Memory: 8 * 1024, Time: 1, Parallelism: 1}

func TestResolveKeyFromHex(t *testing.T) {
	hexKey := "0x" + strings.Repeat("ab", security.KeySize)
	key, err := security.ResolveKey(hexKey, "ignored", "salt", "encryption", testParams)
	if err != nil {
		t.Fatalf("ResolveKey returned error: %v", err)
	}
	if !bytes.Equal(key, bytes.Repeat([]byte{0xab}, security.KeySize)) {
		t.Fatalf("unexpected key %x", key)
	}

	if _, err := security.ResolveKey("abcd", "", "", "encryption", testParams); err == nil {
		t.Fatal("expected short key to be rejected")
	}
	if _, err := security.ResolveKey("zz", "", "", "encryption", testParams); err == nil {
		t.Fatal("expected bad hex to be rejected")
	}
}

func TestResolveKeyFromPassphrase(t *testing.T) {
	enc, err := security.ResolveKey("", "correct horse", "autopay-devnet", "encryption", testParams)
	if err != nil {
		t.Fatalf("ResolveKey returned error: %v", err)
	}
	if len(enc) != security.KeySize {
		t.Fatalf("expected %d byte key, got %d", security.KeySize, len(enc))
	}

	again, _ := security.ResolveKey("", "correct horse", "autopay-devnet", "encryption", testParams)
	if !bytes.Equal(enc, again) {
		t.Fatal("derivation must be deterministic")
	}

	proof, _ := security.ResolveKey("", "correct horse", "autopay-devnet", "oracle-proof", testParams)
	if bytes.Equal(enc, proof) {
		t.Fatal("keys for different purposes must differ")
	}
}

func TestResolveKeyWithoutMaterial(t *testing.T) {
	_, err := security.ResolveKey("", "", "salt", "encryption", testParams)
	if !errors.Is(err, security.ErrNoKeyMaterial) {
		t.Fatalf("expected ErrNoKeyMaterial, got %v", err)
	}
}

func TestParamsFromConfigClamps(t *testing.T) {
	params := security.ParamsFromConfig(config.EncryptionConfig{ArgonMemoryKB: 1, ArgonTime: 99, ArgonParallelism: 0})
	if params.Memory != 8 || params.Time != 10 || params.Parallelism != 1 {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestEqualAndRandomBytes(t *testing.T) {
	if !security.Equal([]byte("abc"), []byte("abc")) || security.Equal([]byte("abc"), []byte("abd")) {
		t.Fatal("Equal mismatch")
	}
	if security.Equal([]byte("abc"), []byte("abcd")) {
		t.Fatal("Equal must reject different lengths")
	}
	buf, err := security.RandomBytes(24)
	if err != nil || len(buf) != 24 {
		t.Fatalf("RandomBytes returned %d bytes, err %v", len(buf), err)
	}
	if _, err := security.RandomBytes(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}
