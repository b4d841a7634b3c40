// Package devnet provides local stand-ins for the encryption gateway and the
// decryption oracle. Amounts are sealed with XChaCha20-Poly1305 bound to the
// contract; handles and proofs are keyed BLAKE2b digests.
package devnet

import (
	"context"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/angelmondragon/fhe-autopay/internal/lifecycle"
	"github.com/angelmondragon/fhe-autopay/pkg/security"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNotInitialized means the gateway has no key material.
var ErrNotInitialized = errors.New("encryption instance not initialized")

const plaintextSize = 4

// Gateway encrypts amounts for a contract and requester.
type Gateway struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewGateway builds a gateway from a 32-byte key. A nil key yields an
// uninitialized gateway whose Encrypt always fails.
func NewGateway(key []byte) (*Gateway, error) {
	if key == nil {
		return &Gateway{}, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	macKey, err := deriveSubkey(key, "input-proof")
	if err != nil {
		return nil, err
	}
	return &Gateway{aead: aead, macKey: macKey}, nil
}

// Ready reports whether the gateway has key material.
func (g *Gateway) Ready() bool {
	return g.aead != nil
}

func (g *Gateway) Encrypt(ctx context.Context, contract, requester string, plaintext uint64) (lifecycle.EncryptedInput, error) {
	if !g.Ready() {
		return lifecycle.EncryptedInput{}, ErrNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return lifecycle.EncryptedInput{}, err
	}
	if contract == "" || requester == "" {
		return lifecycle.EncryptedInput{}, fmt.Errorf("contract and requester are required")
	}
	if plaintext > math.MaxUint32 {
		return lifecycle.EncryptedInput{}, fmt.Errorf("plaintext %d exceeds 32 bits", plaintext)
	}

	nonce, err := security.RandomBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return lifecycle.EncryptedInput{}, err
	}
	msg := make([]byte, plaintextSize)
	binary.BigEndian.PutUint32(msg, uint32(plaintext))
	ciphertext := g.aead.Seal(nonce, nonce, msg, []byte(contract))

	handle := HandleFor(ciphertext)
	proof, err := g.inputMAC(contract, requester, handle)
	if err != nil {
		return lifecycle.EncryptedInput{}, err
	}
	return lifecycle.EncryptedInput{Handle: handle, Ciphertext: ciphertext, InputProof: proof}, nil
}

// VerifyInput checks that input was produced by this gateway for contract and sender.
func (g *Gateway) VerifyInput(contract, sender string, input lifecycle.EncryptedInput) error {
	if !g.Ready() {
		return ErrNotInitialized
	}
	if HandleFor(input.Ciphertext) != input.Handle {
		return fmt.Errorf("handle does not match ciphertext")
	}
	expected, err := g.inputMAC(contract, sender, input.Handle)
	if err != nil {
		return err
	}
	if !security.Equal(expected, input.InputProof) {
		return fmt.Errorf("input proof mismatch")
	}
	return nil
}

// open decrypts a ciphertext sealed for contract.
func (g *Gateway) open(contract string, ciphertext []byte) (uint64, error) {
	if !g.Ready() {
		return 0, ErrNotInitialized
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return 0, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	msg, err := g.aead.Open(nil, nonce, sealed, []byte(contract))
	if err != nil {
		return 0, fmt.Errorf("open ciphertext: %w", err)
	}
	if len(msg) != plaintextSize {
		return 0, fmt.Errorf("unexpected plaintext size %d", len(msg))
	}
	return uint64(binary.BigEndian.Uint32(msg)), nil
}

func (g *Gateway) inputMAC(contract, sender, handle string) ([]byte, error) {
	return keyedDigest(g.macKey, []byte(contract), []byte(sender), []byte(handle))
}

// HandleFor derives the on-ledger handle of a ciphertext.
func HandleFor(ciphertext []byte) string {
	sum := blake2b.Sum256(ciphertext)
	return "0x" + hex.EncodeToString(sum[:])
}

func deriveSubkey(key []byte, label string) ([]byte, error) {
	return keyedDigest(key, []byte(label))
}

// keyedDigest MACs length-prefixed parts so that part boundaries are unambiguous.
func keyedDigest(key []byte, parts ...[]byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, fmt.Errorf("init blake2b: %w", err)
	}
	var size [8]byte
	for _, part := range parts {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write(part)
	}
	return h.Sum(nil), nil
}
