// Package crypto implements the at-rest encryption used by the blob store:
// a random-access AES-128-CBC stream over 4 KiB blocks.
//
// The layout of an encrypted file is
//
//	block₀ ‖ block₁ ‖ … ‖ blockN ‖ nonce (16 bytes)
//
// Every block except the last holds exactly 4096 bytes of ciphertext with
// no padding, so blocks stay aligned with filesystem blocks and any block
// can be decrypted independently: the CBC IV of block i is the 128-bit
// big-endian integer i. The final block is PKCS7-padded to preserve its
// true length; when the cleartext length is an exact multiple of the block
// size an empty padded block is appended so the reader can always recover
// the length. The file key is the user key XORed with the random nonce
// stored in the trailer.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/MKhiriev/go-doc-sync/models"
	"golang.org/x/crypto/argon2"
)

// Algorithm selects the block cipher of an encrypted stream.
type Algorithm int

const (
	// AES128 is the only supported algorithm.
	AES128 Algorithm = iota
	// None marks an unencrypted store; streams reject it.
	None
)

const (
	// KeySize is the AES-128 key and nonce size.
	KeySize = 16
	// BlockSize is the stream's block granularity.
	BlockSize = 4096
	// FileSizeOverhead is the constant trailer overhead of an encrypted
	// file: the stored nonce.
	FileSizeOverhead = KeySize
)

// DeriveKey stretches a passphrase into an AES-128 key with Argon2id
// (1 iteration, 64 MiB, 4 threads).
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, KeySize)
}

// newNonce reads a fresh random nonce from the OS CSPRNG.
func newNonce() ([]byte, error) {
	nonce := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate stream nonce: %w", err)
	}
	return nonce, nil
}

// deriveFileKey scrambles the user key with the file nonce.
func deriveFileKey(userKey, nonce []byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = userKey[i] ^ nonce[i]
	}
	return key
}

func checkKey(alg Algorithm, key []byte) error {
	if alg != AES128 {
		return fmt.Errorf("stream algorithm %d: %w", alg, models.ErrUnsupportedEncryption)
	}
	if len(key) != KeySize {
		return fmt.Errorf("stream key is %d bytes, want %d: %w",
			len(key), KeySize, models.ErrUnsupportedEncryption)
	}
	return nil
}
