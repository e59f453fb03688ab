package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/MKhiriev/go-doc-sync/models"
)

// blockIV builds the CBC IV for a block: a 128-bit big-endian integer whose
// low half is the block index.
func blockIV(blockID uint64) []byte {
	iv := make([]byte, aes.BlockSize)
	binary.BigEndian.PutUint64(iv[8:], blockID)
	return iv
}

// encryptBlock encrypts one stream block. Non-final blocks must be exactly
// BlockSize bytes and are encrypted without padding; the final block is
// PKCS7-padded to the cipher block size.
func encryptBlock(key []byte, blockID uint64, plaintext []byte, finalBlock bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	var padded []byte
	if finalBlock {
		pad := aes.BlockSize - len(plaintext)%aes.BlockSize
		padded = make([]byte, len(plaintext)+pad)
		copy(padded, plaintext)
		for i := len(plaintext); i < len(padded); i++ {
			padded[i] = byte(pad)
		}
	} else {
		if len(plaintext) != BlockSize {
			return nil, fmt.Errorf("non-final block is %d bytes", len(plaintext))
		}
		padded = plaintext
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, blockIV(blockID)).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// decryptBlock reverses encryptBlock. Padding of the final block is
// validated; failures surface as corrupt data.
func decryptBlock(key []byte, blockID uint64, ciphertext []byte, finalBlock bool) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext block of %d bytes: %w", len(ciphertext), models.ErrCorruptData)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, blockIV(blockID)).CryptBlocks(plaintext, ciphertext)

	if !finalBlock {
		return plaintext, nil
	}
	pad := int(plaintext[len(plaintext)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(plaintext) {
		return nil, fmt.Errorf("invalid final block padding: %w", models.ErrCorruptData)
	}
	for _, b := range plaintext[len(plaintext)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid final block padding: %w", models.ErrCorruptData)
		}
	}
	return plaintext[:len(plaintext)-pad], nil
}
