package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"chatique/internal/domain"
)

// aesIV is the fixed initialization vector shared by every CBC operation.
// Inherited from the original wire format: all parties must use the same
// vector or nothing decrypts. Known CBC weakening, kept for compatibility.
var aesIV = []byte("INIT_VECTOR12345")

var errBadCiphertext = errors.New("cipher: malformed ciphertext")

// Encrypt seals plaintext under key with AES-128-CBC and PKCS#7 padding and
// returns the base64 ciphertext.
func Encrypt(plaintext []byte, key domain.SymmetricKey) (string, error) {
	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return "", fmt.Errorf("cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, aesIV).CryptBlocks(out, padded)
	return B64(out), nil
}

// Decrypt reverses Encrypt. Any malformed input — bad base64, wrong key,
// corrupted padding — returns an error rather than panicking; callers treat
// the absence as "content not decryptable" and fall back.
func Decrypt(ciphertext string, key domain.SymmetricKey) ([]byte, error) {
	raw, err := FromB64(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	block, err := aes.NewCipher(key.Material)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return nil, errBadCiphertext
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, aesIV).CryptBlocks(out, raw)
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, errBadCiphertext
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errBadCiphertext
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errBadCiphertext
		}
	}
	return b[:len(b)-n], nil
}
