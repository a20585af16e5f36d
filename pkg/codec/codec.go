// Package codec implements the authenticated encryption used for every published payload:
// AES-256-CBC with PKCS#7 padding, authenticated by HMAC-SHA256 over ciphertext||iv.
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/morezero/walletconnect/pkg/wcerr"
)

const logPrefix = "codec:codec"

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the CBC initialization vector length in bytes.
	IVSize = aes.BlockSize
)

// EncryptionPayload is the JSON form of an encrypted message. All fields are hex.
type EncryptionPayload struct {
	Data string `json:"data"`
	HMAC string `json:"hmac"`
	IV   string `json:"iv"`
}

// GenerateKey returns a random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%s - failed to generate key: %w", logPrefix, err)
	}
	return key, nil
}

// Encode encrypts plaintext with key and returns the JSON encoded EncryptionPayload.
func Encode(plaintext, key []byte) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%s - failed to generate iv: %w", logPrefix, err)
	}
	return encodeWithIV(plaintext, key, iv)
}

func encodeWithIV(plaintext, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext, aes.BlockSize)
	data := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(data, padded)

	payload := EncryptionPayload{
		Data: hex.EncodeToString(data),
		HMAC: hex.EncodeToString(authTag(key, data, iv)),
		IV:   hex.EncodeToString(iv),
	}
	return json.Marshal(payload)
}

// Decode verifies and decrypts a JSON encoded EncryptionPayload. The tag is checked before
// any decryption; a mismatch yields wcerr.ErrAuthenticationFailed, any structural fault
// wcerr.ErrMalformedCiphertext.
func Decode(ciphertext, key []byte) ([]byte, error) {
	var payload EncryptionPayload
	if err := json.Unmarshal(ciphertext, &payload); err != nil {
		return nil, wcerr.ErrMalformedCiphertext.With(fmt.Sprintf("invalid json: %v", err))
	}
	return Open(payload, key)
}

// Open verifies and decrypts an already parsed payload.
func Open(payload EncryptionPayload, key []byte) ([]byte, error) {
	data, err := hex.DecodeString(payload.Data)
	if err != nil {
		return nil, wcerr.ErrMalformedCiphertext.With("data is not hex")
	}
	iv, err := hex.DecodeString(payload.IV)
	if err != nil {
		return nil, wcerr.ErrMalformedCiphertext.With("iv is not hex")
	}
	tag, err := hex.DecodeString(payload.HMAC)
	if err != nil {
		return nil, wcerr.ErrMalformedCiphertext.With("hmac is not hex")
	}

	if !hmac.Equal(tag, authTag(key, data, iv)) {
		return nil, wcerr.ErrAuthenticationFailed
	}

	if len(iv) != IVSize {
		return nil, wcerr.ErrMalformedCiphertext.With(fmt.Sprintf("iv must be %d bytes", IVSize))
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, wcerr.ErrMalformedCiphertext.With("data is not a multiple of the block size")
	}
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return unpad(plain, aes.BlockSize)
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, wcerr.ErrMalformedCiphertext.With(fmt.Sprintf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	return aes.NewCipher(key)
}

func authTag(key, data, iv []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	mac.Write(iv)
	return mac.Sum(nil)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, wcerr.ErrMalformedCiphertext.With("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, wcerr.ErrMalformedCiphertext.With("invalid padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, wcerr.ErrMalformedCiphertext.With("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
