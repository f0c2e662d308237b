package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KDFIterations is the PBKDF2 work factor for purpose keys.
	KDFIterations = 100_000
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the per-envelope IV length in bytes.
	IVSize = 16
)

// keyAlphabet is used for generated raw key material so it survives env
// files and YAML without quoting.
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// GenerateKeyMaterial returns a random 32-character raw key suitable for
// CREDCORE_ENCRYPTION_KEY.
func GenerateKeyMaterial() (string, error) {
	buf := make([]byte, RawKeyLength)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generating key material: %w", err)
	}
	for i, b := range buf {
		buf[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(buf), nil
}

// DeriveKey derives a 256-bit key from raw key material and a salt using
// PBKDF2-HMAC-SHA256.
func DeriveKey(raw, salt []byte) []byte {
	return pbkdf2.Key(raw, salt, KDFIterations, KeySize, sha256.New)
}

// DeriveSubkey derives a 32-byte subkey bound to context using HKDF-SHA256.
func DeriveSubkey(raw []byte, context string) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, raw, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving subkey: %w", err)
	}
	return key, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM under a fresh 16-byte
// nonce. Returns ciphertext (with tag) and nonce separately.
func EncryptAESGCM(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, IVSize)
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptAESGCM decrypts and authenticates AES-256-GCM ciphertext.
func DecryptAESGCM(ciphertext, nonce, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// decryptAESCBC decrypts legacy AES-256-CBC ciphertext with PKCS#7 padding.
func decryptAESCBC(ciphertext, iv, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("iv must be one block")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("ciphertext is not a whole number of blocks")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errors.New("invalid padding")
	}
	return b[:len(b)-n], nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
