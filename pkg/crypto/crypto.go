package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/javaarchive/togetherfin/pkg/errors"
)

const (
	// SaltLength is the PBKDF2 salt size in bytes.
	SaltLength = 16
	// NonceLength is the AES-GCM nonce size in bytes.
	NonceLength = 12
	// KeyLength is the derived AES key size in bytes (AES-256).
	KeyLength = 32
	// KDFIterations is the PBKDF2 iteration count.
	KDFIterations = 100000
)

// Bundle holds the three parts of an encrypted payload.
type Bundle struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// GenerateSalt returns a fresh random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateNonce returns a fresh random AES-GCM nonce.
func GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// DeriveKey stretches a password into an AES-256 key using PBKDF2-SHA512.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KDFIterations, KeyLength, sha512.New)
}

// Encrypt encrypts plaintext with a key derived from password.
// Each call uses a fresh salt and nonce.
func Encrypt(plaintext []byte, password string) (*Bundle, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// EncryptToBuffer encrypts plaintext and concatenates the result as
// salt(16) || nonce(12) || ciphertext into a single opaque buffer.
func EncryptToBuffer(plaintext []byte, password string) ([]byte, error) {
	bundle, err := Encrypt(plaintext, password)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(bundle.Salt)+len(bundle.Nonce)+len(bundle.Ciphertext))
	buf = append(buf, bundle.Salt...)
	buf = append(buf, bundle.Nonce...)
	buf = append(buf, bundle.Ciphertext...)
	return buf, nil
}

// DecryptFromBuffer is the inverse of EncryptToBuffer. A wrong password and a
// corrupt buffer are deliberately indistinguishable: both surface as an
// authentication error from the GCM tag check.
func DecryptFromBuffer(buffer []byte, password string) ([]byte, error) {
	if len(buffer) < SaltLength+NonceLength {
		return nil, errors.NewAuthenticationError("buffer too short to contain an encrypted payload")
	}

	salt := buffer[:SaltLength]
	nonce := buffer[SaltLength : SaltLength+NonceLength]
	ciphertext := buffer[SaltLength+NonceLength:]

	aead, err := newAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.NewAuthenticationError("decryption failed: wrong key or corrupt data")
	}
	return plaintext, nil
}

func newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Hash returns the SHA-512 hex digest of data. This is the deterministic
// content-addressing function for opaque content IDs.
func Hash(data []byte) string {
	sum := sha512.Sum512(data)
	return hex.EncodeToString(sum[:])
}

// HashString is the UTF-8 convenience wrapper around Hash.
func HashString(s string) string {
	return Hash([]byte(s))
}

// SelfTest verifies an encrypt/decrypt round trip on known plaintext.
// Called at startup so a broken crypto stack fails loudly instead of
// producing garbage blobs.
func SelfTest() error {
	plaintext := []byte("togetherfin crypto self test")
	buf, err := EncryptToBuffer(plaintext, "self-test-password")
	if err != nil {
		return fmt.Errorf("self test encrypt failed: %w", err)
	}
	recovered, err := DecryptFromBuffer(buf, "self-test-password")
	if err != nil {
		return fmt.Errorf("self test decrypt failed: %w", err)
	}
	if !bytes.Equal(plaintext, recovered) {
		return fmt.Errorf("self test round trip mismatch")
	}
	return nil
}
