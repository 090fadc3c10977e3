package codec

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of every derived symmetric key.
const KeySize = chacha20poly1305.KeySize

// SaltSize is the per-token salt fed to the key provider.
const SaltSize = 16

// IVSize and TagSize describe XChaCha20-Poly1305.
const (
	IVSize  = chacha20poly1305.NonceSizeX
	TagSize = chacha20poly1305.Overhead
)

// encryptedOverhead is salt + iv + tag.
const encryptedOverhead = SaltSize + IVSize + TagSize

// aadPrefix is the associated data of every sealed value. Token payloads
// append the envelope header to it.
var aadPrefix = []byte("slug")

func headerAAD(header []byte) []byte {
	aad := make([]byte, 0, len(aadPrefix)+len(header))
	aad = append(aad, aadPrefix...)
	return append(aad, header...)
}

// Sealed is the output of Encrypt split into its parts.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
}

// Encrypt seals plaintext with XChaCha20-Poly1305 under a random IV.
func Encrypt(plaintext, key []byte) (*Sealed, error) {
	return encrypt(plaintext, key, aadPrefix)
}

// Decrypt authenticates and opens a Sealed value.
func Decrypt(sealed *Sealed, key []byte) ([]byte, error) {
	return decrypt(sealed, key, aadPrefix)
}

func encrypt(plaintext, key, aad []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generating random iv: %w", err)
	}

	out := aead.Seal(nil, iv, plaintext, aad)
	split := len(out) - TagSize

	return &Sealed{
		Ciphertext: out[:split],
		IV:         iv,
		AuthTag:    out[split:],
	}, nil
}

func decrypt(sealed *Sealed, key, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	if len(sealed.IV) != IVSize {
		return nil, fmt.Errorf("iv is %d bytes, expected %d", len(sealed.IV), IVSize)
	}
	if len(sealed.AuthTag) != TagSize {
		return nil, fmt.Errorf("auth tag is %d bytes, expected %d", len(sealed.AuthTag), TagSize)
	}

	combined := make([]byte, 0, len(sealed.Ciphertext)+TagSize)
	combined = append(combined, sealed.Ciphertext...)
	combined = append(combined, sealed.AuthTag...)

	plaintext, err := aead.Open(nil, sealed.IV, combined, aad)
	if err != nil {
		return nil, fmt.Errorf("authentication failed (wrong key or tampered data): %w", err)
	}
	return plaintext, nil
}

// sealPayload encrypts body under header and lays it out as
//
//	[salt:16][iv:24][ciphertext][tag:16]
func sealPayload(body []byte, keys KeyProvider, header []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating random salt: %w", err)
	}

	key, err := keys.EncryptionKey(salt)
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}

	sealed, err := encrypt(body, key, headerAAD(header))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, encryptedOverhead+len(sealed.Ciphertext))
	out = append(out, salt...)
	out = append(out, sealed.IV...)
	out = append(out, sealed.Ciphertext...)
	out = append(out, sealed.AuthTag...)
	return out, nil
}

// openPayload reverses sealPayload, trying every key the provider offers.
func openPayload(payload []byte, keys KeyProvider, header []byte) ([]byte, error) {
	if len(payload) < encryptedOverhead {
		return nil, decodeError(ReasonDecryptionFailed, "encrypted payload is %d bytes, minimum is %d", len(payload), encryptedOverhead)
	}

	salt := payload[:SaltSize]
	sealed := &Sealed{
		IV:         payload[SaltSize : SaltSize+IVSize],
		Ciphertext: payload[SaltSize+IVSize : len(payload)-TagSize],
		AuthTag:    payload[len(payload)-TagSize:],
	}

	candidates, err := keys.DecryptionKeys(salt)
	if err != nil {
		return nil, decodeError(ReasonDecryptionFailed, "deriving decryption keys: %v", err)
	}
	if len(candidates) == 0 {
		return nil, decodeError(ReasonDecryptionFailed, "no decryption keys available")
	}

	aad := headerAAD(header)
	var lastErr error
	for _, key := range candidates {
		plaintext, err := decrypt(sealed, key, aad)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	return nil, &DecodeError{Reason: ReasonDecryptionFailed, Err: lastErr}
}
