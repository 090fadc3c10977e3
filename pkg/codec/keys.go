package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// KeyProvider supplies the per-token keys used by the encryption stage.
// The salt is random per token and travels inside the envelope payload.
type KeyProvider interface {
	// EncryptionKey derives the key that seals a new token.
	EncryptionKey(salt []byte) ([]byte, error)
	// DecryptionKeys derives every key that may have sealed an existing
	// token, newest first.
	DecryptionKeys(salt []byte) ([][]byte, error)
}

var hkdfInfoToken = []byte("slugstate.token.v1")

// Argon2id parameters for password-derived keys.
const (
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

type passwordKey struct {
	password []byte
}

// PasswordKey derives keys from a password with Argon2id.
func PasswordKey(password string) KeyProvider {
	return &passwordKey{password: []byte(password)}
}

func (p *passwordKey) EncryptionKey(salt []byte) ([]byte, error) {
	if len(p.password) == 0 {
		return nil, errors.New("empty password")
	}
	return argon2.IDKey(p.password, salt, argonTime, argonMemory, argonThreads, KeySize), nil
}

func (p *passwordKey) DecryptionKeys(salt []byte) ([][]byte, error) {
	key, err := p.EncryptionKey(salt)
	if err != nil {
		return nil, err
	}
	return [][]byte{key}, nil
}

type staticKey struct {
	key []byte
}

// StaticKey derives per-token keys from a caller-held master key with
// HKDF-SHA256. The master key must be KeySize bytes.
func StaticKey(key []byte) (KeyProvider, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	copied := make([]byte, KeySize)
	copy(copied, key)
	return &staticKey{key: copied}, nil
}

func (s *staticKey) EncryptionKey(salt []byte) ([]byte, error) {
	return deriveKey(s.key, salt)
}

func (s *staticKey) DecryptionKeys(salt []byte) ([][]byte, error) {
	key, err := deriveKey(s.key, salt)
	if err != nil {
		return nil, err
	}
	return [][]byte{key}, nil
}

func deriveKey(master, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, master, salt, hkdfInfoToken)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return derived, nil
}

// KeyStore persists generated master keys, newest first.
type KeyStore interface {
	LoadKeys() ([][]byte, error)
	SaveKeys(keys [][]byte) error
}

// GeneratedKeyProvider owns a generated master key. The key is created on
// first use, persisted through its KeyStore and reused afterwards. Rotate
// adds a new primary key while older keys stay available for decryption.
//
// Tokens sealed under a generated key are undecodable once the KeyStore
// contents are lost; there is no recovery path.
type GeneratedKeyProvider struct {
	mu     sync.Mutex
	store  KeyStore
	keys   [][]byte
	loaded bool
}

func GeneratedKey(store KeyStore) *GeneratedKeyProvider {
	return &GeneratedKeyProvider{store: store}
}

func (g *GeneratedKeyProvider) ensure() error {
	if g.loaded && len(g.keys) > 0 {
		return nil
	}

	keys, err := g.store.LoadKeys()
	if err != nil {
		return fmt.Errorf("loading keys: %w", err)
	}

	if len(keys) == 0 {
		key, err := randomKey()
		if err != nil {
			return err
		}
		keys = [][]byte{key}
		if err := g.store.SaveKeys(keys); err != nil {
			return fmt.Errorf("persisting generated key: %w", err)
		}
	}

	g.keys = keys
	g.loaded = true
	return nil
}

func (g *GeneratedKeyProvider) EncryptionKey(salt []byte) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensure(); err != nil {
		return nil, err
	}
	return deriveKey(g.keys[0], salt)
}

func (g *GeneratedKeyProvider) DecryptionKeys(salt []byte) ([][]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensure(); err != nil {
		return nil, err
	}

	derived := make([][]byte, 0, len(g.keys))
	for _, master := range g.keys {
		key, err := deriveKey(master, salt)
		if err != nil {
			return nil, err
		}
		derived = append(derived, key)
	}
	return derived, nil
}

// Rotate generates a new primary key. New tokens are sealed under it;
// existing tokens still decode with the previous keys.
func (g *GeneratedKeyProvider) Rotate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensure(); err != nil {
		return err
	}

	key, err := randomKey()
	if err != nil {
		return err
	}

	keys := append([][]byte{key}, g.keys...)
	if err := g.store.SaveKeys(keys); err != nil {
		return fmt.Errorf("persisting rotated key: %w", err)
	}
	g.keys = keys
	return nil
}

// KeyCount reports how many master keys are known.
func (g *GeneratedKeyProvider) KeyCount() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensure(); err != nil {
		return 0, err
	}
	return len(g.keys), nil
}

func randomKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// MemoryKeyStore keeps keys for the lifetime of the process.
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys [][]byte
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{}
}

func (m *MemoryKeyStore) LoadKeys() ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneKeys(m.keys), nil
}

func (m *MemoryKeyStore) SaveKeys(keys [][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = cloneKeys(keys)
	return nil
}

// FileKeyStore keeps keys in a JSON file readable only by its owner.
type FileKeyStore struct {
	path string
}

func NewFileKeyStore(path string) *FileKeyStore {
	return &FileKeyStore{path: path}
}

type keyFile struct {
	Keys []string `json:"keys"`
}

func (f *FileKeyStore) LoadKeys() ([][]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var file keyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing key file: %w", err)
	}

	keys := make([][]byte, 0, len(file.Keys))
	for i, encoded := range file.Keys {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("key %d is %d bytes, expected %d", i, len(key), KeySize)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *FileKeyStore) SaveKeys(keys [][]byte) error {
	file := keyFile{Keys: make([]string, len(keys))}
	for i, key := range keys {
		file.Keys[i] = base64.StdEncoding.EncodeToString(key)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func cloneKeys(keys [][]byte) [][]byte {
	out := make([][]byte, len(keys))
	for i, key := range keys {
		out[i] = append([]byte(nil), key...)
	}
	return out
}
