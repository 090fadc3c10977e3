package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)

	sealed, err := Encrypt([]byte("payload"), key)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if len(sealed.IV) != IVSize || len(sealed.AuthTag) != TagSize {
		t.Fatalf("unexpected part sizes: iv=%d tag=%d", len(sealed.IV), len(sealed.AuthTag))
	}

	plaintext, err := Decrypt(sealed, key)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(plaintext) != "payload" {
		t.Errorf("expected payload, got %q", plaintext)
	}

	sealed.AuthTag[0] ^= 0xFF
	if _, err := Decrypt(sealed, key); err == nil {
		t.Error("expected authentication failure for tampered tag")
	}
}

func TestStaticKey_RejectsShortKey(t *testing.T) {
	if _, err := StaticKey([]byte("short")); err == nil {
		t.Error("expected error for short master key")
	}
}

func TestGeneratedKey_PersistsOnce(t *testing.T) {
	store := NewMemoryKeyStore()

	first := GeneratedKey(store)
	salt := bytes.Repeat([]byte{1}, SaltSize)
	k1, err := first.EncryptionKey(salt)
	if err != nil {
		t.Fatalf("EncryptionKey() error = %v", err)
	}

	second := GeneratedKey(store)
	k2, err := second.EncryptionKey(salt)
	if err != nil {
		t.Fatalf("EncryptionKey() error = %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("a second provider over the same store should reuse the persisted key")
	}
}

func TestGeneratedKey_RotateKeepsOldTokensReadable(t *testing.T) {
	provider := GeneratedKey(NewMemoryKeyStore())
	c := New(Options{Keys: provider})

	oldToken, err := c.Encode(map[string]any{"a": 1}, EncodeOptions{Encrypt: true})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if err := provider.Rotate(); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	count, _ := provider.KeyCount()
	if count != 2 {
		t.Errorf("expected 2 keys after rotation, got %d", count)
	}

	if _, err := c.Decode(oldToken, DecodeOptions{}); err != nil {
		t.Errorf("token sealed before rotation should still decode, got %v", err)
	}

	newToken, _ := c.Encode(map[string]any{"a": 2}, EncodeOptions{Encrypt: true})
	if _, err := c.Decode(newToken, DecodeOptions{}); err != nil {
		t.Errorf("token sealed after rotation should decode, got %v", err)
	}
}

func TestGeneratedKey_LostStoreMeansUndecodable(t *testing.T) {
	c := New(Options{Keys: GeneratedKey(NewMemoryKeyStore())})
	token, _ := c.Encode(map[string]any{"a": 1}, EncodeOptions{Encrypt: true})

	fresh := New(Options{Keys: GeneratedKey(NewMemoryKeyStore())})
	_, err := fresh.Decode(token, DecodeOptions{})
	assertReason(t, err, ReasonDecryptionFailed)
}

func TestFileKeyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "keys.json")
	store := NewFileKeyStore(path)

	keys, err := store.LoadKeys()
	if err != nil {
		t.Fatalf("LoadKeys() on missing file error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %d", len(keys))
	}

	provider := GeneratedKey(store)
	if err := provider.Rotate(); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := store.LoadKeys()
	if err != nil {
		t.Fatalf("LoadKeys() error = %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("expected 2 persisted keys, got %d", len(loaded))
	}
}
