// Package crypto seals event payloads before they leave the host.
//
// Two machines are available: age X25519, selected when the key is an age
// identity (AGE-SECRET-KEY-...), and AES-256-GCM keyed with the SHA-256 of
// any other passphrase.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
)

const agePrefix = "AGE-SECRET-KEY-"

// Machine encrypts and decrypts opaque payloads.
type Machine interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
}

// New picks the machine matching the key format.
func New(key string) (Machine, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty encryption key")
	}
	if strings.HasPrefix(key, agePrefix) {
		return NewAge(key)
	}
	return NewAES([]byte(key))
}

type aesMachine struct {
	gcm cipher.AEAD
}

// NewAES derives an AES-256 key from passphrase.
func NewAES(passphrase []byte) (Machine, error) {
	sum := sha256.Sum256(passphrase)
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aesMachine{gcm: gcm}, nil
}

// Encrypt prepends a random nonce to the sealed data.
func (m *aesMachine) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return m.gcm.Seal(nonce, nonce, data, nil), nil
}

func (m *aesMachine) Decrypt(data []byte) ([]byte, error) {
	n := m.gcm.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("ciphertext too short")
	}
	return m.gcm.Open(nil, data[:n], data[n:], nil)
}

type ageMachine struct {
	recipient age.Recipient
	identity  age.Identity
}

// NewAge encrypts to the recipient of identity, so the same key decrypts.
func NewAge(identity string) (Machine, error) {
	id, err := age.ParseX25519Identity(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return &ageMachine{recipient: id.Recipient(), identity: id}, nil
}

// GenerateAgeKeyPair returns a new recipient and identity.
func GenerateAgeKeyPair() (publicKey string, privateKey string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", err
	}
	return id.Recipient().String(), id.String(), nil
}

func (m *ageMachine) Encrypt(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	aw := armor.NewWriter(&buf)
	w, err := age.Encrypt(aw, m.recipient)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := aw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *ageMachine) Decrypt(data []byte) ([]byte, error) {
	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(data)), m.identity)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
