package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// sealedPrefix marks message content that holds an encrypted payload.
const sealedPrefix = "enc:v1:"

// ErrNotEncrypted is returned when a stored message carries no sealed payload.
var ErrNotEncrypted = errors.New("message is missing encrypted payload")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key fails to decrypt.
	// This enables key rotation without rewriting stored sessions.
	FallbackKeys [][]byte
}

// sealedBody is the part of a message hidden at rest.
type sealedBody struct {
	Content      string                  `json:"content"`
	PendingCalls []domain.HandoffRequest `json:"pending_calls,omitempty"`
	Fault        *domain.Fault           `json:"fault,omitempty"`
}

type encryptionMiddleware struct {
	next   ports.CheckpointStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts message bodies using AES-GCM.
// Each message is sealed on its own so the stored log stays append-only.
// Role, producer, request id and timestamps remain readable.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.CheckpointStore) ports.CheckpointStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, key string, state *domain.SessionState) error {
	envelope := state.Snapshot()
	for i := range envelope.Messages {
		if err := m.seal(&envelope.Messages[i]); err != nil {
			return fmt.Errorf("failed to encrypt message %d: %w", i, err)
		}
	}
	return m.next.Save(ctx, key, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, key string) (*domain.SessionState, error) {
	envelope, err := m.next.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range envelope.Messages {
		if err := m.open(&envelope.Messages[i]); err != nil {
			return nil, fmt.Errorf("failed to decrypt message %d: %w", i, err)
		}
	}
	return envelope, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) seal(msg *domain.Message) error {
	plain, err := json.Marshal(sealedBody{
		Content:      msg.Content,
		PendingCalls: msg.PendingCalls,
		Fault:        msg.Fault,
	})
	if err != nil {
		return err
	}
	ciphertext, err := encrypt(plain, m.config.ActiveKey)
	if err != nil {
		return err
	}
	msg.Content = sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext)
	msg.PendingCalls = nil
	msg.Fault = nil
	return nil
}

func (m *encryptionMiddleware) open(msg *domain.Message) error {
	encoded, ok := strings.CutPrefix(msg.Content, sealedPrefix)
	if !ok {
		return ErrNotEncrypted
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return err
	}
	var body sealedBody
	if err := json.Unmarshal(plain, &body); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted message: %w", err)
	}
	msg.Content = body.Content
	msg.PendingCalls = body.PendingCalls
	msg.Fault = body.Fault
	return nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ParseKey accepts a key as read from configuration: 32 raw bytes or their base64 form.
func ParseKey(s string) ([]byte, error) {
	if len(s) == 32 {
		return []byte(s), nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("encryption key is neither 32 raw bytes nor base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
