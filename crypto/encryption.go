package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// envelopeInfo binds derived keys to their purpose so an envelope sealed for
// mask delivery cannot be replayed in another context.
var envelopeInfo = []byte("tinyvote/v1/mask-envelope")

// Envelope contains ECIES-encrypted data addressed to a node's exchange key.
// The coordinator uses envelopes to deliver each node's private mask; the
// channel itself is untrusted.
// Format: ephemeral pubkey (65 bytes) || nonce (12 bytes) || ciphertext+tag.
type Envelope struct {
	EphemeralPubKey []byte `json:"ephemeral_pub_key"` // P-256 uncompressed public key
	Nonce           []byte `json:"nonce"`             // AES-GCM nonce
	Ciphertext      []byte `json:"ciphertext"`        // Encrypted data with auth tag
}

// Seal encrypts plaintext to a recipient's ECDH public key using ECIES:
// ephemeral P-256 key agreement, HKDF-SHA3 key derivation, AES-256-GCM.
func Seal(recipientPubKey *ecdh.PublicKey, plaintext []byte) (*Envelope, error) {
	ephemeralPriv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeralPriv.ECDH(recipientPubKey)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := envelopeCipher(sharedSecret)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Additional data binds the ciphertext to the ephemeral key.
	ciphertext := gcm.Seal(nil, nonce, plaintext, ephemeralPriv.PublicKey().Bytes())

	return &Envelope{
		EphemeralPubKey: ephemeralPriv.PublicKey().Bytes(),
		Nonce:           nonce,
		Ciphertext:      ciphertext,
	}, nil
}

// Open decrypts an envelope using the recipient's private exchange key.
func Open(recipientPrivKey *ecdh.PrivateKey, env *Envelope) ([]byte, error) {
	ephemeralPub, err := ecdh.P256().NewPublicKey(env.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral key: %w", err)
	}

	sharedSecret, err := recipientPrivKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH: %w", err)
	}

	gcm, err := envelopeCipher(sharedSecret)
	if err != nil {
		return nil, err
	}

	if len(env.Nonce) != gcm.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}

	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, env.EphemeralPubKey)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}

	return plaintext, nil
}

// Bytes serializes an envelope.
func (m *Envelope) Bytes() []byte {
	result := make([]byte, 0, len(m.EphemeralPubKey)+len(m.Nonce)+len(m.Ciphertext))
	result = append(result, m.EphemeralPubKey...)
	result = append(result, m.Nonce...)
	result = append(result, m.Ciphertext...)
	return result
}

// ParseEnvelope deserializes an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	// P-256 uncompressed pubkey is 65 bytes, nonce is 12 bytes
	const pubKeyLen = 65
	const nonceLen = 12
	minLen := pubKeyLen + nonceLen + 16 // 16 is minimum ciphertext (just auth tag)

	if len(data) < minLen {
		return nil, errors.New("envelope too short")
	}

	return &Envelope{
		EphemeralPubKey: data[:pubKeyLen],
		Nonce:           data[pubKeyLen : pubKeyLen+nonceLen],
		Ciphertext:      data[pubKeyLen+nonceLen:],
	}, nil
}

func envelopeCipher(sharedSecret []byte) (cipher.AEAD, error) {
	aesKey := make([]byte, 32)
	kdf := hkdf.New(sha3.New256, sharedSecret, nil, envelopeInfo)
	if _, err := kdf.Read(aesKey); err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}
