package ssh

// keys.go loads the private keys used to authenticate outbound connections
// and generates throwaway ED25519 keys for hosts we control (tests, mocks).
//
// NOTE: 'x/crypto/ssh' has no 'PrivateKey' type. The 'Signer' interface
// fulfills all the roles of a private key within the 'x/crypto/ssh' package.

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

var (
	ErrKeyGen            = fmt.Errorf("failed to generate a 'crypto/ed25519' keypair")
	ErrKeyRead           = fmt.Errorf("failed to read SSH private key")
	ErrSSHFailedKeyParse = fmt.Errorf("failed to parse SSH private key")
	ErrPrivKeyMarshal    = fmt.Errorf("failed to marshal the private key to OpenSSH format")
)

// LoadSigner reads a PEM-encoded private key (RSA, ECDSA, ED25519, OpenSSH or
// PKCS#8) from 'path'. See 'ParseKey' for passphrase handling.
func LoadSigner(path string, phrase []byte) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyRead, err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrKeyRead, path)
	}
	return ParseKey(key, phrase)
}

// ParseKey attempts to parse the provided 'key' value as a PEM-encoded private
// key.
//
// If 'phrase' is nil or an empty slice, the key parse will be attempted
// assuming no encryption.
// If 'phrase' is provided, the key will be parsed assuming encryption. If the
// parse fails with the key it will be reattempted assuming no encryption.
func ParseKey(key, phrase []byte) (ssh.Signer, error) {
	if len(phrase) > 0 {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, phrase)
		if err == nil {
			return signer, nil
		}
		// The key may simply not be encrypted.
		if signer, perr := ssh.ParsePrivateKey(key); perr == nil {
			return signer, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedKeyParse, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedKeyParse, err)
	}
	return signer, nil
}

// ED25519KeyPair is a freshly generated key pair.
type ED25519KeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewED25519KeyPair generates a 'crypto/ed25519' public+private key pair.
func NewED25519KeyPair() (ED25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return ED25519KeyPair{}, fmt.Errorf("%w: %w", ErrKeyGen, err)
	}
	return ED25519KeyPair{public: pub, private: priv}, nil
}

// Signer converts the private half to an 'ssh.Signer'.
func (kp ED25519KeyPair) Signer() (ssh.Signer, error) {
	return ssh.NewSignerFromKey(kp.private)
}

// PublicKey converts the public half to an 'ssh.PublicKey'.
func (kp ED25519KeyPair) PublicKey() (ssh.PublicKey, error) {
	return ssh.NewPublicKey(kp.public)
}

// MarshalPrivateKey encodes the private half in the OpenSSH PEM format, the
// format 'LoadSigner' reads back.
func (kp ED25519KeyPair) MarshalPrivateKey(comment string) ([]byte, error) {
	block, err := ssh.MarshalPrivateKey(kp.private, comment)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrivKeyMarshal, err)
	}
	return pem.EncodeToMemory(block), nil
}

// MarshalPrivateKeyWithPassphrase is like 'MarshalPrivateKey', encrypting the
// key with 'phrase'.
func (kp ED25519KeyPair) MarshalPrivateKeyWithPassphrase(comment string, phrase []byte) ([]byte, error) {
	block, err := ssh.MarshalPrivateKeyWithPassphrase(kp.private, comment, phrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrivKeyMarshal, err)
	}
	return pem.EncodeToMemory(block), nil
}
