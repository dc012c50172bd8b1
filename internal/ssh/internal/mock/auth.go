package mock

import (
	"bytes"
	"fmt"

	"golang.org/x/crypto/ssh"
)

var ErrUnauthorized = fmt.Errorf("public key is not authorized")

// PublicKeyCallback returns a closure for use with an 'ssh.ServerConfig' that
// admits only the public keys in 'allowedPubKeys'.
func PublicKeyCallback(allowedPubKeys ...ssh.PublicKey) PubKeyCallback {
	marshaled := make([][]byte, 0, len(allowedPubKeys))
	for _, key := range allowedPubKeys {
		marshaled = append(marshaled, key.Marshal())
	}
	return func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
		offered := key.Marshal()
		for _, allowed := range marshaled {
			if bytes.Equal(allowed, offered) {
				return nil, nil
			}
		}
		return nil, ErrUnauthorized
	}
}
