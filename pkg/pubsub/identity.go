package pubsub

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// LoadOrCreateIdentity reads the Ed25519 host key at path, generating and
// saving a new one when the file does not exist.
func LoadOrCreateIdentity(path string) (crypto.PrivKey, peer.ID, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		priv, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, "", fmt.Errorf("invalid identity key %s: %w", path, err)
		}
		id, err := peer.IDFromPrivateKey(priv)
		return priv, id, err
	case !errors.Is(err, fs.ErrNotExist):
		return nil, "", err
	}

	priv, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, "", err
	}
	data, err = crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	return priv, id, err
}
