package sshkeys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"pkt.systems/pslog"
	"pkt.systems/tabterm/internal/persist"
)

const (
	// KeyTypeEd25519 requests Ed25519 key generation.
	KeyTypeEd25519 = "ed25519"
	// KeyTypeRSA requests RSA key generation.
	KeyTypeRSA = "rsa"
	// DefaultRSABits is the default RSA key size in bits.
	DefaultRSABits = 3072
)

// GenerateOptions describes a client key to create.
type GenerateOptions struct {
	Path       string
	Type       string
	Bits       int
	Comment    string
	Passphrase []byte
	// Overwrite replaces an existing key at Path.
	Overwrite bool
	Logger    pslog.Logger
}

// Generate writes an OpenSSH private key to opts.Path and the matching
// public key to opts.Path + ".pub". It returns the authorized_keys line.
func Generate(opts GenerateOptions) (string, error) {
	log := opts.Logger
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return "", errors.New("key path is required")
	}
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("key already exists: %s", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	if log != nil {
		log.Info("ssh key generate start", "path", path, "type", opts.Type, "bits", opts.Bits)
	}
	priv, err := newPrivateKey(opts.Type, opts.Bits)
	if err != nil {
		if log != nil {
			log.Warn("ssh key generate failed", "path", path, "err", err)
		}
		return "", err
	}
	var block *pem.Block
	if len(opts.Passphrase) > 0 {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, opts.Comment, opts.Passphrase)
	} else {
		block, err = ssh.MarshalPrivateKey(priv, opts.Comment)
	}
	if err != nil {
		if log != nil {
			log.Warn("ssh key generate failed", "path", path, "err", err)
		}
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := persist.WriteFileAtomic(path, pem.EncodeToMemory(block), 0o600); err != nil {
		if log != nil {
			log.Warn("ssh key generate failed", "path", path, "err", err)
		}
		return "", err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return "", err
	}
	pub := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey())))
	if opts.Comment != "" {
		pub += " " + opts.Comment
	}
	if err := os.WriteFile(path+".pub", []byte(pub+"\n"), 0o644); err != nil {
		if log != nil {
			log.Warn("ssh key generate failed", "path", path, "err", err)
		}
		return "", err
	}
	if log != nil {
		log.Info("ssh key generate ok", "path", path)
	}
	return pub, nil
}

func newPrivateKey(keyType string, bits int) (crypto.PrivateKey, error) {
	keyType = strings.ToLower(strings.TrimSpace(keyType))
	if keyType == "" {
		keyType = KeyTypeEd25519
	}
	switch keyType {
	case KeyTypeEd25519:
		_, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return key, nil
	case KeyTypeRSA:
		if bits == 0 {
			bits = DefaultRSABits
		}
		if bits < 2048 {
			return nil, fmt.Errorf("rsa bits must be at least 2048")
		}
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, err
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported ssh key type %q", keyType)
	}
}

// LoadAuthorizedKeys parses an authorized_keys file.
func LoadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []ssh.PublicKey
	for len(data) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(data)
		if err != nil {
			if len(keys) == 0 {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			break
		}
		keys = append(keys, key)
		data = rest
	}
	return keys, nil
}
