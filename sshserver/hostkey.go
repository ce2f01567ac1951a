package sshserver

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"pkt.systems/tabterm/internal/sshkeys"
)

// EnsureHostKey loads the host key at path, generating an Ed25519 key on
// first use.
func EnsureHostKey(path string) (ssh.Signer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ssh host key path is required")
	}
	if _, err := os.Stat(path); err == nil {
		return loadHostKey(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat host key: %w", err)
	}
	if _, err := sshkeys.Generate(sshkeys.GenerateOptions{
		Path:    path,
		Type:    sshkeys.KeyTypeEd25519,
		Comment: "tabterm host key",
	}); err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	return loadHostKey(path)
}

func loadHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse host key: %w", err)
	}
	return signer, nil
}
