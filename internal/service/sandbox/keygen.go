package sandbox

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"vpn_handshake/internal/cryptographic/secret"
	"vpn_handshake/internal/identity"
)

// Keygen writes a new static key to path and prints the public half, ready
// to paste into a peer's trust file. An existing key file is never
// overwritten; its public key is printed instead.
func Keygen(path string, out io.Writer) error {
	if _, err := os.Stat(path); err == nil {
		priv, err := identity.LoadKeyFile(path)
		if err != nil {
			return err
		}
		defer secret.Wipe(priv)
		_, err = fmt.Fprintln(out, identity.EncodePublicKey(priv.Public().(ed25519.PublicKey)))
		return err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	defer secret.Wipe(priv)

	if err := identity.WriteKeyFile(path, priv); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, identity.EncodePublicKey(pub))
	return err
}
