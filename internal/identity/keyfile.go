package identity

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"vpn_handshake/internal/cryptographic/secret"
)

// WriteKeyFile stores the private key seed as hex, readable by the owner only.
func WriteKeyFile(path string, priv ed25519.PrivateKey) error {
	seed := priv.Seed()
	defer secret.Wipe(seed)

	data := []byte(hex.EncodeToString(seed) + "\n")
	defer secret.Wipe(data)

	return os.WriteFile(path, data, 0o600)
}

func LoadKeyFile(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer secret.Wipe(data)

	seed, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	defer secret.Wipe(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: seed is %d bytes", path, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func EncodePublicKey(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key is %d bytes", len(b))
	}
	return ed25519.PublicKey(b), nil
}

// LoadTrustFile reads one hex public key per line. Blank lines and lines
// starting with '#' are skipped; anything after the key is a comment.
func LoadTrustFile(path string) ([]ed25519.PublicKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var keys []ed25519.PublicKey
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, err := ParsePublicKey(strings.Fields(text)[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
