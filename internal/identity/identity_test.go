package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"vpn_handshake/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyPinned(t *testing.T) {
	ctx := context.Background()
	alice, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)
	bob, err := Generate(model.Responder, NewPinnedSet(alice.PublicKey()))
	require.NoError(t, err)

	data := []byte("transcript")
	sig := alice.Sign(data)

	assert.NoError(t, bob.Verify(ctx, alice.PublicKey(), data, sig))

	err = bob.Verify(ctx, alice.PublicKey(), []byte("other"), sig)
	assert.ErrorIs(t, err, model.ErrAuthenticationFailed)

	// alice pins nobody
	err = alice.Verify(ctx, bob.PublicKey(), data, bob.Sign(data))
	assert.ErrorIs(t, err, model.ErrAuthenticationFailed)
}

func TestAuthorizeRejectsWrongSize(t *testing.T) {
	id, err := Generate(model.Responder, NewPinnedSet())
	require.NoError(t, err)
	err = id.Authorize(context.Background(), []byte{1, 2, 3})
	assert.ErrorIs(t, err, model.ErrAuthenticationFailed)
}

func TestVerifierFunc(t *testing.T) {
	boom := errors.New("chain expired")
	policy := VerifierFunc(func(context.Context, ed25519.PublicKey) (bool, error) {
		return false, boom
	})
	id, err := Generate(model.Responder, policy)
	require.NoError(t, err)

	peer, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)

	err = id.Authorize(context.Background(), peer.PublicKey())
	assert.ErrorIs(t, err, model.ErrAuthenticationFailed)
	assert.ErrorIs(t, err, boom)
}

type fakeLookup map[string]*model.TrustedPeer

func (f fakeLookup) GetByKey(_ context.Context, key string) (*model.TrustedPeer, error) {
	return f[key], nil
}

func TestRepositoryPolicy(t *testing.T) {
	trusted, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)
	revoked, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)
	stranger, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)

	lookup := fakeLookup{
		EncodePublicKey(trusted.PublicKey()): {Name: "trusted", PublicKey: EncodePublicKey(trusted.PublicKey())},
		EncodePublicKey(revoked.PublicKey()): {Name: "revoked", PublicKey: EncodePublicKey(revoked.PublicKey()), Revoked: true},
	}
	policy := &RepositoryPolicy{Peers: lookup}
	ctx := context.Background()

	ok, err := policy.Trusted(ctx, trusted.PublicKey())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = policy.Trusted(ctx, revoked.PublicKey())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = policy.Trusted(ctx, stranger.PublicKey())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPinnedSetConcurrentReads(t *testing.T) {
	peer, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)
	set := NewPinnedSet(peer.PublicKey())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := set.Trusted(context.Background(), peer.PublicKey())
			assert.True(t, ok)
		}()
	}
	wg.Wait()
}

func TestNewValidates(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = New(0, priv, NewPinnedSet())
	assert.Error(t, err)
	_, err = New(model.Initiator, priv[:10], NewPinnedSet())
	assert.Error(t, err)
	_, err = New(model.Initiator, priv, nil)
	assert.Error(t, err)
}

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()
	id, err := Generate(model.Initiator, NewPinnedSet())
	require.NoError(t, err)

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "static.key")
	require.NoError(t, WriteKeyFile(keyPath, priv))

	loaded, err := LoadKeyFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, priv, loaded)

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	trustPath := filepath.Join(dir, "trusted")
	content := "# peers\n\n" + EncodePublicKey(id.PublicKey()) + " laptop\n"
	require.NoError(t, os.WriteFile(trustPath, []byte(content), 0o644))

	keys, err := LoadTrustFile(trustPath)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, id.PublicKey(), keys[0])
}

func TestLoadTrustFileBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted")
	require.NoError(t, os.WriteFile(path, []byte("zz\n"), 0o644))
	_, err := LoadTrustFile(path)
	assert.Error(t, err)
}

func TestAnyOf(t *testing.T) {
	ctx := context.Background()
	a, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	b, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	broken := VerifierFunc(func(context.Context, ed25519.PublicKey) (bool, error) {
		return false, errors.New("store down")
	})

	policy := AnyOf{broken, NewPinnedSet(a)}
	ok, err := policy.Trusted(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = policy.Trusted(ctx, b)
	assert.False(t, ok)
	assert.ErrorContains(t, err, "store down")

	ok, err = AnyOf{NewPinnedSet(a)}.Trusted(ctx, b)
	assert.False(t, ok)
	assert.NoError(t, err)
}
