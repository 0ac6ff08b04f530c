package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"vpn_handshake/internal/config"
	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"
	peerRepo "vpn_handshake/internal/repository/peer"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type TrustAction string

const (
	TrustAdd    TrustAction = "add"
	TrustRevoke TrustAction = "revoke"
	TrustList   TrustAction = "list"
)

// PeerStore is the part of the peer repository that enrollment needs.
type PeerStore interface {
	Create(ctx context.Context, peer *model.TrustedPeer) (primitive.ObjectID, error)
	Revoke(ctx context.Context, publicKey string) error
	List(ctx context.Context) ([]*model.TrustedPeer, error)
}

// Trust connects to the peer store named in cfg and applies action.
func Trust(ctx context.Context, cfg *config.Config, action TrustAction, name, pub string, out io.Writer) (err error) {
	client, err := initMongo(ctx, cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer func() {
		if derr := client.Disconnect(context.Background()); err == nil {
			err = derr
		}
	}()

	repo := peerRepo.NewPeerRepo(client.Database(cfg.MongoDatabase))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return ManageTrust(ctx, repo, action, name, pub, out)
}

// ManageTrust enrolls, revokes or lists peers. Keys are stored in the same
// canonical hex form RepositoryPolicy looks them up by.
func ManageTrust(ctx context.Context, store PeerStore, action TrustAction, name, pub string, out io.Writer) error {
	switch action {
	case TrustAdd, TrustRevoke:
	case TrustList:
		peers, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range peers {
			if _, err := fmt.Fprintf(out, "%s %s\n", p.PublicKey, p.Name); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown trust action %q", action)
	}

	key, err := identity.ParsePublicKey(pub)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	hexKey := identity.EncodePublicKey(key)

	if action == TrustRevoke {
		if err := store.Revoke(ctx, hexKey); errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("peer %s is not enrolled", hexKey)
		} else if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "revoked %s\n", hexKey)
		return err
	}

	if _, err := store.Create(ctx, &model.TrustedPeer{Name: name, PublicKey: hexKey}); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("peer %s is already enrolled", hexKey)
		}
		return err
	}
	_, err = fmt.Fprintf(out, "trusted %s %s\n", hexKey, name)
	return err
}
