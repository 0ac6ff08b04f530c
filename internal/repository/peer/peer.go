package peer

import (
	"context"
	"errors"
	"time"

	"vpn_handshake/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// PeerRepo stores the static keys a responder trusts.
	PeerRepo struct {
		collection *mongo.Collection
	}
)

func NewPeerRepo(db *mongo.Database) *PeerRepo {
	return &PeerRepo{
		collection: db.Collection("trusted_peers"),
	}
}

// EnsureIndexes makes public_key unique so a key is pinned at most once.
func (r *PeerRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "public_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// GetByKey returns nil, nil when the key is not stored.
func (r *PeerRepo) GetByKey(ctx context.Context, publicKey string) (*model.TrustedPeer, error) {
	filter := bson.M{
		"public_key": publicKey,
	}

	var peer model.TrustedPeer
	err := r.collection.FindOne(ctx, filter).Decode(&peer)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &peer, nil
}

func (r *PeerRepo) Create(ctx context.Context, peer *model.TrustedPeer) (primitive.ObjectID, error) {
	if peer.CreatedAt.IsZero() {
		peer.CreatedAt = time.Now().UTC()
	}
	res, err := r.collection.InsertOne(ctx, peer)
	if err != nil {
		return primitive.NilObjectID, err
	}

	id := res.InsertedID.(primitive.ObjectID)
	peer.ID = id
	return id, nil
}

// Revoke marks a key untrusted without deleting its record.
func (r *PeerRepo) Revoke(ctx context.Context, publicKey string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"public_key": publicKey},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

func (r *PeerRepo) List(ctx context.Context) ([]*model.TrustedPeer, error) {
	cur, err := r.collection.Find(ctx, bson.M{"revoked": bson.M{"$ne": true}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var peers []*model.TrustedPeer
	if err := cur.All(ctx, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}
