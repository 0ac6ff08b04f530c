package peer

import (
	"context"
	"testing"

	"vpn_handshake/internal/identity"
	"vpn_handshake/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

var _ identity.PeerLookup = (*PeerRepo)(nil)

func TestPeerRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("get by key", func(mt *mtest.T) {
		repo := &PeerRepo{collection: mt.Coll}
		id := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.trusted_peers", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: id},
			{Key: "name", Value: "laptop"},
			{Key: "public_key", Value: "abcd"},
			{Key: "revoked", Value: false},
		}))

		p, err := repo.GetByKey(ctx, "abcd")
		require.NoError(mt, err)
		require.NotNil(mt, p)
		assert.Equal(mt, id, p.ID)
		assert.Equal(mt, "laptop", p.Name)
		assert.Equal(mt, "abcd", p.PublicKey)
	})

	mt.Run("missing key", func(mt *mtest.T) {
		repo := &PeerRepo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.trusted_peers", mtest.FirstBatch))

		p, err := repo.GetByKey(ctx, "ffff")
		require.NoError(mt, err)
		assert.Nil(mt, p)
	})

	mt.Run("create", func(mt *mtest.T) {
		repo := &PeerRepo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		p := &model.TrustedPeer{Name: "phone", PublicKey: "1234"}
		id, err := repo.Create(ctx, p)
		require.NoError(mt, err)
		assert.False(mt, id.IsZero())
		assert.Equal(mt, id, p.ID)
		assert.False(mt, p.CreatedAt.IsZero())
	})

	mt.Run("revoke", func(mt *mtest.T) {
		repo := &PeerRepo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		require.NoError(mt, repo.Revoke(ctx, "1234"))

		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 0},
			bson.E{Key: "nModified", Value: 0},
		))
		assert.ErrorIs(mt, repo.Revoke(ctx, "9999"), mongo.ErrNoDocuments)
	})

	mt.Run("list", func(mt *mtest.T) {
		repo := &PeerRepo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "db.trusted_peers", mtest.FirstBatch,
			bson.D{{Key: "name", Value: "a"}, {Key: "public_key", Value: "aa"}},
			bson.D{{Key: "name", Value: "b"}, {Key: "public_key", Value: "bb"}},
		))

		peers, err := repo.List(ctx)
		require.NoError(mt, err)
		require.Len(mt, peers, 2)
		assert.Equal(mt, "aa", peers[0].PublicKey)
		assert.Equal(mt, "b", peers[1].Name)
	})

	mt.Run("lookup error", func(mt *mtest.T) {
		repo := &PeerRepo{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
		}))

		_, err := repo.GetByKey(ctx, "abcd")
		assert.Error(mt, err)
	})
}
