package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type (
	// TrustedPeer is a pinned remote static key kept in the peer repository.
	TrustedPeer struct {
		ID        primitive.ObjectID `bson:"_id,omitempty"`
		Name      string             `bson:"name"`
		PublicKey string             `bson:"public_key"` // hex-encoded Ed25519 key
		Revoked   bool               `bson:"revoked"`
		CreatedAt time.Time          `bson:"created_at"`
	}
)
