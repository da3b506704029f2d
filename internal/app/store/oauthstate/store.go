// internal/app/store/oauthstate/store.go
package oauthstate

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// State is a one-time OAuth2 state token. It remembers where the sign-in
// started so the callback can send the user back to the same tenant host.
type State struct {
	State      string    `bson:"state"`
	ReturnURL  string    `bson:"return_url,omitempty"`
	TenantHost string    `bson:"tenant_host,omitempty"`
	ExpiresAt  time.Time `bson:"expires_at"`
	CreatedAt  time.Time `bson:"created_at"`
}

// Store manages OAuth2 state tokens in MongoDB. Expired tokens are removed
// by a TTL index.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("oauth_states")}
}

// Save stores a state token.
func (s *Store) Save(ctx context.Context, st State) error {
	if st.State == "" {
		return errors.New("oauthstate: empty state")
	}
	st.CreatedAt = time.Now().UTC()
	_, err := s.c.InsertOne(ctx, st)
	return err
}

// Consume deletes and returns an unexpired state token. ok is false when the
// token is unknown, already used, or expired.
func (s *Store) Consume(ctx context.Context, state string) (st State, ok bool, err error) {
	err = s.c.FindOneAndDelete(ctx, bson.M{
		"state":      state,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return st, true, nil
}

// IndexModels describes the oauth_states collection indexes.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "state", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_oauth_state"),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_oauth_expires_at"),
		},
	}
}
