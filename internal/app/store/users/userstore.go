package userstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dalemusser/churchos/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const statusActive = "active"

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("users")}
}

var (
	ErrNotFound = errors.New("user not found")
	errNoEmail  = errors.New("email is required")
)

// normalizeEmail trims and lowercases an address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetByEmail looks up a user by case-insensitive email.
func (s *Store) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return s.findOne(ctx, bson.M{"email_ci": text.Fold(normalizeEmail(email))})
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.User, error) {
	var u models.User
	if err := s.c.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, err
	}
	return u, nil
}

// IsSuperAdmin is the global super-admin predicate. It has no side effects;
// an unknown user is not a super-admin.
func (s *Store) IsSuperAdmin(ctx context.Context, userID primitive.ObjectID) (bool, error) {
	err := s.c.FindOne(ctx,
		bson.M{"_id": userID, "role": models.UserRoleSuperAdmin, "status": statusActive},
		options.FindOne().SetProjection(bson.M{"_id": 1}),
	).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SignInProfile is what an identity provider tells us about a user.
type SignInProfile struct {
	Email      string
	FullName   string
	AuthMethod string
	Subject    string // provider's stable user id
}

// UpsertFromSignIn returns the user for p.Email, creating a regular user on
// first sign-in and refreshing the profile fields otherwise. The role of an
// existing user is never changed.
func (s *Store) UpsertFromSignIn(ctx context.Context, p SignInProfile) (models.User, error) {
	email := normalizeEmail(p.Email)
	if email == "" {
		return models.User{}, errNoEmail
	}
	name := strings.TrimSpace(p.FullName)
	if name == "" {
		name = email
	}
	now := time.Now().UTC()

	filter := bson.M{"email_ci": text.Fold(email)}
	update := bson.M{
		"$set": bson.M{
			"full_name":      name,
			"full_name_ci":   text.Fold(name),
			"auth_method":    p.AuthMethod,
			"auth_return_id": p.Subject,
			"updated_at":     now,
		},
		"$setOnInsert": bson.M{
			"_id":        primitive.NewObjectID(),
			"email":      email,
			"role":       models.UserRoleUser,
			"status":     statusActive,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var u models.User
	err := s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	if err != nil && wafflemongo.IsDup(err) {
		// Lost an upsert race with a concurrent first sign-in; the row exists now.
		err = s.c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// EnsureSuperAdmin makes the user with email a super-admin, creating the
// account if needed. It reports whether anything changed.
func (s *Store) EnsureSuperAdmin(ctx context.Context, email, fullName string) (models.User, bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return models.User{}, false, errNoEmail
	}
	existing, err := s.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.IsSuperAdmin() && existing.Status == statusActive:
		return existing, false, nil
	case err == nil:
		_, err = s.c.UpdateByID(ctx, existing.ID, bson.M{"$set": bson.M{
			"role":       models.UserRoleSuperAdmin,
			"status":     statusActive,
			"updated_at": time.Now().UTC(),
		}})
		if err != nil {
			return models.User{}, false, err
		}
		existing.Role = models.UserRoleSuperAdmin
		existing.Status = statusActive
		return existing, true, nil
	case !errors.Is(err, ErrNotFound):
		return models.User{}, false, err
	}

	name := strings.TrimSpace(fullName)
	if name == "" {
		name = email
	}
	now := time.Now().UTC()
	u := models.User{
		ID:         primitive.NewObjectID(),
		FullName:   name,
		FullNameCI: text.Fold(name),
		Email:      email,
		EmailCI:    text.Fold(email),
		AuthMethod: "google",
		Role:       models.UserRoleSuperAdmin,
		Status:     statusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.c.InsertOne(ctx, u); err != nil {
		if wafflemongo.IsDup(err) {
			return s.EnsureSuperAdmin(ctx, email, fullName)
		}
		return models.User{}, false, err
	}
	return u, true, nil
}

// IndexModels describes the users collection indexes.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_ci", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_users_email_ci"),
		},
		{
			Keys:    bson.D{{Key: "role", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_users_role_status"),
		},
	}
}
