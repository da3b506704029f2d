// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dalemusser/churchos/internal/app/store/audit"
	membershipstore "github.com/dalemusser/churchos/internal/app/store/memberships"
	"github.com/dalemusser/churchos/internal/app/store/oauthstate"
	pagestore "github.com/dalemusser/churchos/internal/app/store/pages"
	tenantstore "github.com/dalemusser/churchos/internal/app/store/tenants"
	userstore "github.com/dalemusser/churchos/internal/app/store/users"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// collectionSet pairs a collection with the indexes its store declares.
type collectionSet struct {
	name   string
	models func() []mongo.IndexModel
}

var collections = []collectionSet{
	{"tenants", tenantstore.IndexModels},
	{"users", userstore.IndexModels},
	{"memberships", membershipstore.IndexModels},
	{"pages", pagestore.IndexModels},
	{"oauth_states", oauthstate.IndexModels},
	{"audit_events", audit.IndexModels},
}

/*
EnsureAll is called at startup. Reconciliation is idempotent.
We aggregate errors so any problem is visible and startup can fail fast.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string
	for _, cs := range collections {
		if err := ensureIndexSet(ctx, db.Collection(cs.name), cs.models()); err != nil {
			problems = append(problems, cs.name+": "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper: reconcile a set of desired indexes for one collection         */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name          string   `bson:"name"`
	Key           bson.D   `bson:"key"`
	Unique        *bool    `bson:"unique,omitempty"`
	PartialFilter bson.Raw `bson:"partialFilterExpression,omitempty"`
	ExpireAfter   *int64   `bson:"expireAfterSeconds,omitempty"`
}

// desiredIndex is the comparable view of a mongo.IndexModel.
type desiredIndex struct {
	name          string
	sig           string
	unique        *bool
	partialFilter bson.M
	expireAfter   *int64
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

func sameBoolPtr(a, b *bool) bool {
	av := false
	bv := false
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}

func sameInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// filterMap normalizes a partial filter expression to bson.M so a filter
// declared as bson.D compares equal to the one the server reports.
func filterMap(v interface{}) (bson.M, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

func describe(m mongo.IndexModel) (desiredIndex, error) {
	keys, ok := m.Keys.(bson.D)
	if !ok {
		return desiredIndex{}, fmt.Errorf("index keys must be bson.D, got %T", m.Keys)
	}
	d := desiredIndex{sig: keySig(keys)}
	if m.Options == nil {
		return d, nil
	}
	if m.Options.Name != nil {
		d.name = *m.Options.Name
	}
	d.unique = m.Options.Unique
	if m.Options.ExpireAfterSeconds != nil {
		v := int64(*m.Options.ExpireAfterSeconds)
		d.expireAfter = &v
	}
	pf, err := filterMap(m.Options.PartialFilterExpression)
	if err != nil {
		return desiredIndex{}, fmt.Errorf("partial filter: %w", err)
	}
	d.partialFilter = pf
	return d, nil
}

// sameOptions reports whether ex enforces what d asks for. Name is
// compared separately.
func (d desiredIndex) sameOptions(ex existingIndex) bool {
	if !sameBoolPtr(d.unique, ex.Unique) || !sameInt64Ptr(d.expireAfter, ex.ExpireAfter) {
		return false
	}
	var exFilter bson.M
	if len(ex.PartialFilter) > 0 {
		if err := bson.Unmarshal(ex.PartialFilter, &exFilter); err != nil {
			return false
		}
		if len(exFilter) == 0 {
			exFilter = nil
		}
	}
	return reflect.DeepEqual(d.partialFilter, exFilter)
}

// Best-effort duplicate-detector (works cross-vendors)
func isDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 { // E11000 duplicate key error index
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "E11000") || strings.Contains(strings.ToLower(s), "duplicate key")
}

// Mongo/DocDB sometimes returns IndexOptionsConflict when an index with the
// same keys already exists under a different name (or options differ).
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "IndexOptionsConflict") ||
		strings.Contains(err.Error(), "IndexKeySpecsConflict")
}

func listExisting(ctx context.Context, coll *mongo.Collection) (map[string]existingIndex, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	existing := map[string]existingIndex{} // sig -> index
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		existing[keySig(idx.Key)] = idx
	}
	return existing, cur.Err()
}

func createErr(coll *mongo.Collection, d desiredIndex, err error) string {
	if isDuplicateKeyErr(err) && d.unique != nil && *d.unique {
		helper := ""
		if coll.Name() == "pages" {
			helper = " (two live pages share a slug or homepage flag within a tenant)"
		}
		return fmt.Sprintf("%s(%s): cannot create unique index (duplicates present)%s", coll.Name(), d.name, helper)
	}
	return fmt.Sprintf("%s(%s): %v", coll.Name(), d.name, err)
}

// recreate drops ex and creates m in its place.
func recreate(ctx context.Context, coll *mongo.Collection, ex existingIndex, m mongo.IndexModel, d desiredIndex) error {
	if _, err := coll.Indexes().DropOne(ctx, ex.Name); err != nil {
		zap.L().Warn("drop existing index failed",
			zap.String("collection", coll.Name()),
			zap.String("name", ex.Name),
			zap.String("keys", d.sig),
			zap.Error(err))
		return fmt.Errorf("%s(%s): drop failed: %v", coll.Name(), d.name, err)
	}
	if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
		return errors.New(createErr(coll, d, err))
	}
	return nil
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	for _, m := range models {
		d, err := describe(m)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", coll.Name(), err))
			continue
		}

		start := time.Now()
		zap.L().Info("ensuring index",
			zap.String("collection", coll.Name()),
			zap.String("name", d.name),
			zap.String("keys", d.sig),
			zap.Bool("unique", d.unique != nil && *d.unique),
			zap.Bool("partial", d.partialFilter != nil))

		// 1) Load existing indexes. A missing collection lists nothing.
		existing, err := listExisting(ctx, coll)
		if err != nil {
			existing = map[string]existingIndex{}
		}

		if ex, ok := existing[d.sig]; ok {
			switch {
			case !d.sameOptions(ex):
				// Options mismatch (e.g. a filter changed). Drop & recreate.
				if err := recreate(ctx, coll, ex, m, d); err != nil {
					errs = append(errs, err.Error())
					continue
				}
				zap.L().Info("index dropped and recreated",
					zap.String("collection", coll.Name()),
					zap.String("name", d.name),
					zap.String("keys", d.sig),
					zap.String("took", time.Since(start).String()))

			case d.name != "" && ex.Name != d.name:
				zap.L().Info("renaming index to align with desired name",
					zap.String("collection", coll.Name()),
					zap.String("from", ex.Name),
					zap.String("to", d.name),
					zap.String("keys", d.sig))
				if err := recreate(ctx, coll, ex, m, d); err != nil {
					errs = append(errs, err.Error())
					continue
				}

			default:
				zap.L().Info("reusing existing index",
					zap.String("collection", coll.Name()),
					zap.String("name", ex.Name),
					zap.String("keys", d.sig),
					zap.String("took", time.Since(start).String()))
			}
			continue
		}

		// 2) No existing index with the same keys: create it.
		created, err := coll.Indexes().CreateOne(ctx, m)
		if err == nil {
			zap.L().Info("index ensured",
				zap.String("collection", coll.Name()),
				zap.String("name", d.name),
				zap.String("created_name", created),
				zap.String("keys", d.sig),
				zap.String("took", time.Since(start).String()))
			continue
		}

		// An index under the desired name with different keys blocks creation.
		if isOptionsConflictErr(err) && d.name != "" {
			if _, dropErr := coll.Indexes().DropOne(ctx, d.name); dropErr == nil {
				_, err = coll.Indexes().CreateOne(ctx, m)
				if err == nil {
					zap.L().Info("index dropped and recreated (post-conflict)",
						zap.String("collection", coll.Name()),
						zap.String("name", d.name),
						zap.String("keys", d.sig),
						zap.String("took", time.Since(start).String()))
					continue
				}
			}
		}

		zap.L().Warn("index ensure failed",
			zap.String("collection", coll.Name()),
			zap.String("name", d.name),
			zap.String("keys", d.sig),
			zap.String("took", time.Since(start).String()),
			zap.Error(err))
		errs = append(errs, createErr(coll, d, err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}
