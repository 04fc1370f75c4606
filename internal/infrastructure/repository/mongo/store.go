package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// Record is a stored document whose id lives outside its bson body.
type Record[T any] interface {
	*T
	SetID(id string)
}

// Connect opens a client and pings the primary; a failed ping closes it.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, func(context.Context) error, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, domain.WrapError(domain.ErrTemporary, "ping mongodb", err)
	}
	slog.Info("mongodb_connected", "database", database)
	return client.Database(database), client.Disconnect, nil
}

// Store is generic CRUD over one collection keyed by ObjectID.
type Store[T any, P Record[T]] struct {
	coll *mongo.Collection
}

func NewStore[T any, P Record[T]](db *mongo.Database, collection string) *Store[T, P] {
	return &Store[T, P]{coll: db.Collection(collection)}
}

func (s *Store[T, P]) Insert(ctx context.Context, doc *T) (string, error) {
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", s.coll.Name(), err)
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert into %s: unexpected id type %T", s.coll.Name(), res.InsertedID)
	}
	P(doc).SetID(oid.Hex())
	return oid.Hex(), nil
}

func (s *Store[T, P]) GetByID(ctx context.Context, id string) (*T, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	raw, err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.WrapError(domain.ErrNotFound, "get "+s.coll.Name(), fmt.Errorf("id %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("find %s in %s: %w", id, s.coll.Name(), err)
	}
	return decode[T, P](raw)
}

func (s *Store[T, P]) GetAll(ctx context.Context, filter map[string]any) ([]T, error) {
	query := bson.M{}
	for k, v := range filter {
		query[k] = v
	}
	cursor, err := s.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.coll.Name(), err)
	}
	defer cursor.Close(ctx)

	out := make([]T, 0)
	for cursor.Next(ctx) {
		doc, err := decode[T, P](cursor.Current)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.coll.Name(), err)
	}
	return out, nil
}

func (s *Store[T, P]) Replace(ctx context.Context, id string, doc *T) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": oid}, doc)
	if err != nil {
		return fmt.Errorf("replace %s in %s: %w", id, s.coll.Name(), err)
	}
	if res.MatchedCount == 0 {
		return domain.WrapError(domain.ErrNotFound, "replace "+s.coll.Name(), fmt.Errorf("id %s", id))
	}
	return nil
}

func (s *Store[T, P]) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete %s from %s: %w", id, s.coll.Name(), err)
	}
	if res.DeletedCount == 0 {
		return domain.WrapError(domain.ErrNotFound, "delete "+s.coll.Name(), fmt.Errorf("id %s", id))
	}
	slog.Info("document_deleted", "collection", s.coll.Name(), "id", id)
	return nil
}

// parseID treats a malformed id like a missing one.
func parseID(id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.ObjectID{}, domain.WrapError(domain.ErrNotFound, "parse id", fmt.Errorf("%q is not a valid id", id))
	}
	return oid, nil
}

func decode[T any, P Record[T]](raw bson.Raw) (*T, error) {
	doc := new(T)
	if err := bson.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if oid, ok := raw.Lookup("_id").ObjectIDOK(); ok {
		P(doc).SetID(oid.Hex())
	}
	return doc, nil
}
