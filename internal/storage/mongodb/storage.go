package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/goevery/notifier/internal/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Entry struct {
	Key        string    `bson:"_id"`
	Value      string    `bson:"value"`
	UpdateTime time.Time `bson:"updateTime"`
}

// Storage keeps each key as one document, so a profile can follow a user
// across machines.
type Storage struct {
	collection *mongo.Collection
}

func NewStorage(client *mongo.Client, database string) *Storage {
	collection := client.Database(database).Collection("client_state")

	return &Storage{
		collection,
	}
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var entry Entry

	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return []byte(entry.Value), nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	entry := Entry{
		Key:        key,
		Value:      string(value),
		UpdateTime: time.Now(),
	}

	opts := options.Replace().SetUpsert(true)

	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, entry, opts)
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}
