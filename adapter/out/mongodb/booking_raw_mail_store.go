package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"booking_worker/core/port/out"
	"booking_worker/pkg/apperr"
)

// Compression threshold - only compress if content is larger than this
const compressionThreshold = 1024

// RawMailStore implements out.BlobStore and out.BlobWriter. The bucket names a
// collection and the key is the document _id.
type RawMailStore struct {
	db *mongo.Database
}

func NewRawMailStore(db *mongo.Database) *RawMailStore {
	return &RawMailStore{db: db}
}

// rawMailDocument represents the MongoDB document structure.
type rawMailDocument struct {
	Key          string    `bson:"_id"`
	Raw          []byte    `bson:"raw"`
	IsCompressed bool      `bson:"is_compressed"`
	OriginalSize int64     `bson:"original_size"`
	StoredAt     time.Time `bson:"stored_at"`
}

// EnsureIndexes creates the stored_at index on bucket.
func (s *RawMailStore) EnsureIndexes(ctx context.Context, bucket string) error {
	_, err := s.db.Collection(bucket).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "stored_at", Value: -1}},
	})
	return err
}

func (s *RawMailStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	var doc rawMailDocument
	err := s.db.Collection(bucket).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound(fmt.Sprintf("object %s/%s", bucket, key))
	}
	if err != nil {
		return nil, apperr.ProviderError("mongodb", fmt.Errorf("failed to read raw mail: %w", err))
	}
	return fromDocument(&doc)
}

func (s *RawMailStore) Write(ctx context.Context, bucket, key string, raw []byte) error {
	doc, err := toDocument(key, raw, time.Now().UTC())
	if err != nil {
		return apperr.InternalWithError(err)
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(bucket).ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return apperr.ProviderError("mongodb", fmt.Errorf("failed to save raw mail: %w", err))
	}
	return nil
}

func toDocument(key string, raw []byte, now time.Time) (*rawMailDocument, error) {
	doc := &rawMailDocument{
		Key:          key,
		Raw:          raw,
		OriginalSize: int64(len(raw)),
		StoredAt:     now,
	}
	if len(raw) > compressionThreshold {
		compressed, err := compress(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to compress raw mail: %w", err)
		}
		doc.Raw = compressed
		doc.IsCompressed = true
	}
	return doc, nil
}

func fromDocument(doc *rawMailDocument) ([]byte, error) {
	if !doc.IsCompressed {
		return doc.Raw, nil
	}
	raw, err := decompress(doc.Raw)
	if err != nil {
		return nil, apperr.ParseError("stored mail is not valid gzip", err)
	}
	return raw, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

var (
	_ out.BlobStore  = (*RawMailStore)(nil)
	_ out.BlobWriter = (*RawMailStore)(nil)
)
