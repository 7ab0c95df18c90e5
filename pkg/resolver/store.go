package resolver

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/redist"
	"github.com/matzehuels/cudaredist/pkg/version"
)

// Store persists snapshots between runs.
type Store interface {
	// Load returns the stored snapshot, or an empty one if none exists.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, s Snapshot) error
	// Close releases backend resources.
	Close() error
}

// =============================================================================
// File store
// =============================================================================

// FileStore keeps the snapshot in a single JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string { return s.path }

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "read snapshot %s", s.path)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrap(errors.GetCode(err), err, "snapshot %s", s.path)
	}
	return snap, nil
}

// Save implements Store. The file is replaced atomically.
func (s *FileStore) Save(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := snap.Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "create snapshot dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write snapshot")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(errors.ErrCodeInvalidPath, err, "write snapshot")
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)

// =============================================================================
// MongoDB store
// =============================================================================

// MongoConfig configures a MongoStore.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

const (
	defaultMongoDatabase   = "cudaredist"
	defaultMongoCollection = "providers"
	defaultMongoTimeout    = 10 * time.Second
)

// mongoEntry is one table entry as a document. The id is the Key string so
// that Save can upsert.
type mongoEntry struct {
	ID       string `bson:"_id"`
	Platform string `bson:"platform"`
	Soname   string `bson:"soname"`
	Version  string `bson:"version"`
	Package  string `bson:"package_name"`
}

// MongoStore keeps one document per entry in a MongoDB collection, so that
// several hosts can share overrides.
type MongoStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
}

// NewMongoStore connects to cfg.URI and pings the server.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "mongo store: uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = defaultMongoDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = defaultMongoCollection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMongoTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "mongo connect")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "mongo ping")
	}
	return &MongoStore{
		client:  client,
		coll:    client.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
	}, nil
}

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "mongo find")
	}
	var docs []mongoEntry
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(errors.ErrCodeTransport, err, "mongo decode")
	}
	return fromDocs(docs)
}

// Save implements Store. Entries missing from snap are removed.
func (s *MongoStore) Save(ctx context.Context, snap Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docs := toDocs(snap)
	ids := make([]string, 0, len(docs))
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: d.ID}}).
			SetReplacement(d).
			SetUpsert(true))
	}
	if len(models) > 0 {
		if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
			return errors.Wrap(errors.ErrCodeTransport, err, "mongo bulk write")
		}
	}
	stale := bson.D{{Key: "_id", Value: bson.D{{Key: "$nin", Value: ids}}}}
	if _, err := s.coll.DeleteMany(ctx, stale); err != nil {
		return errors.Wrap(errors.ErrCodeTransport, err, "mongo delete stale")
	}
	return nil
}

// Close implements Store.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)

func toDocs(snap Snapshot) []mongoEntry {
	docs := make([]mongoEntry, 0, snap.Len())
	snap.Each(func(k Key, id redist.PackageID) {
		docs = append(docs, mongoEntry{
			ID:       k.String(),
			Platform: string(k.Platform),
			Soname:   k.Soname,
			Version:  k.Version,
			Package:  id.Name,
		})
	})
	return docs
}

func fromDocs(docs []mongoEntry) (Snapshot, error) {
	snap := Snapshot{}
	for _, d := range docs {
		v, err := version.Parse(d.Version)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeSchema, err, "mongo entry %s", d.ID)
		}
		k := Key{redist.Platform(d.Platform), d.Soname, d.Version}
		id := redist.PackageID{Platform: k.Platform, Name: d.Package, Version: v}
		if err := validate(k, id); err != nil {
			return nil, err
		}
		snap.set(k, id)
	}
	return snap, nil
}
