package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/chatflow/agent/transcript"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type turnDoc struct {
	ConversationID string    `bson:"conversation_id"`
	Seq            int       `bson:"seq"`
	TurnID         string    `bson:"turn_id"`
	From           string    `bson:"from"`
	To             string    `bson:"to"`
	Content        string    `bson:"content"`
	State          string    `bson:"state"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toDoc(conversationID string, seq int, t transcript.Turn) turnDoc {
	return turnDoc{
		ConversationID: conversationID,
		Seq:            seq,
		TurnID:         t.ID,
		From:           t.From,
		To:             t.To,
		Content:        t.Content,
		State:          string(t.State),
		CreatedAt:      t.CreatedAt,
	}
}

func (d turnDoc) turn() transcript.Turn {
	return transcript.Turn{
		ID:        d.TurnID,
		From:      d.From,
		To:        d.To,
		Content:   d.Content,
		State:     transcript.State(d.State),
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// MongoTranscriptStore stores one document per turn, ordered by seq.
// Concurrent appends to the same conversation are rejected by the
// unique (conversation_id, seq) index rather than interleaved.
type MongoTranscriptStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoTranscriptStore connects, pings and ensures the ordering index
func NewMongoTranscriptStore(ctx context.Context, config MongoStoreConfig) (*MongoTranscriptStore, error) {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	client, err := mongo.Connect(options.Client().ApplyURI(config.URI).SetTimeout(config.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	dbName := config.Database
	if dbName == "" {
		dbName = "chatflow"
	}
	collName := config.Collection
	if collName == "" {
		collName = "turns"
	}
	coll := client.Database(dbName).Collection(collName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create transcript index: %w", err)
	}
	return &MongoTranscriptStore{client: client, coll: coll}, nil
}

func byConversation(id string) bson.D {
	return bson.D{{Key: "conversation_id", Value: id}}
}

func (s *MongoTranscriptStore) Append(ctx context.Context, conversationID string, turns ...transcript.Turn) error {
	if err := ValidateConversationID(conversationID); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	n, err := s.coll.CountDocuments(ctx, byConversation(conversationID))
	if err != nil {
		return fmt.Errorf("failed to count turns: %w", err)
	}
	docs := make([]any, len(turns))
	for i, t := range turns {
		docs[i] = toDoc(conversationID, int(n)+i, t)
	}
	if _, err := s.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert turns: %w", err)
	}
	return nil
}

func (s *MongoTranscriptStore) Load(ctx context.Context, conversationID string) ([]transcript.Turn, error) {
	cur, err := s.coll.Find(ctx, byConversation(conversationID),
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	var docs []turnDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	turns := make([]transcript.Turn, len(docs))
	for i, d := range docs {
		turns[i] = d.turn()
	}
	return turns, nil
}

func (s *MongoTranscriptStore) Delete(ctx context.Context, conversationID string) error {
	res, err := s.coll.DeleteMany(ctx, byConversation(conversationID))
	if err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoTranscriptStore) List(ctx context.Context) ([]string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$conversation_id"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode transcript list: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func (s *MongoTranscriptStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoTranscriptStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
