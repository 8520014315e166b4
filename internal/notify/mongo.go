package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"traitfusion-api/internal/model"
)

// MongoFeed stores notifications in a MongoDB collection for indexers.
type MongoFeed struct {
	client     *mongo.Client
	collection *mongo.Collection
}

type eventDocument struct {
	Type       string            `bson:"type"`
	Collection string            `bson:"collection"`
	ItemID     int64             `bson:"item_id"`
	Actor      string            `bson:"actor,omitempty"`
	Name       string            `bson:"name,omitempty"`
	Value      []byte            `bson:"value,omitempty"`
	Fields     map[string]string `bson:"fields,omitempty"`
	At         time.Time         `bson:"at"`
}

func toDocument(e model.Event) eventDocument {
	return eventDocument{
		Type:       string(e.Type),
		Collection: e.Collection,
		ItemID:     int64(e.ItemID),
		Actor:      e.Actor,
		Name:       string(e.Name),
		Value:      e.Value,
		Fields:     e.Fields,
		At:         e.At,
	}
}

func (d eventDocument) event() model.Event {
	return model.Event{
		Type:       model.EventType(d.Type),
		Collection: d.Collection,
		ItemID:     uint64(d.ItemID),
		Actor:      d.Actor,
		Name:       model.AttributeName(d.Name),
		Value:      d.Value,
		Fields:     d.Fields,
		At:         d.At.UTC(),
	}
}

// NewMongoFeed connects to MongoDB and ensures the query index exists.
func NewMongoFeed(uri, dbName, collectionName string) (*MongoFeed, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "item_id", Value: 1}, {Key: "at", Value: -1}},
	})
	if err != nil {
		log.Printf("[MongoFeed] Failed to create index: %v", err)
	}

	log.Printf("[MongoFeed] Initialized: %s.%s", dbName, collectionName)
	return &MongoFeed{client: client, collection: collection}, nil
}

// Publish inserts events in one batch.
func (f *MongoFeed) Publish(ctx context.Context, events ...model.Event) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(events))
	for _, e := range events {
		docs = append(docs, toDocument(e))
	}
	if _, err := f.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// Recent returns matching events, newest first, and the total match count.
func (f *MongoFeed) Recent(ctx context.Context, q EventQuery) ([]model.Event, int64, error) {
	filter := bson.M{}
	if q.Collection != "" {
		filter["collection"] = q.Collection
	}
	if q.ItemID != 0 {
		filter["item_id"] = int64(q.ItemID)
	}

	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "at", Value: -1}})
	if q.Limit > 0 {
		findOptions.SetLimit(int64(q.Limit))
	}
	findOptions.SetSkip(int64(q.Offset))

	cursor, err := f.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []eventDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode events: %w", err)
	}

	events := make([]model.Event, 0, len(docs))
	for _, d := range docs {
		events = append(events, d.event())
	}

	count, err := f.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}
	return events, count, nil
}

// Close closes the MongoDB connection.
func (f *MongoFeed) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.client.Disconnect(ctx)
}

var _ Feed = (*MongoFeed)(nil)
