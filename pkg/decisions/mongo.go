package decisions

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 5 * time.Second

// classDoc and conflictDoc are the two document shapes stored in the same
// collection, distinguished by the "kind" field, mirroring how a small
// decision set does not warrant two separate Mongo collections.
type classDoc struct {
	Kind        string `bson:"kind"`
	Class       string `bson:"class"`
	ProcessorID string `bson:"processor_id"`
}

type conflictDoc struct {
	Kind     string `bson:"kind"`
	Output   string `bson:"output"`
	Language string `bson:"language"`
	Variety  string `bson:"variety"`
	Rule     string `bson:"rule"`
}

// MongoStore persists decisions to a shared MongoDB collection so a team can
// share arbitration choices across machines. It is built with NewMongoStore;
// no config key selects it, and the CLI always uses the file-backed store.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore wraps an already-connected collection handle. Connection
// lifecycle (dialing, credentials, TLS) is the caller's responsibility, per
// the same "config/registry treated as frozen values, connections passed
// in" convention used elsewhere in this engine.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// ClassBinding implements pkg/resolve.DecisionStore.
func (s *MongoStore) ClassBinding(class string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var doc classDoc
	err := s.collection.FindOne(ctx, bson.M{"kind": "class", "class": class}).Decode(&doc)
	if err != nil {
		return "", false
	}
	return doc.ProcessorID, true
}

// RecordClassBinding implements pkg/resolve.DecisionStore.
func (s *MongoStore) RecordClassBinding(class, processorID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	filter := bson.M{"kind": "class", "class": class}
	update := bson.M{"$set": bson.M{"kind": "class", "class": class, "processor_id": processorID}}
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("decisions: record class binding: %w", err)
	}
	return nil
}

// ConflictWinner implements pkg/rules.DecisionStore.
func (s *MongoStore) ConflictWinner(output, language, variety string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var doc conflictDoc
	filter := bson.M{"kind": "conflict", "output": output, "language": language, "variety": variety}
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		return "", false
	}
	return doc.Rule, true
}

// RecordConflictWinner implements pkg/rules.DecisionStore.
func (s *MongoStore) RecordConflictWinner(output, language, variety, ruleID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	filter := bson.M{"kind": "conflict", "output": output, "language": language, "variety": variety}
	update := bson.M{"$set": bson.M{
		"kind": "conflict", "output": output, "language": language, "variety": variety, "rule": ruleID,
	}}
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("decisions: record conflict winner: %w", err)
	}
	return nil
}
