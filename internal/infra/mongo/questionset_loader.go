package mongo

import (
	"context"
	"errors"
	"fmt"

	"live-quiz-service/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// QuestionSetLoader reads question sets from a document collection keyed by set id.
type QuestionSetLoader struct {
	collection *mongo.Collection
}

func NewQuestionSetLoader(client *mongo.Client, database string) *QuestionSetLoader {
	return &QuestionSetLoader{
		collection: client.Database(database).Collection("question_sets"),
	}
}

func (l *QuestionSetLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	var set domain.QuestionSet
	err := l.collection.FindOne(ctx, bson.M{"_id": setID}).Decode(&set)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}
	return set, nil
}

// SaveQuestionSet upserts a set document.
func (l *QuestionSetLoader) SaveQuestionSet(ctx context.Context, set domain.QuestionSet) error {
	_, err := l.collection.ReplaceOne(ctx, bson.M{"_id": set.ID}, set, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save question set: %w", err)
	}
	return nil
}

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}
