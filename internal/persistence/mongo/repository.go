// Package mongo stores activities as documents keyed by activity name.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"example.com/roster/internal/domain"
)

const collectionName = "activities"

type activityDocument struct {
	ID              string    `bson:"_id"`
	Name            string    `bson:"name"`
	Description     string    `bson:"description"`
	Schedule        string    `bson:"schedule"`
	MaxParticipants int       `bson:"max_participants"`
	Participants    []string  `bson:"participants"`
	UpdatedAt       time.Time `bson:"updated_at,omitempty"`
}

// Repository implements domain.Repository against a MongoDB collection.
type Repository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Open connects to uri and verifies the deployment is reachable.
func Open(ctx context.Context, uri, database string) (*Repository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Repository{
		client:     client,
		collection: client.Database(database).Collection(collectionName),
	}, nil
}

// Close disconnects the client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// LoadAll implements domain.Repository.
func (r *Repository) LoadAll(ctx context.Context) (map[string]domain.Activity, error) {
	cursor, err := r.collection.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find activities: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []activityDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}

	out := make(map[string]domain.Activity, len(docs))
	for _, doc := range docs {
		out[doc.ID] = fromDocument(doc)
	}
	return out, nil
}

// Save replaces the activity document, inserting it when missing.
func (r *Repository) Save(ctx context.Context, activity domain.Activity, change domain.RosterChange) error {
	doc := toDocument(activity)
	doc.UpdatedAt = change.OccurredAt

	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace activity: %w", err)
	}
	return nil
}

// ClearAndSeed deletes every document and inserts the given catalog.
func (r *Repository) ClearAndSeed(ctx context.Context, activities []domain.Activity) error {
	if err := domain.ValidateCatalog(activities); err != nil {
		return err
	}
	if _, err := r.collection.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("clear activities: %w", err)
	}
	if len(activities) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(activities))
	for _, a := range activities {
		docs = append(docs, toDocument(a))
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert activities: %w", err)
	}
	return nil
}

func toDocument(a domain.Activity) activityDocument {
	participants := a.Participants
	if participants == nil {
		participants = []string{}
	}
	return activityDocument{
		ID:              a.Name,
		Name:            a.Name,
		Description:     a.Description,
		Schedule:        a.Schedule,
		MaxParticipants: a.Capacity,
		Participants:    participants,
	}
}

// Documents written by older tooling may lack the name field; _id is authoritative.
func fromDocument(doc activityDocument) domain.Activity {
	participants := doc.Participants
	if participants == nil {
		participants = []string{}
	}
	return domain.Activity{
		Name:         doc.ID,
		Description:  doc.Description,
		Schedule:     doc.Schedule,
		Capacity:     doc.MaxParticipants,
		Participants: participants,
	}
}
