package repository

import (
	"context"
	"fmt"
	"time"

	"eats-partner-core/internal/domain"
	"eats-partner-core/internal/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoEventRepository implements EventRepository on MongoDB. A unique index
// on event_id backs idempotent ingestion; claim_expires_at backs stale-claim
// recovery after a worker crash.
type MongoEventRepository struct {
	collection *mongo.Collection
}

// NewMongoEventRepository creates the repository and ensures its indexes.
func NewMongoEventRepository(ctx context.Context, db *mongo.Database) (*MongoEventRepository, error) {
	coll := db.Collection("webhook_events")

	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_attempt_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event indexes: %w", err)
	}

	return &MongoEventRepository{collection: coll}, nil
}

func (r *MongoEventRepository) Insert(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.collection.InsertOne(ctx, event)
	if mongo.IsDuplicateKeyError(err) {
		return ports.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *MongoEventRepository) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var evt domain.WebhookEvent
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&evt)
	if err == mongo.ErrNoDocuments {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &evt, nil
}

func (r *MongoEventRepository) List(ctx context.Context, filter ports.EventListFilter) ([]*domain.WebhookEvent, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Type != "" {
		query["event_type"] = filter.Type
	}

	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*domain.WebhookEvent
	for cursor.Next(ctx) {
		var evt domain.WebhookEvent
		if err := cursor.Decode(&evt); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, &evt)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return events, nil
}

func (r *MongoEventRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*domain.WebhookEvent, error) {
	filter := bson.M{
		"$or": []bson.M{
			{"status": domain.EventPending},
			{"status": domain.EventRetrying, "next_attempt_at": bson.M{"$lte": now}},
			{"status": domain.EventProcessing, "claimed_at": bson.M{"$lt": staleBefore}},
		},
	}
	update := bson.M{"$set": bson.M{
		"status":     domain.EventProcessing,
		"claimed_at": now,
		"updated_at": now,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}, {Key: "received_at", Value: 1}}).
		SetReturnDocument(options.After)

	// One document at a time keeps the claim atomic without transactions.
	var claimed []*domain.WebhookEvent
	for limit <= 0 || len(claimed) < limit {
		var evt domain.WebhookEvent
		err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&evt)
		if err == mongo.ErrNoDocuments {
			break
		}
		if err != nil {
			return claimed, fmt.Errorf("failed to claim due event: %w", err)
		}
		claimed = append(claimed, &evt)
	}
	return claimed, nil
}

func (r *MongoEventRepository) MarkProcessed(ctx context.Context, id string, attempts int, at time.Time) error {
	return r.setStatus(ctx, id, bson.M{
		"status":       domain.EventProcessed,
		"attempts":     attempts,
		"last_error":   "",
		"processed_at": at,
		"updated_at":   at,
	}, bson.M{"next_attempt_at": "", "claimed_at": ""})
}

func (r *MongoEventRepository) MarkRetrying(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error {
	return r.setStatus(ctx, id, bson.M{
		"status":          domain.EventRetrying,
		"attempts":        attempts,
		"last_error":      lastError,
		"next_attempt_at": nextAttempt,
		"updated_at":      time.Now(),
	}, bson.M{"claimed_at": ""})
}

func (r *MongoEventRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return r.setStatus(ctx, id, bson.M{
		"status":     domain.EventFailed,
		"attempts":   attempts,
		"last_error": lastError,
		"updated_at": time.Now(),
	}, bson.M{"next_attempt_at": "", "claimed_at": ""})
}

func (r *MongoEventRepository) Requeue(ctx context.Context, id string, resetAttempts bool) error {
	set := bson.M{
		"status":     domain.EventPending,
		"last_error": "",
		"updated_at": time.Now(),
	}
	if resetAttempts {
		set["attempts"] = 0
	}
	return r.setStatus(ctx, id, set, bson.M{"next_attempt_at": "", "claimed_at": ""})
}

func (r *MongoEventRepository) setStatus(ctx context.Context, id string, set, unset bson.M) error {
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if res.MatchedCount == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// MongoOrderRepository implements OrderRepository on MongoDB.
type MongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) *MongoOrderRepository {
	return &MongoOrderRepository{collection: db.Collection("orders")}
}

func (r *MongoOrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": orderID}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (r *MongoOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": order.ID}, order, opts)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func (r *MongoOrderRepository) List(ctx context.Context, status domain.OrderStatus, limit int) ([]*domain.Order, error) {
	query := bson.M{}
	if status != "" {
		query["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "placed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	for cursor.Next(ctx) {
		var order domain.Order
		if err := cursor.Decode(&order); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, &order)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return orders, nil
}

func (r *MongoOrderRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	// A scheduled order's window starts at its fire time, not at
	// notification.
	query := bson.M{
		"status": domain.OrderPending,
		"$or": []bson.M{
			{"scheduled": false, "placed_at": bson.M{"$lt": cutoff}},
			{"scheduled": true, "scheduled_for": bson.M{"$lt": cutoff}},
		},
	}
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	for cursor.Next(ctx) {
		var order domain.Order
		if err := cursor.Decode(&order); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = append(orders, &order)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return orders, nil
}

// MongoTokenRepository implements TokenRepository on MongoDB, one document
// per subject.
type MongoTokenRepository struct {
	collection *mongo.Collection
}

func NewMongoTokenRepository(db *mongo.Database) *MongoTokenRepository {
	return &MongoTokenRepository{collection: db.Collection("tokens")}
}

func (r *MongoTokenRepository) Get(ctx context.Context, subject string) (*domain.Token, error) {
	var token domain.Token
	err := r.collection.FindOne(ctx, bson.M{"_id": subject}).Decode(&token)
	if err == mongo.ErrNoDocuments {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &token, nil
}

func (r *MongoTokenRepository) Save(ctx context.Context, token *domain.Token) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": token.Subject}, token, opts)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}
