package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/email-cart/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const collectionName = "carts"

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("cart or product not found")
	ErrCartExists   = errors.New("cart already exists")
)

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection(collectionName),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, email string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"email": email}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

func (m *MongoRepository) AppendLines(ctx context.Context, email string, lines []domain.CartLine) (bool, error) {
	filter := bson.M{
		"email":               email,
		"products.product_id": bson.M{"$nin": domain.ProductIDs(lines)},
	}
	update := bson.M{
		"$push": bson.M{"products": bson.M{"$each": lines}},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to append products: %w", err)
	}

	return result.MatchedCount > 0, nil
}

func (m *MongoRepository) InsertCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	if cart.Products == nil {
		cart.Products = []domain.CartLine{}
	}

	result, err := m.collection.InsertOne(ctx, cart)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrCartExists
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}

	if id, ok := result.InsertedID.(primitive.ObjectID); ok {
		cart.ID = id
	}
	return nil
}

func (m *MongoRepository) UpdateQuantity(ctx context.Context, email, productID string, quantity uint32) error {
	filter := bson.M{
		"email":               email,
		"products.product_id": productID,
	}

	update := bson.M{
		"$set": bson.M{
			"products.$[elem].quantity": quantity,
			"updated_at":                time.Now().UTC(),
		},
	}

	arrayFilters := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"elem.product_id": productID},
		},
	})

	result, err := m.collection.UpdateOne(ctx, filter, update, arrayFilters)
	if err != nil {
		return fmt.Errorf("failed to update product quantity: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

// RemoveProduct pulls every line with productID out of the cart.
func (m *MongoRepository) RemoveProduct(ctx context.Context, email, productID string) error {
	filter := bson.M{
		"email":               email,
		"products.product_id": productID,
	}
	update := bson.M{
		"$pull": bson.M{
			"products": bson.M{"product_id": productID},
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove product: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, readpref.Primary())
}

// CreateIndexes enforces one cart per email. A positive retention also
// expires carts that have not been touched for that long.
func (m *MongoRepository) CreateIndexes(ctx context.Context, retention time.Duration) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(retention.Seconds())),
		})
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
