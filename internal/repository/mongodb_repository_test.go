package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/email-cart/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx, 0))

	cleanup := func() {
		_ = db.Client().Disconnect(ctx)
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func seedCart(t *testing.T, repo *MongoRepository, email string, lines ...domain.CartLine) {
	t.Helper()
	err := repo.InsertCart(context.Background(), &domain.Cart{Email: email, Products: lines})
	require.NoError(t, err)
}

func TestGetCart_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	cart, err := repo.GetCart(context.Background(), "nobody@example.com")

	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.Nil(t, cart)
}

func TestInsertCart_AssignsIDAndTimestamps(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	cart := &domain.Cart{
		Email:    "e1@example.com",
		Products: []domain.CartLine{{ProductID: "A", Quantity: 2}},
	}
	require.NoError(t, repo.InsertCart(ctx, cart))
	assert.False(t, cart.ID.IsZero())

	stored, err := repo.GetCart(ctx, "e1@example.com")
	require.NoError(t, err)
	assert.Equal(t, cart.ID, stored.ID)
	assert.Equal(t, []domain.CartLine{{ProductID: "A", Quantity: 2}}, stored.Products)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.False(t, stored.UpdatedAt.IsZero())
}

func TestInsertCart_DuplicateEmail(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	seedCart(t, repo, "e1@example.com", domain.CartLine{ProductID: "A", Quantity: 1})

	err := repo.InsertCart(context.Background(), &domain.Cart{
		Email:    "e1@example.com",
		Products: []domain.CartLine{{ProductID: "B", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ErrCartExists)
}

func TestAppendLines_ExistingCart(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCart(t, repo, "e1@example.com", domain.CartLine{ProductID: "A", Quantity: 2})

	matched, err := repo.AppendLines(ctx, "e1@example.com", []domain.CartLine{
		{ProductID: "B", Quantity: 1},
		{ProductID: "C", Quantity: 4},
	})
	require.NoError(t, err)
	assert.True(t, matched)

	cart, err := repo.GetCart(ctx, "e1@example.com")
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{
		{ProductID: "A", Quantity: 2},
		{ProductID: "B", Quantity: 1},
		{ProductID: "C", Quantity: 4},
	}, cart.Products)
}

func TestAppendLines_NoCart(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	matched, err := repo.AppendLines(context.Background(), "nobody@example.com", []domain.CartLine{
		{ProductID: "A", Quantity: 1},
	})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestAppendLines_GuardRejectsPresentProduct(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCart(t, repo, "e1@example.com", domain.CartLine{ProductID: "A", Quantity: 2})

	matched, err := repo.AppendLines(ctx, "e1@example.com", []domain.CartLine{
		{ProductID: "A", Quantity: 9},
		{ProductID: "B", Quantity: 1},
	})
	require.NoError(t, err)
	assert.False(t, matched)

	cart, err := repo.GetCart(ctx, "e1@example.com")
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{{ProductID: "A", Quantity: 2}}, cart.Products)
}

func TestUpdateQuantity(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCart(t, repo, "e1@example.com",
		domain.CartLine{ProductID: "A", Quantity: 2},
		domain.CartLine{ProductID: "B", Quantity: 1},
	)

	require.NoError(t, repo.UpdateQuantity(ctx, "e1@example.com", "A", 9))

	cart, err := repo.GetCart(ctx, "e1@example.com")
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{
		{ProductID: "A", Quantity: 9},
		{ProductID: "B", Quantity: 1},
	}, cart.Products)
}

func TestUpdateQuantity_ZeroIsStored(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCart(t, repo, "e1@example.com", domain.CartLine{ProductID: "A", Quantity: 2})

	require.NoError(t, repo.UpdateQuantity(ctx, "e1@example.com", "A", 0))

	cart, err := repo.GetCart(ctx, "e1@example.com")
	require.NoError(t, err)
	require.Len(t, cart.Products, 1)
	assert.Equal(t, uint32(0), cart.Products[0].Quantity)
}

func TestUpdateQuantity_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCart(t, repo, "e1@example.com", domain.CartLine{ProductID: "A", Quantity: 2})

	err := repo.UpdateQuantity(ctx, "e1@example.com", "missing", 3)
	assert.ErrorIs(t, err, ErrItemNotFound)

	err = repo.UpdateQuantity(ctx, "nobody@example.com", "A", 3)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRemoveProduct_PullsEveryMatch(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	// Carts written before the batch dedupe existed may hold repeated lines.
	seedCart(t, repo, "e1@example.com",
		domain.CartLine{ProductID: "A", Quantity: 2},
		domain.CartLine{ProductID: "B", Quantity: 1},
		domain.CartLine{ProductID: "A", Quantity: 3},
	)

	require.NoError(t, repo.RemoveProduct(ctx, "e1@example.com", "A"))

	cart, err := repo.GetCart(ctx, "e1@example.com")
	require.NoError(t, err)
	assert.Equal(t, []domain.CartLine{{ProductID: "B", Quantity: 1}}, cart.Products)
}

func TestRemoveProduct_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	seedCart(t, repo, "e1@example.com", domain.CartLine{ProductID: "A", Quantity: 2})

	assert.ErrorIs(t, repo.RemoveProduct(ctx, "e1@example.com", "missing"), ErrItemNotFound)
	assert.ErrorIs(t, repo.RemoveProduct(ctx, "nobody@example.com", "A"), ErrItemNotFound)
}

func TestPing(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	assert.NoError(t, repo.Ping(context.Background()))
}

func TestCreateIndexes_WithRetention(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	assert.NoError(t, repo.CreateIndexes(context.Background(), 90*24*time.Hour))
}

func TestContextCancellation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond)

	_, err := repo.GetCart(ctx, "e1@example.com")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}
