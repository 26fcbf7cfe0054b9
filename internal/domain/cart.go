package domain

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Cart is the per-user document. Email is the natural key.
type Cart struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	Email     string             `json:"email" bson:"email"`
	Products  []CartLine         `json:"products" bson:"products"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" bson:"updated_at"`
}

type CartLine struct {
	ProductID string `json:"product_id" bson:"product_id"`
	Quantity  uint32 `json:"quantity" bson:"quantity"`
}

// NormalizeEmail trims and lowercases an email so it can be used as a cart key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DedupeLines keeps the first line for every product_id, preserving order.
func DedupeLines(lines []CartLine) []CartLine {
	seen := make(map[string]struct{}, len(lines))
	out := make([]CartLine, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		out = append(out, line)
	}
	return out
}

// NewLines returns the deduplicated incoming lines whose product_id is not
// already present in existing.
func NewLines(existing, incoming []CartLine) []CartLine {
	present := make(map[string]struct{}, len(existing))
	for _, line := range existing {
		present[line.ProductID] = struct{}{}
	}

	var out []CartLine
	for _, line := range DedupeLines(incoming) {
		if _, ok := present[line.ProductID]; ok {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ProductIDs lists the product ids of lines in order.
func ProductIDs(lines []CartLine) []string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	return ids
}
