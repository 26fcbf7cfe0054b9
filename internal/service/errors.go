package service

import "errors"

var (
	// ErrNotFound covers both a missing cart and a missing product line.
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict means concurrent writers kept changing the cart between
	// the lookup and the write of an add.
	ErrConflict = errors.New("cart modified concurrently")

	errRaced = errors.New("cart changed between lookup and write")
)
