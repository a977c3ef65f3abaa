package store

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrDeckNotFound = errors.New("deck not found")
	ErrDeckExists   = errors.New("deck already exists")
)
