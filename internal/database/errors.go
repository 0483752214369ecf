package database

import "errors"

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrEmptyToken    = errors.New("token cannot be empty")
)
