package store

import "errors"

var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrOperatorNotFound = errors.New("operator not found")
)
