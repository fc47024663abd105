package service

import "errors"

var (
	ErrOrderNoRequired = errors.New("order number is required")
	ErrNotFound        = errors.New("record not found")
	ErrAlreadyPaid     = errors.New("payment already settled")
)
