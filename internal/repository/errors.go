package repository

import "errors"

var (
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid input")
)
