package riderepo

import "errors"

var (
	ErrNotFound            = errors.New("ride not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrAlreadyExists       = errors.New("ride already exists")
	ErrStatusConflict      = errors.New("ride status changed concurrently")
)
