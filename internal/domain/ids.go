package domain

// UserID is the stable identifier of a rider. Tokens carry it as their subject.
type UserID string

// RideID is an internal identifier for a ride session record.
type RideID string

// ConnectionID identifies one live transport connection. It is assigned by the server on
// connect and never reused.
type ConnectionID string

// MessageID is an internal identifier for a chat message.
type MessageID string
