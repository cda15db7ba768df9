package core

import "github.com/avelov/meetspace/internal/domain"

// SessionID identifies one connected participant for the lifetime of its
// signaling connection.
type SessionID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
