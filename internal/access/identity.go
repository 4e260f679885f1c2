// Package access resolves the caller's identity and role. Authentication
// happens upstream; this package only reads what the gateway asserted.
package access

import (
	"errors"
	"net/http"
	"strings"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Header names set by the upstream gateway after authentication.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnknownRole     = errors.New("unknown role")
)

// Identity is a resolved, already-authenticated caller.
type Identity struct {
	UserID string
	Name   string
	Role   Role
}

// IsAdmin reports whether the caller may act on any order.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanView reports whether the caller may read an order owned by ownerID.
func (i Identity) CanView(ownerID string) bool {
	return i.IsAdmin() || (i.UserID != "" && i.UserID == ownerID)
}

// Resolver turns an inbound request into an Identity.
type Resolver interface {
	Resolve(r *http.Request) (Identity, error)
}

// HeaderResolver trusts identity headers injected by the gateway.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (Identity, error) {
	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return Identity{}, ErrUnauthenticated
	}
	role := Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
	switch role {
	case "":
		role = RoleUser
	case RoleUser, RoleAdmin:
	default:
		return Identity{}, ErrUnknownRole
	}
	return Identity{
		UserID: id,
		Name:   strings.TrimSpace(r.Header.Get(HeaderUserName)),
		Role:   role,
	}, nil
}
