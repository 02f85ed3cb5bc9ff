// Package session tracks role assignment for live relay connections: the
// admin singleton and the visitor session map. Nothing here is persisted;
// entries live exactly as long as their connection.
package session

import (
	"strings"
	"sync"

	"github.com/astanek/livechat-relay/pkg/logger"
	"github.com/astanek/livechat-relay/pkg/prefixed_uuid"
)

// Role is the effective role of a registered connection.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleVisitor Role = "visitor"
)

// ParseRole validates a client-supplied role string.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleVisitor:
		return RoleVisitor, nil
	default:
		return "", ErrUnknownRole
	}
}

// UserInfo is the optional self-reported contact info of a visitor.
// All fields are free text and optional.
type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// IsEmpty reports whether no field carries a non-blank value.
func (u UserInfo) IsEmpty() bool {
	return strings.TrimSpace(u.Name) == "" &&
		strings.TrimSpace(u.Email) == "" &&
		strings.TrimSpace(u.Phone) == ""
}

// VisitorSession is the registry entry for a visitor connection.
type VisitorSession struct {
	VisitorID string
	ConnID    string
	UserInfo  *UserInfo
}

// Registry is the in-memory mapping of connection id to role. It holds the
// admin singleton and the visitor session map, and is safe for concurrent
// use. It is injected into the transport and the relay core rather than
// living as a package-level variable.
type Registry struct {
	mu       sync.RWMutex
	admin    string // conn id of the current admin, "" when absent
	visitors map[string]*VisitorSession

	log logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		visitors: make(map[string]*VisitorSession),
		log:      log,
	}
}

// Register assigns a role to a connection. Registering as admin displaces
// any previous admin connection without notifying it. Registering as
// visitor generates a fresh visitor id. A connection may not change its
// role: a second registration with a different role returns
// ErrRoleConflict, a repeat of the same role is a no-op.
func (r *Registry) Register(connID string, role Role) (visitorID string, err error) {
	if role != RoleAdmin && role != RoleVisitor {
		return "", ErrUnknownRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, registered := r.roleOfLocked(connID)
	if registered {
		if current != role {
			return "", ErrRoleConflict
		}
		if role == RoleVisitor {
			return r.visitors[connID].VisitorID, nil
		}
		return "", nil
	}

	switch role {
	case RoleAdmin:
		if r.admin != "" && r.admin != connID {
			r.log.Info("Admin connection displaced",
				logger.StringField("old_conn_id", r.admin),
				logger.StringField("new_conn_id", connID))
		}
		r.admin = connID
		return "", nil

	default: // RoleVisitor
		id := prefixed_uuid.New("visitor").String()
		r.visitors[connID] = &VisitorSession{VisitorID: id, ConnID: connID}
		return id, nil
	}
}

// RecordUserInfo attaches contact info to the visitor session owning
// connID. It is a silent no-op for the admin connection and for
// connections that never registered.
func (r *Registry) RecordUserInfo(connID string, info UserInfo) {
	if info.IsEmpty() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	vs, ok := r.visitors[connID]
	if !ok {
		return
	}
	copied := info
	vs.UserInfo = &copied
}

// Remove deletes the registry entry for connID. Removing the admin
// connection clears the singleton; removing an unknown connection is a
// no-op, so disconnect handling is idempotent.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.admin == connID {
		r.admin = ""
		return
	}
	delete(r.visitors, connID)
}

// RoleOf returns the effective role of a connection, if registered.
func (r *Registry) RoleOf(connID string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roleOfLocked(connID)
}

func (r *Registry) roleOfLocked(connID string) (Role, bool) {
	if r.admin == connID {
		return RoleAdmin, true
	}
	if _, ok := r.visitors[connID]; ok {
		return RoleVisitor, true
	}
	return "", false
}

// AdminConn returns the connection id currently holding the admin role.
func (r *Registry) AdminConn() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admin, r.admin != ""
}

// Visitor returns a copy of the visitor session for connID.
func (r *Registry) Visitor(connID string) (VisitorSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vs, ok := r.visitors[connID]
	if !ok {
		return VisitorSession{}, false
	}
	out := *vs
	if vs.UserInfo != nil {
		info := *vs.UserInfo
		out.UserInfo = &info
	}
	return out, true
}

// VisitorConns returns a snapshot of all visitor connection ids.
func (r *Registry) VisitorConns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.visitors))
	for id := range r.visitors {
		ids = append(ids, id)
	}
	return ids
}

// VisitorCount returns the number of live visitor sessions.
func (r *Registry) VisitorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors)
}
