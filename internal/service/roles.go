package service

import (
	"fmt"
	"sort"
	"sync"
)

// Role is a capability tag required by privileged operations.
type Role string

const (
	RoleEngine Role = "engine"
	RoleOracle Role = "oracle"
	RoleBridge Role = "bridge"
)

// Roles holds capability grants per identity.
type Roles struct {
	mu     sync.RWMutex
	grants map[Role]map[string]bool
}

// NewRoles creates an empty grant table.
func NewRoles() *Roles {
	return &Roles{grants: make(map[Role]map[string]bool)}
}

// Grant gives role to every identity.
func (r *Roles) Grant(role Role, identities ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.grants[role] == nil {
		r.grants[role] = make(map[string]bool)
	}
	for _, id := range identities {
		if id != "" {
			r.grants[role][id] = true
		}
	}
}

// Revoke removes role from identity.
func (r *Roles) Revoke(role Role, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[role], identity)
}

// Has reports whether identity holds role.
func (r *Roles) Has(role Role, identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[role][identity]
}

// Require returns ErrUnauthorized unless identity holds role.
func (r *Roles) Require(role Role, identity string) error {
	if !r.Has(role, identity) {
		return fmt.Errorf("%w: %q lacks role %s", ErrUnauthorized, identity, role)
	}
	return nil
}

// List returns the sorted identities per role.
func (r *Roles) List() map[Role][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[Role][]string, len(r.grants))
	for role, ids := range r.grants {
		list := make([]string, 0, len(ids))
		for id := range ids {
			list = append(list, id)
		}
		sort.Strings(list)
		out[role] = list
	}
	return out
}
