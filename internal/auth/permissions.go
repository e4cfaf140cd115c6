package auth

import (
	"crypto/subtle"
	"sort"
	"sync"
)

// PermissionManager tracks capability sets per caller identity. Lookups are
// fail-closed: an unknown caller has no permissions.
type PermissionManager struct {
	mu     sync.RWMutex
	grants map[string]map[string]struct{}
}

func NewPermissionManager() *PermissionManager {
	return &PermissionManager{grants: make(map[string]map[string]struct{})}
}

// Grant adds a permission to the caller's set.
func (pm *PermissionManager) Grant(callerID, permission string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	set, ok := pm.grants[callerID]
	if !ok {
		set = make(map[string]struct{})
		pm.grants[callerID] = set
	}
	set[permission] = struct{}{}
}

// Revoke removes a permission from the caller's set. Revoking an absent
// grant is a no-op.
func (pm *PermissionManager) Revoke(callerID, permission string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	set, ok := pm.grants[callerID]
	if !ok {
		return
	}
	delete(set, permission)
	if len(set) == 0 {
		delete(pm.grants, callerID)
	}
}

// Has reports whether the caller holds the permission.
func (pm *PermissionManager) Has(callerID, permission string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	set, ok := pm.grants[callerID]
	if !ok {
		return false
	}
	_, ok = set[permission]
	return ok
}

// Permissions returns the caller's grants in sorted order, for the
// introspection surface.
func (pm *PermissionManager) Permissions(callerID string) []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	set, ok := pm.grants[callerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Forget drops every grant for the caller, used when a session detaches.
func (pm *PermissionManager) Forget(callerID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.grants, callerID)
}

// VerifyAPIKey compares a presented key against the configured one in
// constant time.
func VerifyAPIKey(presented, configured string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}
