package auth

import "testing"

func TestHasFailsClosed(t *testing.T) {
	pm := NewPermissionManager()
	if pm.Has("ghost", "environment.modify") {
		t.Fatal("unknown caller must have no permissions")
	}
}

func TestGrantRevoke(t *testing.T) {
	pm := NewPermissionManager()
	pm.Grant("caller-1", "assets.import")
	if !pm.Has("caller-1", "assets.import") {
		t.Fatal("granted permission not visible")
	}
	if pm.Has("caller-1", "environment.modify") {
		t.Fatal("ungranted permission must not be visible")
	}
	pm.Revoke("caller-1", "assets.import")
	if pm.Has("caller-1", "assets.import") {
		t.Fatal("revoked permission still visible")
	}
	// Revoking again must not panic or resurrect anything.
	pm.Revoke("caller-1", "assets.import")
	pm.Revoke("nobody", "assets.import")
}

func TestPermissionsSorted(t *testing.T) {
	pm := NewPermissionManager()
	pm.Grant("c", "zeta")
	pm.Grant("c", "alpha")
	got := pm.Permissions("c")
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Fatalf("permissions = %v", got)
	}
	if pm.Permissions("other") != nil {
		t.Fatal("unknown caller must report nil")
	}
}

func TestForget(t *testing.T) {
	pm := NewPermissionManager()
	pm.Grant("c", "p")
	pm.Forget("c")
	if pm.Has("c", "p") {
		t.Fatal("forgotten caller still has grants")
	}
}

func TestVerifyAPIKey(t *testing.T) {
	if !VerifyAPIKey("k", "k") {
		t.Fatal("matching keys rejected")
	}
	if VerifyAPIKey("wrong", "k") {
		t.Fatal("mismatched keys accepted")
	}
	if VerifyAPIKey("", "k") {
		t.Fatal("empty presented key accepted")
	}
}
