// ABOUTME: Tests for AuthContext propagation through context.Context
// ABOUTME: Covers round trip, absence and the admin check

package auth

import (
	"context"
	"testing"
)

func TestWithAuthRoundTrip(t *testing.T) {
	want := &AuthContext{Subject: "ops", Role: RoleAdmin}
	ctx := WithAuth(context.Background(), want)

	if got := FromContext(ctx); got != want {
		t.Errorf("FromContext() = %+v, want %+v", got, want)
	}
}

func TestFromContextMissing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %+v, want nil", got)
	}
}

func TestIsAdmin(t *testing.T) {
	var nilCtx *AuthContext
	if nilCtx.IsAdmin() {
		t.Error("nil context must not be admin")
	}
	if (&AuthContext{Role: RoleViewer}).IsAdmin() {
		t.Error("viewer must not be admin")
	}
	if !(&AuthContext{Role: RoleAdmin}).IsAdmin() {
		t.Error("admin role must be admin")
	}
}
