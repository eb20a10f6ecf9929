// ABOUTME: Tests for operator claims propagation through context
// ABOUTME: Covers the empty context and a round trip

package auth

import (
	"context"
	"testing"
)

func TestClaimsContext(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("expected nil claims on empty context")
	}

	c := &Claims{Subject: "ops", Role: RoleAdmin}
	got := FromContext(WithClaims(context.Background(), c))
	if got != c {
		t.Errorf("FromContext() = %+v, want %+v", got, c)
	}
}
