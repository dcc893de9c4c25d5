package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/capitalize-ai/lead-fleet/internal/auth"
)

func TestStaticRoles(t *testing.T) {
	roles := auth.NewStaticRoles([]string{"Boss@x.com"}, []string{"ops@x.com"})

	tests := []struct {
		email string
		want  auth.Role
	}{
		{"boss@x.com", auth.RoleAdmin},
		{" OPS@x.com ", auth.RoleOperator},
		{"stranger@x.com", auth.RoleNone},
		{"", auth.RoleNone},
	}
	for _, tt := range tests {
		got, err := roles.ResolveRole(context.Background(), tt.email)
		if err != nil {
			t.Fatalf("ResolveRole() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("ResolveRole(%q) = %s, want %s", tt.email, got, tt.want)
		}
	}
}

func TestRoleAllows(t *testing.T) {
	if !auth.RoleAdmin.Allows(auth.RoleOperator) {
		t.Error("admin should satisfy operator")
	}
	if auth.RoleOperator.Allows(auth.RoleAdmin) {
		t.Error("operator should not satisfy admin")
	}
	if auth.RoleNone.Allows(auth.RoleNone) {
		t.Error("none should never be allowed")
	}
}

func TestIssueVerify(t *testing.T) {
	iss := auth.NewIssuer("secret", time.Hour)

	token, err := iss.Issue("Ana@X.com")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	email, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if email != "ana@x.com" {
		t.Errorf("Verify() = %q, want ana@x.com", email)
	}

	if _, err := auth.NewIssuer("other", time.Hour).Verify(token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Verify() wrong secret error = %v", err)
	}

	expired, _ := auth.NewIssuer("secret", -time.Minute).Issue("ana@x.com")
	if _, err := iss.Verify(expired); !errors.Is(err, auth.ErrInvalidToken) {
		t.Errorf("Verify() expired error = %v", err)
	}
}
