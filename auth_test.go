package dremio

import (
	"errors"
	"testing"
)

func TestCredentialFrom(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		token    string
		want     Credential
	}{
		{"password", "dremio", "dremio123", "", UsernamePassword{Username: "dremio", Secret: "dremio123"}},
		{"password wins over token", "dremio", "dremio123", "pat", UsernamePassword{Username: "dremio", Secret: "dremio123"}},
		{"token as password", "dremio", "", "pat", UsernamePassword{Username: "dremio", Secret: "pat"}},
		{"token only", "", "", "pat", Token{Value: "pat"}},
		{"username only", "dremio", "", "", nil},
		{"nothing", "", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CredentialFrom(tt.username, tt.password, tt.token); got != tt.want {
				t.Errorf("Expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestSelectAuthStrategy(t *testing.T) {
	t.Run("handshake", func(t *testing.T) {
		s, err := SelectAuthStrategy(UsernamePassword{Username: "u", Secret: "p"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !s.NeedsHandshake() || s.Kind != AuthHandshake || s.Username != "u" || s.Secret != "p" {
			t.Errorf("Unexpected strategy %+v", s)
		}
	})

	t.Run("token", func(t *testing.T) {
		s, err := SelectAuthStrategy(&Token{Value: "abc"})
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if s.NeedsHandshake() {
			t.Error("Token strategy must not need a handshake")
		}
		if h := s.BearerHeader(); h.Key != "authorization" || h.Value != "Bearer abc" {
			t.Errorf("Unexpected bearer header %v", h)
		}
	})

	for name, cred := range map[string]Credential{
		"nil":                 nil,
		"nil pointer":         (*UsernamePassword)(nil),
		"empty username":      UsernamePassword{Secret: "p"},
		"empty secret":        UsernamePassword{Username: "dremio"},
		"empty secret by ref": &UsernamePassword{Username: "dremio"},
		"empty token":         Token{},
		"empty token by ref":  &Token{},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := SelectAuthStrategy(cred); !errors.Is(err, ErrConfig) {
				t.Errorf("Expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestSelectAuthStrategyEmptySecret(t *testing.T) {
	_, err := SelectAuthStrategy(UsernamePassword{Username: "dremio"})
	var derr *Error
	if !errors.As(err, &derr) || derr.Field != "secret" {
		t.Errorf("Expected error naming the secret, got %v", err)
	}
}

func TestAuthStrategyKindString(t *testing.T) {
	if AuthHandshake.String() != "handshake" || AuthToken.String() != "token" {
		t.Errorf("Unexpected names %s, %s", AuthHandshake, AuthToken)
	}
	if AuthStrategyKind(0).String() != "unknown" {
		t.Errorf("Expected unknown for zero kind, got %s", AuthStrategyKind(0))
	}
}
