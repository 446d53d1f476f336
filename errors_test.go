package dremio

import (
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorMessage(t *testing.T) {
	cause := errors.New("no such file")
	err := &Error{Kind: ErrConfig, Op: "build tls", Field: "tls.cert_path", Detail: "certificate source unreadable: /x", Err: cause}

	want := "config error: build tls [tls.cert_path]: certificate source unreadable: /x: no such file"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrConfig) || !errors.Is(err, cause) {
		t.Error("Expected both kind and cause to match")
	}
	if errors.Is(err, ErrStream) {
		t.Error("Unexpected match on another kind")
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name     string
		code     codes.Code
		fallback error
		want     error
	}{
		{"unavailable during fetch", codes.Unavailable, ErrStream, ErrConnection},
		{"unavailable during handshake", codes.Unavailable, ErrConnection, ErrConnection},
		{"rejected credentials", codes.Unauthenticated, ErrConnection, ErrAuthentication},
		{"permission denied", codes.PermissionDenied, ErrConnection, ErrAuthentication},
		{"expired token during fetch", codes.Unauthenticated, ErrStream, ErrStream},
		{"not found", codes.NotFound, ErrStream, ErrStream},
		{"internal", codes.Internal, ErrStream, ErrStream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := status.Error(tt.code, "x")
			err := transportError("op", tt.fallback, cause)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, cause) {
				t.Errorf("Expected cause with code %v, got %v", tt.code, err)
			}
		})
	}
}
