package auth

import (
	"errors"
	"testing"
)

func TestAuthenticate(t *testing.T) {
	const secret = "default-project-key-12345"

	tests := []struct {
		name      string
		presented string
		wantErr   error
	}{
		{name: "matching key", presented: secret, wantErr: nil},
		{name: "missing key", presented: "", wantErr: ErrKeyRequired},
		{name: "wrong key", presented: "nope", wantErr: ErrInvalidKey},
		{name: "prefix of key", presented: secret[:10], wantErr: ErrInvalidKey},
		{name: "key with suffix", presented: secret + "x", wantErr: ErrInvalidKey},
		{name: "case differs", presented: "DEFAULT-project-key-12345", wantErr: ErrInvalidKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authenticate(tt.presented, secret)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authenticate(%q) = %v, want %v", tt.presented, err, tt.wantErr)
			}
		})
	}
}

func TestReason(t *testing.T) {
	if got := Reason(ErrKeyRequired); got != "Key is required" {
		t.Errorf("Reason(ErrKeyRequired) = %q", got)
	}
	if got := Reason(ErrInvalidKey); got != "Invalid key" {
		t.Errorf("Reason(ErrInvalidKey) = %q", got)
	}
	if got := Reason(errors.New("other")); got != "Authentication failed" {
		t.Errorf("Reason(other) = %q", got)
	}
}

func TestKeyPrefix(t *testing.T) {
	tests := []struct {
		key  string
		n    int
		want string
	}{
		{key: "default-project-key", n: 5, want: "defau..."},
		{key: "abc", n: 5, want: "abc..."},
		{key: "", n: 5, want: "..."},
		{key: "abcdef", n: -1, want: "..."},
	}

	for _, tt := range tests {
		if got := KeyPrefix(tt.key, tt.n); got != tt.want {
			t.Errorf("KeyPrefix(%q, %d) = %q, want %q", tt.key, tt.n, got, tt.want)
		}
	}
}
