package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Farm3r#Kano")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "Farm3r#Kano" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("Farm3r#Kano", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("farm3r#kano", hash) {
		t.Fatalf("expected password check to fail for wrong case")
	}
	if CheckPassword("anything", "") {
		t.Fatalf("empty stored hash must never match")
	}
}

func TestHashPasswordRejectsOverlongInput(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
}

func TestValidatePassword(t *testing.T) {
	cases := []struct {
		name     string
		password string
		want     error
	}{
		{"valid", "Str0ng#Harvest", nil},
		{"short", "Sh0rt#A", ErrPasswordTooShort},
		{"no upper", "alllowercase123!", ErrPasswordWeak},
		{"no lower", "ALLUPPERCASE123!", ErrPasswordWeak},
		{"no digit", "NoDigitsHere!!!", ErrPasswordWeak},
		{"no special", "NoSpecials1234", ErrPasswordWeak},
		{"too long", "Aa1!" + strings.Repeat("x", 80), ErrPasswordTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePassword(tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ValidatePassword(%q) = %v, want %v", tc.password, err, tc.want)
			}
		})
	}
}
