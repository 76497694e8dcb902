package main

import (
	"strings"
	"testing"

	"bellezza/backend/internal/config"
)

func TestValidateSecurityConfigRejectsShortSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strings.Repeat("s", 32)})
	if err != nil {
		t.Fatalf("expected 32-char secret to pass: %v", err)
	}
}
