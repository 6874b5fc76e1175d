package server

import (
	"testing"
)

func TestHMACAuthenticator(t *testing.T) {
	auth := NewHMACAuthenticator("test-secret")

	token := auth.Token("alice")
	if err := auth.Authenticate("alice", token); err != nil {
		t.Fatalf("Expected valid token to pass, got %v", err)
	}

	if err := auth.Authenticate("bob", token); err == nil {
		t.Fatal("Expected token bound to another user to fail")
	}
	if err := auth.Authenticate("alice", "forged"); err == nil {
		t.Fatal("Expected forged token to fail")
	}
	if err := auth.Authenticate("", token); err == nil {
		t.Fatal("Expected empty user id to fail")
	}
	if err := auth.Authenticate("alice", ""); err == nil {
		t.Fatal("Expected empty token to fail")
	}
}
