package auth

import "testing"

func TestParticipantID(t *testing.T) {
	service := NewJWTService("any-secret", 24)

	token, err := service.GenerateToken(17, "alice")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	// ParticipantID never sees the secret; it only decodes.
	id, err := ParticipantID(token)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != 17 {
		t.Errorf("Expected participant id 17, got %d", id)
	}

	name, err := ParticipantName(token)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if name != "alice" {
		t.Errorf("Expected participant name alice, got %s", name)
	}
}

func TestParticipantID_Garbage(t *testing.T) {
	if _, err := ParticipantID("not-a-token"); err == nil {
		t.Fatal("Expected error for malformed credential")
	}
}
