package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// ParticipantID extracts the numeric user identity from a session credential
// without verifying the signature. It is the client-side counterpart of
// ValidateToken: a participant needs its own id (for echo suppression and
// signaling addressing) but never holds the signing secret. Resolve it once at
// session construction and inject it; do not re-derive per component.
func ParticipantID(credential string) (int64, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(credential, &claims); err != nil {
		return 0, fmt.Errorf("failed to decode credential: %w", err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("credential subject is not a user id: %w", err)
	}

	return id, nil
}

// ParticipantName extracts the username claim the same way.
func ParticipantName(credential string) (string, error) {
	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(credential, &claims); err != nil {
		return "", fmt.Errorf("failed to decode credential: %w", err)
	}
	return claims.Username, nil
}
