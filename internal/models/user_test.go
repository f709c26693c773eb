package models

import (
	"testing"
)

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{
			name: "Valid user",
			user: User{
				Email:    "test@example.com",
				Username: "testuser",
			},
			wantErr: false,
		},
		{
			name: "Empty email",
			user: User{
				Email:    "",
				Username: "testuser",
			},
			wantErr: true,
		},
		{
			name: "Invalid email",
			user: User{
				Email:    "invalid-email",
				Username: "testuser",
			},
			wantErr: true,
		},
		{
			name: "Empty username",
			user: User{
				Email:    "test@example.com",
				Username: "",
			},
			wantErr: true,
		},
		{
			name: "Username too short",
			user: User{
				Email:    "test@example.com",
				Username: "a",
			},
			wantErr: true,
		},
		{
			name: "Username too long",
			user: User{
				Email:    "test@example.com",
				Username: "this is a very long username that definitely exceeds the maximum allowed length of one hundred characters",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("User.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
