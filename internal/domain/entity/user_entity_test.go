package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_DisplayName(t *testing.T) {
	cases := []struct {
		name string
		user User
		want string
	}{
		{"first name wins", User{FirstName: "Alice", Email: "a@x.com"}, "Alice"},
		{"falls back to email", User{Email: "a@x.com"}, "a@x.com"},
		{"both empty", User{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.DisplayName())
		})
	}
}
