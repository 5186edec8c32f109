package application

import (
	"time"

	"github.com/oksasatya/user-accounts-api/internal/domain/entity"
)

// Projection is the public view of a user. It never carries credential material.
type Projection struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	IsAdmin  bool   `json:"isAdmin"`
}

// TokenProjection is a Projection plus a freshly issued access token.
type TokenProjection struct {
	Projection
	Token string `json:"token"`
}

// AuthResponse is the login/register body: the raw token pair with the
// projection fields overlaid.
type AuthResponse struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
	TokenProjection
}

// AccessIssuer mints access tokens for a user id.
type AccessIssuer interface {
	GenerateAccessToken(userID int64) (string, time.Time, error)
}

func Project(u *entity.User) Projection {
	return Projection{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Name:     u.DisplayName(),
		IsAdmin:  u.IsAdmin,
	}
}

func ProjectAll(users []*entity.User) []Projection {
	out := make([]Projection, 0, len(users))
	for _, u := range users {
		out = append(out, Project(u))
	}
	return out
}

// ProjectWithToken calls the issuer exactly once; every call yields a new token.
func ProjectWithToken(u *entity.User, issuer AccessIssuer) (TokenProjection, error) {
	token, _, err := issuer.GenerateAccessToken(u.ID)
	if err != nil {
		return TokenProjection{}, err
	}
	return TokenProjection{Projection: Project(u), Token: token}, nil
}
