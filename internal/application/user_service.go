package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/user-accounts-api/internal/domain/entity"
	repo "github.com/oksasatya/user-accounts-api/internal/domain/repository"
	"github.com/oksasatya/user-accounts-api/pkg/helpers"
	"github.com/oksasatya/user-accounts-api/pkg/mailer"
)

// TokenIssuer signs and verifies the access/refresh pair.
type TokenIssuer interface {
	AccessIssuer
	GenerateRefreshToken(userID int64) (string, time.Time, error)
	ParseAccessToken(token string) (*helpers.Claims, error)
	ParseRefreshToken(token string) (*helpers.Claims, error)
}

// TokenRevoker remembers refresh tokens that must not be used again.
type TokenRevoker interface {
	// Revoke reports false when jti was already revoked.
	Revoke(ctx context.Context, jti string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// UserIndex is the search side of the user store.
type UserIndex interface {
	Index(ctx context.Context, p Projection) error
	Remove(ctx context.Context, id int64) error
	Search(ctx context.Context, q string, size int) ([]Projection, error)
}

// Publisher enqueues JSON jobs (welcome emails).
type Publisher interface {
	PublishJSON(ctx context.Context, body any) error
}

// Recorder receives business counters.
type Recorder interface {
	RecordRegistration()
	RecordLogin(success bool)
}

// Service implements every account operation. Revoker, Index, Mail and
// Metrics are optional; a nil value disables that side effect.
type Service struct {
	Repo    repo.UserRepository
	Tokens  TokenIssuer
	Logger  *logrus.Logger
	Revoker TokenRevoker
	Index   UserIndex
	Mail    Publisher
	Metrics Recorder
	AppName string
}

func NewService(r repo.UserRepository, tokens TokenIssuer, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = helpers.NewDiscardLogger()
	}
	return &Service{Repo: r, Tokens: tokens, Logger: logger}
}

// TokenPair is the body of a refresh response.
type TokenPair struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// UpdateInput carries only the fields an admin may change; nil means "leave as is".
type UpdateInput struct {
	Username *string
	Email    *string
	Name     *string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RequireAdmin fails with an AuthorizationError unless caller has the admin flag.
func RequireAdmin(caller *entity.User) error {
	if caller == nil {
		return NewAuthentication("authentication credentials were not provided")
	}
	if !caller.IsAdmin {
		return NewAuthorization(msgNotAdmin)
	}
	return nil
}

func (s *Service) internal(msg string, err error, fields logrus.Fields) error {
	helpers.LogError(s.Logger, msg, err, fields)
	return NewInternal(msg, err)
}

func (s *Service) issue(u *entity.User) (AuthResponse, error) {
	refresh, _, err := s.Tokens.GenerateRefreshToken(u.ID)
	if err != nil {
		return AuthResponse{}, s.internal("generate refresh token failed", err, logrus.Fields{"user_id": u.ID})
	}
	access, _, err := s.Tokens.GenerateAccessToken(u.ID)
	if err != nil {
		return AuthResponse{}, s.internal("generate access token failed", err, logrus.Fields{"user_id": u.ID})
	}
	tp, err := ProjectWithToken(u, s.Tokens)
	if err != nil {
		return AuthResponse{}, s.internal("generate access token failed", err, logrus.Fields{"user_id": u.ID})
	}
	return AuthResponse{Refresh: refresh, Access: access, TokenProjection: tp}, nil
}

// Login accepts a username, or an email address as the identifier.
func (s *Service) Login(ctx context.Context, identifier, password string) (AuthResponse, error) {
	if strings.TrimSpace(identifier) == "" || password == "" {
		return AuthResponse{}, NewValidation("username and password are required")
	}
	u, err := s.Repo.GetByUsername(ctx, identifier)
	if errors.Is(err, repo.ErrNotFound) {
		u, err = s.Repo.GetByEmail(ctx, normalizeEmail(identifier))
	}
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.recordLogin(false)
			return AuthResponse{}, NewAuthentication(msgInvalidCredentials)
		}
		return AuthResponse{}, s.internal("load user failed", err, nil)
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		s.recordLogin(false)
		return AuthResponse{}, NewAuthentication(msgInvalidCredentials)
	}
	resp, err := s.issue(u)
	if err != nil {
		return AuthResponse{}, err
	}
	s.recordLogin(true)
	s.Logger.WithField("user_id", u.ID).Info("user logged in")
	return resp, nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResponse, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return AuthResponse{}, NewValidation("email and password are required")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		username = email
	}

	if err := s.ensureAvailable(ctx, 0, username, email); err != nil {
		return AuthResponse{}, err
	}

	hash, err := helpers.HashPassword(in.Password)
	if err != nil {
		return AuthResponse{}, s.internal("hash password failed", err, nil)
	}
	u := &entity.User{
		Username:  username,
		Email:     email,
		Password:  hash,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	if err := s.Repo.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return AuthResponse{}, NewConflict(msgUserExists)
		}
		return AuthResponse{}, s.internal("create user failed", err, logrus.Fields{"email": email})
	}

	resp, err := s.issue(u)
	if err != nil {
		return AuthResponse{}, err
	}

	if s.Metrics != nil {
		s.Metrics.RecordRegistration()
	}
	s.indexUser(ctx, u)
	s.enqueueWelcome(ctx, u)
	s.Logger.WithField("user_id", u.ID).Info("user registered")
	return resp, nil
}

// ensureAvailable checks username/email uniqueness against every record except selfID.
// Usernames and emails share one login namespace, so each is also checked against the other column.
// The store's unique constraints still back this up under concurrent writes.
func (s *Service) ensureAvailable(ctx context.Context, selfID int64, username, email string) error {
	if email != "" {
		if err := s.unclaimed(ctx, selfID, s.Repo.GetByEmail, email, msgUserExists); err != nil {
			return err
		}
		if err := s.unclaimed(ctx, selfID, s.Repo.GetByUsername, email, msgUserExists); err != nil {
			return err
		}
	}
	if username != "" {
		if err := s.unclaimed(ctx, selfID, s.Repo.GetByUsername, username, msgUsernameTaken); err != nil {
			return err
		}
		if err := s.unclaimed(ctx, selfID, s.Repo.GetByEmail, normalizeEmail(username), msgUsernameTaken); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) unclaimed(ctx context.Context, selfID int64, lookup func(context.Context, string) (*entity.User, error), value, msg string) error {
	existing, err := lookup(ctx, value)
	switch {
	case err == nil && existing.ID != selfID:
		return NewConflict(msg)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return s.internal("load user failed", err, nil)
	}
	return nil
}

// Authenticate resolves a bearer access token to the stored user.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*entity.User, error) {
	claims, err := s.Tokens.ParseAccessToken(accessToken)
	if err != nil {
		return nil, NewAuthentication(msgInvalidToken)
	}
	u, err := s.Repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NewAuthentication("user not found")
		}
		return nil, s.internal("load user failed", err, logrus.Fields{"user_id": claims.UserID})
	}
	return u, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair is issued.
// Revocation is the single-use gate, so of several concurrent calls with one token only the first succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.Tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, NewAuthentication(msgInvalidToken)
	}
	if s.Revoker == nil {
		return TokenPair{}, NewInternal(msgNoRevoker, nil)
	}
	revoked, err := s.Revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return TokenPair{}, s.internal("check token revocation failed", err, logrus.Fields{"user_id": claims.UserID})
	}
	if revoked {
		return TokenPair{}, NewAuthentication(msgInvalidToken)
	}
	u, err := s.Repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return TokenPair{}, NewAuthentication(msgInvalidToken)
		}
		return TokenPair{}, s.internal("load user failed", err, logrus.Fields{"user_id": claims.UserID})
	}

	first, err := s.revoke(ctx, claims)
	if err != nil {
		return TokenPair{}, err
	}
	if !first {
		return TokenPair{}, NewAuthentication(msgInvalidToken)
	}
	access, _, err := s.Tokens.GenerateAccessToken(u.ID)
	if err != nil {
		return TokenPair{}, s.internal("generate access token failed", err, logrus.Fields{"user_id": u.ID})
	}
	refresh, _, err := s.Tokens.GenerateRefreshToken(u.ID)
	if err != nil {
		return TokenPair{}, s.internal("generate refresh token failed", err, logrus.Fields{"user_id": u.ID})
	}
	return TokenPair{Refresh: refresh, Access: access}, nil
}

// Logout revokes the caller's refresh token. Logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, caller *entity.User, refreshToken string) error {
	claims, err := s.Tokens.ParseRefreshToken(refreshToken)
	if err != nil || caller == nil || claims.UserID != caller.ID {
		return NewAuthentication(msgInvalidToken)
	}
	_, err = s.revoke(ctx, claims)
	return err
}

// revoke reports whether this call was the one that revoked the token.
func (s *Service) revoke(ctx context.Context, claims *helpers.Claims) (bool, error) {
	if s.Revoker == nil {
		return false, NewInternal(msgNoRevoker, nil)
	}
	var until time.Time
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	first, err := s.Revoker.Revoke(ctx, claims.ID, until)
	if err != nil {
		return false, s.internal("revoke refresh token failed", err, logrus.Fields{"user_id": claims.UserID})
	}
	return first, nil
}

// Profile is always the caller's own record.
func (s *Service) Profile(ctx context.Context, caller *entity.User) (Projection, error) {
	if caller == nil {
		return Projection{}, NewAuthentication("authentication credentials were not provided")
	}
	return Project(caller), nil
}

func (s *Service) ListUsers(ctx context.Context, caller *entity.User) ([]Projection, error) {
	if err := RequireAdmin(caller); err != nil {
		return nil, err
	}
	users, err := s.Repo.List(ctx)
	if err != nil {
		return nil, s.internal("list users failed", err, nil)
	}
	return ProjectAll(users), nil
}

func (s *Service) GetUser(ctx context.Context, caller *entity.User, id int64) (Projection, error) {
	if err := RequireAdmin(caller); err != nil {
		return Projection{}, err
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	return Project(u), nil
}

// UpdateUser applies only the supplied fields. Id, password and admin flag are not reachable from here.
func (s *Service) UpdateUser(ctx context.Context, caller *entity.User, id int64, in UpdateInput) (Projection, error) {
	if err := RequireAdmin(caller); err != nil {
		return Projection{}, err
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return Projection{}, err
	}

	var username, email string
	if in.Username != nil {
		username = strings.TrimSpace(*in.Username)
		if username == "" {
			return Projection{}, NewValidation("username may not be blank")
		}
	}
	if in.Email != nil {
		email = normalizeEmail(*in.Email)
		if email == "" {
			return Projection{}, NewValidation("email may not be blank")
		}
	}
	if err := s.ensureAvailable(ctx, u.ID, username, email); err != nil {
		return Projection{}, err
	}

	if username != "" {
		u.Username = username
	}
	if email != "" {
		u.Email = email
	}
	if in.Name != nil {
		u.FirstName = strings.TrimSpace(*in.Name)
	}

	if err := s.Repo.Update(ctx, u); err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return Projection{}, NewNotFound(msgUserNotFound)
		case errors.Is(err, repo.ErrDuplicate):
			return Projection{}, NewConflict(msgUserExists)
		}
		return Projection{}, s.internal("update user failed", err, logrus.Fields{"user_id": id})
	}
	s.indexUser(ctx, u)
	return Project(u), nil
}

func (s *Service) DeleteUser(ctx context.Context, caller *entity.User, id int64) error {
	if err := RequireAdmin(caller); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFound(msgUserNotFound)
		}
		return s.internal("delete user failed", err, logrus.Fields{"user_id": id})
	}
	if s.Index != nil {
		if err := s.Index.Remove(ctx, id); err != nil {
			helpers.LogWarn(s.Logger, "search index remove failed", err, logrus.Fields{"user_id": id})
		}
	}
	s.Logger.WithFields(logrus.Fields{"user_id": id, "by": caller.ID}).Info("user deleted")
	return nil
}

// SearchUsers queries the search index. With search disabled the result is always empty.
func (s *Service) SearchUsers(ctx context.Context, caller *entity.User, q string, size int) ([]Projection, error) {
	if err := RequireAdmin(caller); err != nil {
		return nil, err
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, NewValidation("query parameter q is required")
	}
	if s.Index == nil {
		return []Projection{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	out, err := s.Index.Search(ctx, q, size)
	if err != nil {
		return nil, s.internal("search users failed", err, nil)
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, NewNotFound(msgUserNotFound)
		}
		return nil, s.internal("load user failed", err, logrus.Fields{"user_id": id})
	}
	return u, nil
}

func (s *Service) recordLogin(ok bool) {
	if s.Metrics != nil {
		s.Metrics.RecordLogin(ok)
	}
}

func (s *Service) indexUser(ctx context.Context, u *entity.User) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Index(ctx, Project(u)); err != nil {
		helpers.LogWarn(s.Logger, "search index failed", err, logrus.Fields{"user_id": u.ID})
	}
}

func (s *Service) enqueueWelcome(ctx context.Context, u *entity.User) {
	if s.Mail == nil {
		return
	}
	job := mailer.NewWelcomeJob(s.AppName, u.Email, u.Username, u.DisplayName())
	if err := s.Mail.PublishJSON(ctx, job); err != nil {
		helpers.LogWarn(s.Logger, "enqueue welcome email failed", err, logrus.Fields{"user_id": u.ID})
	}
}
