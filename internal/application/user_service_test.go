package application

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/oksasatya/user-accounts-api/internal/domain/entity"
	"github.com/oksasatya/user-accounts-api/internal/infrastructure/memory"
	"github.com/oksasatya/user-accounts-api/pkg/helpers"
	"github.com/oksasatya/user-accounts-api/pkg/mailer"
)

func TestMain(m *testing.M) {
	helpers.PasswordCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func (f *fakeRevoker) Revoke(_ context.Context, jti string, until time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.revoked[jti]; ok {
		return false, nil
	}
	f.revoked[jti] = until
	return true, nil
}

func (f *fakeRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.revoked[jti]
	return ok, nil
}

type fakeIndex struct {
	docs    map[int64]Projection
	err     error
	queries []string
}

func (f *fakeIndex) Index(_ context.Context, p Projection) error {
	if f.err != nil {
		return f.err
	}
	f.docs[p.ID] = p
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, id int64) error {
	delete(f.docs, id)
	return f.err
}

func (f *fakeIndex) Search(_ context.Context, q string, size int) ([]Projection, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	out := []Projection{}
	for _, p := range f.docs {
		out = append(out, p)
	}
	return out, nil
}

type fakePublisher struct {
	jobs []any
	err  error
}

func (f *fakePublisher) PublishJSON(_ context.Context, body any) error {
	f.jobs = append(f.jobs, body)
	return f.err
}

type fakeRecorder struct {
	registrations int
	logins        map[bool]int
}

func (f *fakeRecorder) RecordRegistration()      { f.registrations++ }
func (f *fakeRecorder) RecordLogin(success bool) { f.logins[success]++ }

type fixture struct {
	svc     *Service
	repo    *memory.UserRepository
	jwt     *helpers.JWTManager
	revoker *fakeRevoker
	index   *fakeIndex
	mail    *fakePublisher
	metrics *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    memory.NewUserRepository(),
		jwt:     helpers.NewJWTManager("access", "refresh", time.Minute, time.Hour),
		revoker: &fakeRevoker{revoked: map[string]time.Time{}},
		index:   &fakeIndex{docs: map[int64]Projection{}},
		mail:    &fakePublisher{},
		metrics: &fakeRecorder{logins: map[bool]int{}},
	}
	f.svc = NewService(f.repo, f.jwt, nil)
	f.svc.Revoker = f.revoker
	f.svc.Index = f.index
	f.svc.Mail = f.mail
	f.svc.Metrics = f.metrics
	f.svc.AppName = "accounts"
	return f
}

func (f *fixture) register(t *testing.T, username, email string) *entity.User {
	t.Helper()
	resp, err := f.svc.Register(context.Background(), RegisterInput{Username: username, Email: email, Password: "pw123456"})
	require.NoError(t, err)
	u, err := f.repo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	return u
}

func (f *fixture) admin(t *testing.T) *entity.User {
	t.Helper()
	u := f.register(t, "root", "root@x.com")
	require.NoError(t, f.repo.SetAdmin(context.Background(), u.ID, true))
	u.IsAdmin = true
	return u
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, KindOf(err), "error: %v", err)
}

func TestRegister_AliceScenario(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "a@x.com", Password: "pw123456"})
	require.NoError(t, err)

	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "a@x.com", resp.Name)
	assert.False(t, resp.IsAdmin)
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.Access)
	assert.NotEmpty(t, resp.Refresh)

	claims, err := f.jwt.ParseAccessToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.ID, claims.UserID)

	stored, err := f.repo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "pw123456", stored.Password)
	assert.True(t, helpers.CompareHashAndPassword(stored.Password, "pw123456"))
}

func TestRegister_SideEffects(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Register(context.Background(), RegisterInput{Email: "A@X.com", Password: "pw123456", FirstName: "Alice"})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", resp.Username, "username defaults to email")
	assert.Equal(t, "Alice", resp.Name)
	assert.Equal(t, 1, f.metrics.registrations)
	assert.Equal(t, resp.Projection, f.index.docs[resp.ID])

	require.Len(t, f.mail.jobs, 1)
	job := f.mail.jobs[0].(mailer.EmailJob)
	assert.Equal(t, "a@x.com", job.To)
	assert.Equal(t, mailer.TemplateWelcome, job.Template)
}

func TestRegister_SideEffectFailuresDoNotFailRequest(t *testing.T) {
	f := newFixture(t)
	f.index.err = errors.New("es down")
	f.mail.err = errors.New("amqp down")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "pw123456"})
	assert.NoError(t, err)
}

func TestRegister_DuplicateEmailIsConflict(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice2", Email: " A@x.com", Password: "pw123456"})
		requireKind(t, err, KindConflict)
	}

	users, err := f.repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegister_DuplicateUsernameIsConflict(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "other@x.com", Password: "pw123456"})
	requireKind(t, err, KindConflict)
}

func TestRegister_UsernameMayNotClaimAnotherUsersEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob", "bob@x.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "Bob@x.com", Email: "m@x.com", Password: "pw123456"})
	requireKind(t, err, KindConflict)

	resp, err := f.svc.Login(context.Background(), "bob@x.com", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, "bob", resp.Username)
}

func TestRegister_EmailMayNotMatchAnotherUsersUsername(t *testing.T) {
	f := newFixture(t)
	f.register(t, "carol@x.com", "c@x.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "carol@x.com", Password: "pw123456"})
	requireKind(t, err, KindConflict)
}

func TestUpdateUser_UsernameMayNotClaimAnotherUsersEmail(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.register(t, "bob", "bob@x.com")
	mallory := f.register(t, "mallory", "m@x.com")

	squat := "bob@x.com"
	_, err := f.svc.UpdateUser(context.Background(), admin, mallory.ID, UpdateInput{Username: &squat})
	requireKind(t, err, KindConflict)

	own := "m@x.com"
	_, err = f.svc.UpdateUser(context.Background(), admin, mallory.ID, UpdateInput{Username: &own})
	require.NoError(t, err, "a user may use their own email as username")
}

type racingRepo struct {
	*memory.UserRepository
}

// Create simulates a concurrent insert winning between the pre-check and the write.
func (r racingRepo) Create(ctx context.Context, u *entity.User) error {
	clone := *u
	clone.Username = "winner"
	_ = r.UserRepository.Create(ctx, &clone)
	return r.UserRepository.Create(ctx, u)
}

func TestRegister_StoreUniqueViolationIsConflict(t *testing.T) {
	f := newFixture(t)
	f.svc.Repo = racingRepo{f.repo}

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "a@x.com", Password: "pw123456"})
	requireKind(t, err, KindConflict)
}

func TestRegister_MissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "", Password: "pw123456"})
	requireKind(t, err, KindValidation)
	_, err = f.svc.Register(context.Background(), RegisterInput{Email: "a@x.com"})
	requireKind(t, err, KindValidation)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")

	resp, err := f.svc.Login(context.Background(), "alice", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, u.ID, resp.ID)
	assert.NotEmpty(t, resp.Access)
	assert.NotEmpty(t, resp.Refresh)
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, 1, f.metrics.logins[true])

	claims, err := f.jwt.ParseRefreshToken(resp.Refresh)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
}

func TestLogin_ByEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	resp, err := f.svc.Login(context.Background(), "A@x.com", "pw123456")
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)
}

func TestLogin_FailuresLookTheSame(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")

	_, wrongPw := f.svc.Login(context.Background(), "alice", "nope")
	_, unknown := f.svc.Login(context.Background(), "mallory", "pw123456")

	requireKind(t, wrongPw, KindAuthentication)
	requireKind(t, unknown, KindAuthentication)
	assert.Equal(t, wrongPw.Error(), unknown.Error())
	assert.Equal(t, 2, f.metrics.logins[false])
}

func TestLogin_MissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), "", "pw")
	requireKind(t, err, KindValidation)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")
	tok, _, err := f.jwt.GenerateAccessToken(u.ID)
	require.NoError(t, err)

	got, err := f.svc.Authenticate(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.svc.Authenticate(context.Background(), "garbage")
	requireKind(t, err, KindAuthentication)

	refresh, _, err := f.jwt.GenerateRefreshToken(u.ID)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(context.Background(), refresh)
	requireKind(t, err, KindAuthentication)

	require.NoError(t, f.repo.Delete(context.Background(), u.ID))
	_, err = f.svc.Authenticate(context.Background(), tok)
	requireKind(t, err, KindAuthentication)
}

func TestRefresh_RotatesAndRevokes(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "a@x.com")
	login, err := f.svc.Login(context.Background(), "alice", "pw123456")
	require.NoError(t, err)

	pair, err := f.svc.Refresh(context.Background(), login.Refresh)
	require.NoError(t, err)
	assert.NotEqual(t, login.Refresh, pair.Refresh)
	assert.Len(t, f.revoker.revoked, 1)

	_, err = f.svc.Refresh(context.Background(), login.Refresh)
	requireKind(t, err, KindAuthentication)

	_, err = f.svc.Refresh(context.Background(), pair.Refresh)
	require.NoError(t, err)
}

// checkPassesRevoker reports every token as live so that concurrent callers all
// reach the revoke step together.
type checkPassesRevoker struct{ *fakeRevoker }

func (checkPassesRevoker) IsRevoked(context.Context, string) (bool, error) { return false, nil }

func TestRefresh_ConcurrentUseOfOneTokenHasOneWinner(t *testing.T) {
	f := newFixture(t)
	f.svc.Revoker = checkPassesRevoker{f.revoker}
	f.register(t, "alice", "a@x.com")
	login, err := f.svc.Login(context.Background(), "alice", "pw123456")
	require.NoError(t, err)

	const callers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), login.Refresh)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	for _, err := range errs {
		requireKind(t, err, KindAuthentication)
	}
}

func TestRefresh_WithoutRevocationStoreFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.svc.Revoker = nil
	u := f.register(t, "alice", "a@x.com")
	refresh, _, err := f.jwt.GenerateRefreshToken(u.ID)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), refresh)
	requireKind(t, err, KindInternal)
	requireKind(t, f.svc.Logout(context.Background(), u, refresh), KindInternal)
}

func TestRefresh_Invalid(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")

	access, _, err := f.jwt.GenerateAccessToken(u.ID)
	require.NoError(t, err)
	_, err = f.svc.Refresh(context.Background(), access)
	requireKind(t, err, KindAuthentication)

	refresh, _, err := f.jwt.GenerateRefreshToken(u.ID)
	require.NoError(t, err)
	require.NoError(t, f.repo.Delete(context.Background(), u.ID))
	_, err = f.svc.Refresh(context.Background(), refresh)
	requireKind(t, err, KindAuthentication)
}

func TestRefresh_RevocationStoreDown(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")
	refresh, _, err := f.jwt.GenerateRefreshToken(u.ID)
	require.NoError(t, err)

	f.revoker.err = errors.New("redis down")
	_, err = f.svc.Refresh(context.Background(), refresh)
	requireKind(t, err, KindInternal)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "a@x.com")
	bob := f.register(t, "bob", "b@x.com")
	refresh, _, err := f.jwt.GenerateRefreshToken(alice.ID)
	require.NoError(t, err)

	requireKind(t, f.svc.Logout(context.Background(), bob, refresh), KindAuthentication)
	require.NoError(t, f.svc.Logout(context.Background(), alice, refresh))

	_, err = f.svc.Refresh(context.Background(), refresh)
	requireKind(t, err, KindAuthentication)
}

func TestProfile_IsCaller(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "a@x.com")

	p, err := f.svc.Profile(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, Project(u), p)

	_, err = f.svc.Profile(context.Background(), nil)
	requireKind(t, err, KindAuthentication)
}

func TestAdminOperations_RejectNonAdmin(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice", "a@x.com")
	name := "x"
	ctx := context.Background()

	list, err := f.svc.ListUsers(ctx, alice)
	requireKind(t, err, KindAuthorization)
	assert.Nil(t, list)

	p, err := f.svc.GetUser(ctx, alice, alice.ID)
	requireKind(t, err, KindAuthorization)
	assert.Zero(t, p)

	p, err = f.svc.UpdateUser(ctx, alice, alice.ID, UpdateInput{Name: &name})
	requireKind(t, err, KindAuthorization)
	assert.Zero(t, p)

	requireKind(t, f.svc.DeleteUser(ctx, alice, alice.ID), KindAuthorization)

	found, err := f.svc.SearchUsers(ctx, alice, "a", 10)
	requireKind(t, err, KindAuthorization)
	assert.Nil(t, found)

	stored, err := f.repo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.FirstName)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.register(t, "alice", "a@x.com")

	out, err := f.svc.ListUsers(context.Background(), admin)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "root", out[0].Username)
	assert.True(t, out[0].IsAdmin)
	assert.Equal(t, "alice", out[1].Username)
}

func TestGetUser(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.register(t, "alice", "a@x.com")

	p, err := f.svc.GetUser(context.Background(), admin, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = f.svc.GetUser(context.Background(), admin, 999)
	requireKind(t, err, KindNotFound)
}

func TestUpdateUser_PartialFields(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.register(t, "alice", "a@x.com")
	name := "Alice"

	p, err := f.svc.UpdateUser(context.Background(), admin, alice.ID, UpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, p.ID)
	assert.Equal(t, "Alice", p.Name)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, "a@x.com", p.Email)
	assert.False(t, p.IsAdmin)
	assert.Equal(t, p, f.index.docs[alice.ID])

	stored, err := f.repo.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, helpers.CompareHashAndPassword(stored.Password, "pw123456"))
}

func TestUpdateUser_UsernameAndEmail(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.register(t, "alice", "a@x.com")
	username, email := "alicia", " ALICIA@x.com "

	p, err := f.svc.UpdateUser(context.Background(), admin, alice.ID, UpdateInput{Username: &username, Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "alicia", p.Username)
	assert.Equal(t, "alicia@x.com", p.Email)
	assert.Equal(t, "alicia@x.com", p.Name)
}

func TestUpdateUser_KeepOwnEmail(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.register(t, "alice", "a@x.com")
	email := "a@x.com"

	_, err := f.svc.UpdateUser(context.Background(), admin, alice.ID, UpdateInput{Email: &email})
	assert.NoError(t, err)
}

func TestUpdateUser_Errors(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.register(t, "alice", "a@x.com")
	ctx := context.Background()

	taken := "root@x.com"
	_, err := f.svc.UpdateUser(ctx, admin, alice.ID, UpdateInput{Email: &taken})
	requireKind(t, err, KindConflict)

	blank := "  "
	_, err = f.svc.UpdateUser(ctx, admin, alice.ID, UpdateInput{Username: &blank})
	requireKind(t, err, KindValidation)

	name := "x"
	_, err = f.svc.UpdateUser(ctx, admin, 999, UpdateInput{Name: &name})
	requireKind(t, err, KindNotFound)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	alice := f.register(t, "alice", "a@x.com")

	require.NoError(t, f.svc.DeleteUser(context.Background(), admin, alice.ID))
	_, ok := f.index.docs[alice.ID]
	assert.False(t, ok)

	requireKind(t, f.svc.DeleteUser(context.Background(), admin, alice.ID), KindNotFound)
	requireKind(t, f.svc.DeleteUser(context.Background(), admin, 5), KindNotFound)
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	admin := f.admin(t)
	f.register(t, "alice", "a@x.com")

	out, err := f.svc.SearchUsers(context.Background(), admin, " ali ", 0)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, []string{"ali"}, f.index.queries)

	_, err = f.svc.SearchUsers(context.Background(), admin, "", 10)
	requireKind(t, err, KindValidation)

	f.svc.Index = nil
	out, err = f.svc.SearchUsers(context.Background(), admin, "ali", 10)
	require.NoError(t, err)
	assert.Empty(t, out)
}
