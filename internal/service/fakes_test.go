package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository/repotest"
	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	users     *repotest.UserStore
	audits    *repotest.AuditStore
	systems   *repotest.SystemStore
	checker   *fakeChecker
	mr        *miniredis.Miniredis
	passwords *auth.PasswordService
	sessions  *auth.SessionService
	jwt       *auth.JWTService
	codec     *sso.Codec
	audit     *AuditService
	auth      *AuthService
	user      *UserService
	sso       *SSOService
	system    *SystemService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	codec, err := sso.NewCodec(sso.SharedSecret{SysKey: "test-sys-key", Salt: "test-salt"},
		sso.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	env := &testEnv{
		users:     repotest.NewUserStore(fixedNow),
		audits:    &repotest.AuditStore{},
		mr:        mr,
		passwords: auth.NewPasswordServiceWithCost(bcrypt.MinCost),
		sessions:  auth.NewSessionService(client, 7*24*time.Hour),
		jwt: auth.NewJWTService(config.JWTConfig{
			Secret:         "test-secret",
			AccessExpires:  2 * time.Hour,
			RefreshExpires: 7 * 24 * time.Hour,
			Issuer:         "ops-portal",
		}),
		codec:   codec,
		checker: &fakeChecker{},
	}
	env.systems = repotest.NewSystemStore(fixedNow)
	env.systems.Users = env.users
	env.audit = NewAuditService(env.audits)
	env.auth = NewAuthService(env.users, env.passwords, env.jwt, env.sessions, env.audit)
	env.auth.now = func() time.Time { return fixedNow }
	env.user = NewUserService(env.users, env.passwords, env.sessions, env.audit)
	env.sso = NewSSOService(codec, env.users, env.auth, env.audit, "https://oa.example.com/api.php")
	env.system = NewSystemService(env.systems, env.users, env.checker, env.audit)
	return env
}

// seedSystem stores a system directly, bypassing validation and auditing.
func (e *testEnv) seedSystem(t *testing.T, name string, orderNum int, status models.SystemStatus) *models.System {
	t.Helper()
	system, err := e.systems.Create(context.Background(), &models.SystemRequest{
		Name:     name,
		URL:      "https://" + name + ".example.com",
		Icon:     models.DefaultSystemIcon,
		OrderNum: orderNum,
		Status:   status,
	})
	require.NoError(t, err)
	return system
}

type fakeChecker struct {
	results []*models.HealthResult
	err     error
	calls   int
}

func (f *fakeChecker) CheckAll(ctx context.Context) ([]*models.HealthResult, error) {
	f.calls++
	return f.results, f.err
}

// seedUser stores an account directly, bypassing validation and auditing.
func (e *testEnv) seedUser(t *testing.T, username, password string, role models.UserRole, status models.UserStatus) *models.User {
	t.Helper()
	hash, err := e.passwords.HashPassword(password)
	require.NoError(t, err)
	user, err := e.users.Create(context.Background(), &models.CreateUserRequest{
		Username: username,
		Password: hash,
		Role:     role,
		Status:   status,
	})
	require.NoError(t, err)
	return user
}

func adminClaims(user *models.User) *auth.JWTClaims {
	return &auth.JWTClaims{UserID: user.ID, Username: user.Username, Role: user.Role}
}

var testInfo = RequestInfo{IPAddress: "10.0.0.1", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"}
