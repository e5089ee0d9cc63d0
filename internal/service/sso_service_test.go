package service

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"
)

// loginRequestFrom turns a generated link back into the query the peer
// would send.
func loginRequestFrom(t *testing.T, link string) *SSOLoginRequest {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	return &SSOLoginRequest{
		Op:   q.Get(sso.ParamOp),
		Auth: q.Get(sso.ParamAuth),
		U:    q.Get(sso.ParamUsername),
	}
}

func TestGenerateURLAndCompleteLogin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin", "admin123", models.RoleAdmin, models.StatusActive)
	alice := env.seedUser(t, "alice", "secret1", models.RoleUser, models.StatusActive)
	ctx := context.Background()

	resp, err := env.sso.GenerateURL(ctx, adminClaims(admin), &GenerateSSOURLRequest{
		TargetURL: "https://oa.example.com/api.php?lang=zh",
		Username:  "alice",
	}, testInfo)
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "https://oa.example.com/api.php?lang=zh", resp.TargetURL)
	assert.Contains(t, resp.SSOURL, "op=syn_login")
	assert.Contains(t, resp.SSOURL, "lang=zh")

	entry := env.audits.Last()
	assert.Equal(t, ActionGenerateSSOURL, entry.Action)
	assert.Equal(t, "admin", entry.Username)
	assert.Equal(t, ResourceSSO, entry.ResourceType)
	assert.JSONEq(t, `{"target_username":"alice","target_url":"https://oa.example.com/api.php?lang=zh"}`, string(entry.Details))

	info := testInfo
	info.Referer = "https://oa.example.com/"
	login, err := env.sso.CompleteLogin(ctx, loginRequestFrom(t, resp.SSOURL), info)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, login.User.ID)
	assert.NotEmpty(t, login.AccessToken)

	session, err := env.sessions.Get(ctx, login.SessionID)
	require.NoError(t, err)
	assert.Equal(t, MethodSSO, session.Method)

	entry = env.audits.Last()
	assert.Equal(t, ActionLogin, entry.Action)
	assert.Equal(t, "alice", entry.Username)
	assert.JSONEq(t, `{"method":"sso","source":"https://oa.example.com/"}`, string(entry.Details))
}

func TestCompleteLoginRejectsOtherUserAgent(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin", "admin123", models.RoleAdmin, models.StatusActive)
	env.seedUser(t, "alice", "secret1", models.RoleUser, models.StatusActive)
	ctx := context.Background()

	resp, err := env.sso.GenerateURL(ctx, adminClaims(admin), &GenerateSSOURLRequest{
		TargetURL: "https://oa.example.com/api.php",
		Username:  "alice",
	}, testInfo)
	require.NoError(t, err)

	_, err = env.sso.CompleteLogin(ctx, loginRequestFrom(t, resp.SSOURL), RequestInfo{UserAgent: "curl/8.0"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSSOAuthFailed)
	assert.ErrorIs(t, err, sso.ErrSignatureMismatch)

	var ssoErr *SSOError
	require.True(t, errors.As(err, &ssoErr))
	assert.Equal(t, sso.ReasonSignature, ssoErr.Reason)

	entry := env.audits.Last()
	assert.Equal(t, ActionSSOLoginFailed, entry.Action)
	assert.Nil(t, entry.UserID)
}

func TestCompleteLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "bob", "secret2", models.RoleUser, models.StatusDisabled)
	ua := testInfo.UserAgent

	signed := func(username string) *SSOLoginRequest {
		link, err := env.codec.GenerateSSOURL("https://portal.example.com/api/sso/login", username, ua)
		require.NoError(t, err)
		return loginRequestFrom(t, link)
	}

	tests := []struct {
		name string
		req  *SSOLoginRequest
		want error
	}{
		{"wrong op", &SSOLoginRequest{Op: "syn_logout", Auth: "a", U: "b"}, ErrSSOInvalidOp},
		{"missing op", &SSOLoginRequest{Auth: "a", U: "b"}, ErrSSOInvalidOp},
		{"missing auth", &SSOLoginRequest{Op: sso.OpSynLogin, U: "b"}, ErrSSOMissingParams},
		{"missing u", &SSOLoginRequest{Op: sso.OpSynLogin, Auth: "a"}, ErrSSOMissingParams},
		{"forged signature", &SSOLoginRequest{Op: sso.OpSynLogin, Auth: "00000000000000000000000000000000", U: signed("bob").U}, ErrSSOAuthFailed},
		{"unknown user", signed("ghost"), errors.ErrNotFound},
		{"disabled user", signed("bob"), errors.ErrUserInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.sso.CompleteLogin(context.Background(), tt.req, testInfo)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCompleteLoginExpiredPayload(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "alice", "secret1", models.RoleUser, models.StatusActive)

	u := env.codec.Encode("alice", -1)
	req := &SSOLoginRequest{
		Op:   sso.OpSynLogin,
		Auth: env.codec.Sign(u, testInfo.UserAgent),
		U:    u,
	}

	_, err := env.sso.CompleteLogin(context.Background(), req, testInfo)
	assert.ErrorIs(t, err, ErrSSOAuthFailed)
	assert.ErrorIs(t, err, sso.ErrExpired)

	var ssoErr *SSOError
	require.True(t, errors.As(err, &ssoErr))
	assert.Equal(t, sso.ReasonDecode, ssoErr.Reason)
}

func TestGenerateURLFailures(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "admin", "admin123", models.RoleAdmin, models.StatusActive)
	env.seedUser(t, "bob", "secret2", models.RoleUser, models.StatusDisabled)

	tests := []struct {
		name string
		req  GenerateSSOURLRequest
		want error
	}{
		{"missing target", GenerateSSOURLRequest{Username: "bob"}, errors.ErrValidation},
		{"missing username", GenerateSSOURLRequest{TargetURL: "https://oa.example.com/api.php"}, errors.ErrValidation},
		{"unknown user", GenerateSSOURLRequest{TargetURL: "https://oa.example.com/api.php", Username: "ghost"}, errors.ErrNotFound},
		{"disabled user", GenerateSSOURLRequest{TargetURL: "https://oa.example.com/api.php", Username: "bob"}, errors.ErrUserInactive},
		{"relative target", GenerateSSOURLRequest{TargetURL: "/api.php", Username: "admin"}, errors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.sso.GenerateURL(context.Background(), adminClaims(admin), &req, testInfo)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, env.audits.Actions())
}

func TestTestLink(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.sso.TestLink("alice", "")
	require.NoError(t, err)
	assert.Equal(t, sso.DefaultUserAgent, resp.UserAgent)

	req := loginRequestFrom(t, resp.SSOURL)
	result := env.codec.ParseSSORequest(req.Auth, req.U, sso.DefaultUserAgent)
	assert.True(t, result.OK)
	assert.Equal(t, "alice", result.Username)

	_, err = env.sso.TestLink("  ", "")
	assert.ErrorIs(t, err, errors.ErrValidation)
}
