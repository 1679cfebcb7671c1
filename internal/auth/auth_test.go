package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestService(t *testing.T, admins ...string) *Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := store.Open("", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(log, store.NewUserStore(db, log), NewIssuer(testSecret, time.Hour), admins)
}

func TestPassword_HashAndCompare(t *testing.T) {
	req := require.New(t)
	hash, err := HashPassword("hunter22")
	req.NoError(err)
	req.NotEqual("hunter22", hash)

	ok, err := ComparePassword("hunter22", hash)
	req.NoError(err)
	req.True(ok)

	ok, err = ComparePassword("wrong", hash)
	req.NoError(err)
	req.False(ok)
}

func TestIssuer_RoundTrip(t *testing.T) {
	req := require.New(t)
	iss := NewIssuer(testSecret, time.Hour)

	token, err := iss.Issue("user-1")
	req.NoError(err)

	claims, err := iss.Verify(token)
	req.NoError(err)
	req.Equal("user-1", claims.UserID)
	req.Equal("user-1", claims.Subject)
}

func TestIssuer_RejectsBadTokens(t *testing.T) {
	iss := NewIssuer(testSecret, time.Hour)
	good, err := iss.Issue("user-1")
	require.NoError(t, err)

	expired := NewIssuer(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("user-1")
	require.NoError(t, err)

	otherKey, err := NewIssuer("other-secret", time.Hour).Issue("user-1")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", stale},
		{"wrong key", otherKey},
		{"alg none", none},
		{"truncated", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := iss.Verify(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
			require.ErrorIs(t, err, chat.ErrAuthorization)
		})
	}
}

func TestService_RegisterLoginAuthenticate(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := newTestService(t, "Root")

	alice, err := svc.Register(ctx, Credentials{Username: " alice ", Password: "secret1"})
	req.NoError(err)
	req.Equal("alice", alice.Username)
	req.False(alice.IsAdmin)
	req.NotEmpty(alice.Token)

	root, err := svc.Register(ctx, Credentials{Username: "root", Password: "secret1"})
	req.NoError(err)
	req.True(root.IsAdmin)

	_, err = svc.Register(ctx, Credentials{Username: "ALICE", Password: "secret1"})
	req.ErrorIs(err, chat.ErrConflict)

	login, err := svc.Login(ctx, Credentials{Username: "alice", Password: "secret1"})
	req.NoError(err)
	req.Equal(alice.ID, login.ID)

	_, err = svc.Login(ctx, Credentials{Username: "alice", Password: "nope-nope"})
	req.ErrorIs(err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, Credentials{Username: "nobody", Password: "secret1"})
	req.ErrorIs(err, ErrInvalidCredentials)

	who, err := svc.Authenticate(ctx, login.Token)
	req.NoError(err)
	req.Equal(alice.Identity, who)

	_, err = svc.Authenticate(ctx, "")
	req.ErrorIs(err, ErrMissingToken)
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService(t)
	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{"empty username", Credentials{Username: "  ", Password: "secret1"}, "username must not be empty"},
		{"short username", Credentials{Username: "al", Password: "secret1"}, "username must be at least 3 characters"},
		{"short password", Credentials{Username: "alice", Password: "123"}, "password must be at least 6 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.creds)
			require.ErrorIs(t, err, chat.ErrValidation)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestService_DeletedUserTokenRejected(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := newTestService(t, "root")

	root, err := svc.Register(ctx, Credentials{Username: "root", Password: "secret1"})
	req.NoError(err)
	bob, err := svc.Register(ctx, Credentials{Username: "bob", Password: "secret1"})
	req.NoError(err)

	req.ErrorIs(svc.DeleteUser(ctx, bob.Identity, root.ID), ErrForbidden)
	req.NoError(svc.DeleteUser(ctx, root.Identity, bob.ID))

	_, err = svc.Authenticate(ctx, bob.Token)
	req.ErrorIs(err, ErrInvalidToken)

	req.ErrorIs(svc.DeleteUser(ctx, root.Identity, bob.ID), chat.ErrNotFound)
}

func TestService_UpdateUserPermissions(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := newTestService(t, "root")

	root, err := svc.Register(ctx, Credentials{Username: "root", Password: "secret1"})
	req.NoError(err)
	alice, err := svc.Register(ctx, Credentials{Username: "alice", Password: "secret1"})
	req.NoError(err)
	bob, err := svc.Register(ctx, Credentials{Username: "bob", Password: "secret1"})
	req.NoError(err)

	_, err = svc.UpdateUser(ctx, bob.Identity, alice.ID, ProfileUpdate{Username: "mallory"})
	req.ErrorIs(err, ErrForbidden)
	_, err = svc.UpdateUser(ctx, chat.Identity{}, alice.ID, ProfileUpdate{Username: "mallory"})
	req.ErrorIs(err, ErrForbidden)

	_, err = svc.UpdateUser(ctx, alice.Identity, alice.ID, ProfileUpdate{})
	req.ErrorIs(err, chat.ErrValidation)

	_, err = svc.UpdateUser(ctx, alice.Identity, alice.ID, ProfileUpdate{Username: "bob"})
	req.ErrorIs(err, chat.ErrConflict)

	updated, err := svc.UpdateUser(ctx, alice.Identity, alice.ID, ProfileUpdate{Username: "alicia", Password: "newpass1"})
	req.NoError(err)
	req.Equal("alicia", updated.Username)

	_, err = svc.Login(ctx, Credentials{Username: "alicia", Password: "newpass1"})
	req.NoError(err)
	_, err = svc.Login(ctx, Credentials{Username: "alice", Password: "secret1"})
	req.ErrorIs(err, ErrInvalidCredentials)

	updated, err = svc.UpdateUser(ctx, root.Identity, bob.ID, ProfileUpdate{Username: "robert"})
	req.NoError(err)
	req.Equal("robert", updated.Username)
}

func TestService_ListUsersRequiresAdmin(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	svc := newTestService(t, "root")

	root, err := svc.Register(ctx, Credentials{Username: "root", Password: "secret1"})
	req.NoError(err)
	alice, err := svc.Register(ctx, Credentials{Username: "alice", Password: "secret1"})
	req.NoError(err)

	_, err = svc.ListUsers(ctx, alice.Identity)
	req.ErrorIs(err, ErrForbidden)

	users, err := svc.ListUsers(ctx, root.Identity)
	req.NoError(err)
	req.ElementsMatch([]chat.Identity{root.Identity, alice.Identity}, users)
}
