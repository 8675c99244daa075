package services

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-tours/models"
	"go-tours/utils/auth"
	"go-tours/utils/errors"
)

func signupInput(email string) models.SignupInput {
	return models.SignupInput{
		Name:  "Laura Wilson",
		Email: email,
		PasswordInput: models.PasswordInput{
			Password:        "pass1234",
			PasswordConfirm: "pass1234",
		},
	}
}

func (f *fixture) signup(t *testing.T, email string) Session {
	t.Helper()
	session, err := f.authService.Signup(context.Background(), signupInput(email))
	require.NoError(t, err)
	return session
}

func (f *fixture) userDoc(t *testing.T, id primitive.ObjectID) bson.M {
	t.Helper()
	for _, d := range f.users.Docs() {
		if d["_id"] == id {
			return d
		}
	}
	t.Fatalf("user %s not stored", id.Hex())
	return nil
}

func TestAuthService_Signup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	session := f.signup(t, "  Laura@Example.com ")

	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "laura@example.com", session.User["email"])
	assert.Equal(t, models.RoleUser, session.User["role"])
	assert.NotContains(t, session.User, "password")
	assert.NotContains(t, session.User, "passwordConfirm")

	claims, err := f.signer.Parse(session.Token)
	require.NoError(t, err)
	id := session.User["_id"].(primitive.ObjectID)
	assert.Equal(t, id.Hex(), claims.ID)

	stored := f.userDoc(t, id)
	hash := stored["password"].(string)
	assert.NotEqual(t, "pass1234", hash)
	assert.True(t, strings.HasPrefix(hash, "$2"), "password is stored as a bcrypt hash")
}

func TestAuthService_SignupRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "laura@example.com")

	mismatch := signupInput("other@example.com")
	mismatch.PasswordConfirm = "pass12345"

	short := signupInput("short@example.com")
	short.Password, short.PasswordConfirm = "pass", "pass"

	badRole := signupInput("role@example.com")
	badRole.Role = "superuser"

	tests := []struct {
		name  string
		input models.SignupInput
	}{
		{"passwords differ", mismatch},
		{"password too short", short},
		{"bad email", signupInput("laura")},
		{"unknown role", badRole},
		{"duplicate email", signupInput("LAURA@example.com")},
	}
	for _, tt := range tests {
		_, err := f.authService.Signup(ctx, tt.input)
		assert.Equal(t, http.StatusBadRequest, statusOf(t, err), tt.name)
	}
	assert.Len(t, f.users.Docs(), 1)
}

func TestAuthService_Login(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	signed := f.signup(t, "laura@example.com")

	session, err := f.authService.Login(ctx, "LAURA@example.com", "pass1234")
	require.NoError(t, err)
	assert.Equal(t, signed.User["_id"], session.User["_id"])
	assert.NotContains(t, session.User, "password")

	_, err = f.authService.Login(ctx, "laura@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.authService.Login(ctx, "nobody@example.com", "pass1234")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.authService.Login(ctx, "", "pass1234")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	p := auth.Principal{ID: signed.User["_id"].(primitive.ObjectID)}
	require.NoError(t, f.userService.Deactivate(ctx, p))
	_, err = f.authService.Login(ctx, "laura@example.com", "pass1234")
	assert.ErrorIs(t, err, ErrBadCredentials, "deactivated users cannot log in")
}

func TestAuthService_Authenticate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	session := f.signup(t, "laura@example.com")
	id := session.User["_id"].(primitive.ObjectID)

	p, err := f.authService.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{ID: id, Name: "Laura Wilson", Email: "laura@example.com", Role: models.RoleUser}, p)

	_, err = f.authService.Authenticate(ctx, "")
	assert.ErrorIs(t, err, errors.ErrNotLoggedIn)

	_, err = f.authService.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, errors.ErrInvalidToken)

	expired, err := auth.NewSigner(testSecret, time.Minute).
		WithClock(func() time.Time { return time.Now().Add(-time.Hour) }).
		Sign(id.Hex())
	require.NoError(t, err)
	_, err = f.authService.Authenticate(ctx, expired)
	assert.ErrorIs(t, err, errors.ErrExpiredToken)

	stranger, err := f.signer.Sign(primitive.NewObjectID().Hex())
	require.NoError(t, err)
	_, err = f.authService.Authenticate(ctx, stranger)
	assert.ErrorIs(t, err, errors.ErrUserGone)

	require.NoError(t, f.userService.Deactivate(ctx, p))
	_, err = f.authService.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, errors.ErrUserGone)
}

func TestAuthService_PasswordChangeRevokesOldTokens(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	signedAt := time.Now().Add(-30 * time.Minute)
	f.signer.WithClock(func() time.Time { return signedAt })
	old := f.signup(t, "laura@example.com")
	signedAt = time.Now()

	p, err := f.authService.Authenticate(ctx, old.Token)
	require.NoError(t, err)

	_, err = f.authService.UpdatePassword(ctx, p, "wrong-pass", models.PasswordInput{Password: "newpass123", PasswordConfirm: "newpass123"})
	assert.ErrorIs(t, err, ErrWrongPassword)

	fresh, err := f.authService.UpdatePassword(ctx, p, "pass1234", models.PasswordInput{Password: "newpass123", PasswordConfirm: "newpass123"})
	require.NoError(t, err)

	_, err = f.authService.Authenticate(ctx, old.Token)
	assert.ErrorIs(t, err, errors.ErrPasswordChanged)

	_, err = f.authService.Authenticate(ctx, fresh.Token)
	assert.NoError(t, err)

	_, err = f.authService.Login(ctx, "laura@example.com", "pass1234")
	assert.ErrorIs(t, err, ErrBadCredentials)
	_, err = f.authService.Login(ctx, "laura@example.com", "newpass123")
	assert.NoError(t, err)
}

func TestAuthService_ResetPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	session := f.signup(t, "laura@example.com")
	id := session.User["_id"].(primitive.ObjectID)

	now := time.Now()
	f.authService.WithClock(func() time.Time { return now })

	var plain string
	err := f.authService.ForgotPassword(ctx, "laura@example.com", func(token string) string {
		plain = token
		return "http://localhost:3000/api/v1/users/resetPassword/" + token
	})
	require.NoError(t, err)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "laura@example.com", f.mailer.sent[0].To)
	assert.Contains(t, f.mailer.sent[0].Body, "/api/v1/users/resetPassword/"+plain)

	stored := f.userDoc(t, id)
	assert.Equal(t, auth.HashResetToken(plain), stored["passwordResetToken"])
	assert.NotEqual(t, plain, stored["passwordResetToken"])

	input := models.PasswordInput{Password: "newpass123", PasswordConfirm: "newpass123"}

	_, err = f.authService.ResetPassword(ctx, "not-the-token", input)
	assert.ErrorIs(t, err, ErrResetToken)

	fresh, err := f.authService.ResetPassword(ctx, plain, input)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.Token)

	stored = f.userDoc(t, id)
	assert.NotContains(t, stored, "passwordResetToken")
	assert.NotContains(t, stored, "passwordResetExpires")
	assert.Contains(t, stored, "passwordChangedAt")

	_, err = f.authService.ResetPassword(ctx, plain, input)
	assert.ErrorIs(t, err, ErrResetToken, "tokens are single use")
}

func TestAuthService_ResetTokenExpires(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t, "laura@example.com")

	now := time.Now()
	f.authService.WithClock(func() time.Time { return now })

	var plain string
	require.NoError(t, f.authService.ForgotPassword(ctx, "laura@example.com", func(token string) string {
		plain = token
		return token
	}))

	now = now.Add(11 * time.Minute)
	_, err := f.authService.ResetPassword(ctx, plain, models.PasswordInput{Password: "newpass123", PasswordConfirm: "newpass123"})
	assert.ErrorIs(t, err, ErrResetToken)
	assert.EqualError(t, err, "Token is invalid or expired.")

	_, err = f.authService.Login(ctx, "laura@example.com", "pass1234")
	assert.NoError(t, err, "the old password still works")
}

func TestAuthService_ForgotPasswordMailFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	session := f.signup(t, "laura@example.com")
	f.mailer.err = stderrors.New("smtp down")

	err := f.authService.ForgotPassword(ctx, "laura@example.com", func(token string) string { return token })
	assert.ErrorIs(t, err, ErrResetMail)
	assert.Equal(t, http.StatusInternalServerError, statusOf(t, err))

	stored := f.userDoc(t, session.User["_id"].(primitive.ObjectID))
	assert.NotContains(t, stored, "passwordResetToken")
	assert.NotContains(t, stored, "passwordResetExpires")

	err = f.authService.ForgotPassword(ctx, "nobody@example.com", func(token string) string { return token })
	assert.ErrorIs(t, err, ErrNoUserWithEmail)
}
