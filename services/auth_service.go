package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/bcrypt"

	"go-tours/models"
	"go-tours/utils/auth"
	"go-tours/utils/errors"
	"go-tours/utils/validation"
)

const resetTokenTTL = 10 * time.Minute

var (
	ErrMissingCredentials = errors.BadRequest("Please provide email and password!")
	ErrBadCredentials     = errors.Unauthorized("Incorrect email or password")
	ErrWrongPassword      = errors.Unauthorized("Your current password is wrong.")
	ErrNoUserWithEmail    = errors.NotFound("There is no user with this email address.")
	ErrResetToken         = errors.BadRequest("Token is invalid or expired.")
	ErrResetMail          = errors.New("There was an error sending the email. Try again later.", http.StatusInternalServerError)
)

// Session is what a successful signup, login or password change returns.
type Session struct {
	Token string
	User  bson.M
}

type AuthService struct {
	users  *UserService
	signer *auth.Signer
	mailer Mailer
	now    func() time.Time
}

func NewAuthService(users *UserService, signer *auth.Signer, mailer Mailer) *AuthService {
	return &AuthService{users: users, signer: signer, mailer: mailer, now: time.Now}
}

// WithClock replaces the time source for reset expiry checks.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Signup creates a new user
func (s *AuthService) Signup(ctx context.Context, in models.SignupInput) (Session, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return Session{}, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	user := &models.User{
		Name:     in.Name,
		Email:    in.Email,
		Role:     in.Role,
		Password: hash,
	}
	doc, err := s.users.Create(ctx, user)
	if err != nil {
		return Session{}, err
	}
	slog.Info("User signed up", "user", user.ID.Hex())
	return s.session(user.ID.Hex(), doc)
}

// Login authenticates a user and returns a JWT
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	if email == "" || password == "" {
		return Session{}, ErrMissingCredentials
	}
	user, err := s.users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
	if err != nil {
		if errors.Is(err, errors.ErrNoDocument) {
			return Session{}, ErrBadCredentials
		}
		return Session{}, err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return Session{}, ErrBadCredentials
	}
	doc, err := s.users.Document(user)
	if err != nil {
		return Session{}, err
	}
	return s.session(user.ID.Hex(), doc)
}

// Authenticate resolves a bearer token to the active user it was issued for.
func (s *AuthService) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	if token == "" {
		return auth.Principal{}, errors.ErrNotLoggedIn
	}
	claims, err := s.signer.Parse(token)
	if err != nil {
		return auth.Principal{}, errors.Translate(err)
	}
	user, err := s.users.GetUser(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, errors.ErrNoDocument) || errors.IsOperational(err) {
			return auth.Principal{}, errors.ErrUserGone
		}
		return auth.Principal{}, err
	}
	if !user.IsActive() {
		return auth.Principal{}, errors.ErrUserGone
	}
	if claims.IssuedAt != nil && user.ChangedPasswordAfter(claims.IssuedAt.Unix()) {
		return auth.Principal{}, errors.ErrPasswordChanged
	}
	return auth.Principal{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role}, nil
}

// ForgotPassword stores a reset token hash and mails the plain token. resetURL
// turns the plain token into the link the user follows. When the mail cannot
// be sent the token is cleared again.
func (s *AuthService) ForgotPassword(ctx context.Context, email string, resetURL func(token string) string) error {
	user, err := s.users.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
	if err != nil {
		if errors.Is(err, errors.ErrNoDocument) {
			return ErrNoUserWithEmail
		}
		return err
	}
	plain, hashed, err := auth.NewResetToken()
	if err != nil {
		return err
	}
	expires := s.now().Add(resetTokenTTL)
	user.PasswordResetToken = hashed
	user.PasswordResetExpires = &expires
	if err := s.users.Save(ctx, user); err != nil {
		return err
	}

	url := resetURL(plain)
	err = s.mailer.Send(ctx, Message{
		To:      user.Email,
		Subject: "Your password reset token (valid for 10 min)",
		Body: "Forgot your password? Submit a PATCH request with your new password and passwordConfirm to: " +
			url + ".\nIf you didn't forget your password, please ignore this email!",
	})
	if err == nil {
		return nil
	}

	slog.Error("Failed to send reset email", "user", user.ID.Hex(), "error", err)
	fresh, ferr := s.users.FindOne(ctx, bson.M{"_id": user.ID})
	if ferr == nil {
		fresh.PasswordResetToken = ""
		fresh.PasswordResetExpires = nil
		ferr = s.users.Save(ctx, fresh)
	}
	if ferr != nil {
		slog.Error("Failed to clear reset token", "user", user.ID.Hex(), "error", ferr)
	}
	return ErrResetMail
}

// ResetPassword redeems an unexpired reset token and rotates the password.
func (s *AuthService) ResetPassword(ctx context.Context, token string, in models.PasswordInput) (Session, error) {
	user, err := s.users.FindOne(ctx, bson.M{
		"passwordResetToken":   auth.HashResetToken(token),
		"passwordResetExpires": bson.M{"$gt": s.now()},
	})
	if err != nil {
		if errors.Is(err, errors.ErrNoDocument) {
			return Session{}, ErrResetToken
		}
		return Session{}, err
	}
	user.PasswordResetToken = ""
	user.PasswordResetExpires = nil
	return s.setPassword(ctx, user, in)
}

// UpdatePassword changes the caller's password after checking the current one.
func (s *AuthService) UpdatePassword(ctx context.Context, p auth.Principal, current string, in models.PasswordInput) (Session, error) {
	user, err := s.users.FindOne(ctx, bson.M{"_id": p.ID})
	if err != nil {
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(current)) != nil {
		return Session{}, ErrWrongPassword
	}
	return s.setPassword(ctx, user, in)
}

func (s *AuthService) setPassword(ctx context.Context, user *models.User, in models.PasswordInput) (Session, error) {
	if err := validation.Struct(in); err != nil {
		return Session{}, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}
	// A second earlier than now so the token issued below stays valid.
	changed := s.now().Add(-time.Second)
	user.Password = hash
	user.PasswordChangedAt = &changed
	if err := s.users.Save(ctx, user); err != nil {
		return Session{}, err
	}
	doc, err := s.users.Document(user)
	if err != nil {
		return Session{}, err
	}
	return s.session(user.ID.Hex(), doc)
}

func (s *AuthService) session(userID string, doc bson.M) (Session, error) {
	token, err := s.signer.Sign(userID)
	if err != nil {
		return Session{}, errors.Wrap(err, "Failed to generate token", http.StatusInternalServerError)
	}
	return Session{Token: token, User: doc}, nil
}

// TokenTTL is how long issued tokens stay valid.
func (s *AuthService) TokenTTL() time.Duration {
	return s.signer.TTL()
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "failed to hash password", http.StatusInternalServerError)
	}
	return string(hash), nil
}
