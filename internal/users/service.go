// Package users handles accounts: signup with university detection, email
// verification, login, password reset and account closure.
package users

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/eligibility"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/storage"
	"github.com/example/campus-rides/internal/university"
)

const (
	MinPasswordLength = 8
	VerificationTTL   = time.Hour
	ResetTTL          = time.Hour
	// MaxCodeAttempts is how many wrong codes void an emailed code.
	MaxCodeAttempts = 5
)

type Resolver interface {
	Resolve(ctx context.Context, email string) university.Result
	Refresh(ctx context.Context, email string) university.Result
}

// RideRemover detaches a closing account from its rides.
type RideRemover interface {
	RemoveUser(ctx context.Context, email string) error
}

type Service struct {
	store    storage.UserStore
	resolver Resolver
	tokens   *auth.TokenIssuer
	mailer   Mailer
	rides    RideRemover
	logger   *slog.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

type Deps struct {
	Store    storage.UserStore
	Resolver Resolver
	Tokens   *auth.TokenIssuer
	Mailer   Mailer
	Rides    RideRemover
	Logger   *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Mailer == nil {
		d.Mailer = LogMailer{Logger: d.Logger}
	}
	return &Service{
		store:    d.Store,
		resolver: d.Resolver,
		tokens:   d.Tokens,
		mailer:   d.Mailer,
		rides:    d.Rides,
		logger:   d.Logger,
		now:      time.Now,
		newCode:  verificationCode,
	}
}

type SignupRequest struct {
	Email    string
	Password string
	Name     string
}

// Signup creates an unverified account and mails its verification code.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*models.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, apperr.New(apperr.KindInvalidInput, "password must be at least %d characters", MinPasswordLength)
	}
	res := s.resolver.Resolve(ctx, email)
	if !res.Valid {
		return nil, apperr.New(apperr.KindInvalidInput, "%s", res.Error)
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	code, err := s.newCode()
	if err != nil {
		return nil, fmt.Errorf("verification code: %w", err)
	}
	now := s.now().UTC()
	until := now.Add(VerificationTTL)
	u := &models.User{
		Email:             email,
		Name:              strings.TrimSpace(req.Name),
		PasswordHash:      hash,
		College:           res.College,
		University:        models.UniversityRecord{Info: res.Info},
		VerificationCode:  code,
		VerificationUntil: &until,
		CreatedAt:         now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return nil, apperr.New(apperr.KindConflict, "an account already exists for %s", email)
		}
		return nil, err
	}
	if err := s.mailer.SendVerification(ctx, email, code, res.College); err != nil {
		s.logger.Error("verification mail failed", "user", email, "err", err)
	}
	s.logger.Info("user signed up", "user", email, "college", res.College, "university_source", sourceOf(res.Info))
	return u, nil
}

// Verify checks the emailed code and returns a token for the now verified
// account. Wrong guesses are counted; after MaxCodeAttempts the code is void
// and a new one must be requested.
func (s *Service) Verify(ctx context.Context, email, code string) (string, *models.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	wrong := false
	u, err := s.store.UpdateUser(ctx, email, func(u *models.User) error {
		if u.Verified {
			return apperr.New(apperr.KindInvalidState, "account is already verified")
		}
		if u.VerificationTries >= MaxCodeAttempts {
			return apperr.New(apperr.KindInvalidState, "too many attempts; request a new verification code")
		}
		if u.VerificationUntil == nil || now.After(*u.VerificationUntil) {
			return apperr.New(apperr.KindInvalidInput, "verification code expired")
		}
		if !codeMatches(code, u.VerificationCode) {
			u.VerificationTries++
			wrong = true
			return nil
		}
		u.Verified = true
		u.VerificationCode = ""
		u.VerificationUntil = nil
		u.VerificationTries = 0
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if wrong {
		return "", nil, apperr.New(apperr.KindInvalidInput, "invalid verification code")
	}
	tok, err := s.tokens.Issue(email)
	if err != nil {
		return "", nil, err
	}
	return tok, u, nil
}

// ResendVerification replaces the pending code of an unverified account and
// mails the new one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("verification code: %w", err)
	}
	until := s.now().UTC().Add(VerificationTTL)
	u, err := s.store.UpdateUser(ctx, email, func(u *models.User) error {
		if u.Verified {
			return apperr.New(apperr.KindInvalidState, "account is already verified")
		}
		u.VerificationCode = code
		u.VerificationUntil = &until
		u.VerificationTries = 0
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerification(ctx, email, code, u.College); err != nil {
		s.logger.Error("verification mail failed", "user", email, "err", err)
	}
	return nil
}

// RequestPasswordReset mails a one-hour reset code. Unknown addresses succeed
// without sending anything.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("reset code: %w", err)
	}
	until := s.now().UTC().Add(ResetTTL)
	u, err := s.store.UpdateUser(ctx, email, func(u *models.User) error {
		u.ResetCode = code
		u.ResetUntil = &until
		u.ResetTries = 0
		return nil
	})
	if apperr.KindOf(err) == apperr.KindNotFound {
		s.logger.Info("password reset for unknown account", "user", email)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordReset(ctx, email, code, u.College); err != nil {
		s.logger.Error("password reset mail failed", "user", email, "err", err)
	}
	s.logger.Info("password reset requested", "user", email)
	return nil
}

// ResetPassword replaces the password when code matches the pending reset
// code. A successful reset also marks the address verified.
func (s *Service) ResetPassword(ctx context.Context, email, code, password string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if len(password) < MinPasswordLength {
		return apperr.New(apperr.KindInvalidInput, "password must be at least %d characters", MinPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	invalid := apperr.New(apperr.KindInvalidInput, "invalid or expired reset code")
	now := s.now().UTC()
	wrong := false
	_, err = s.store.UpdateUser(ctx, email, func(u *models.User) error {
		if u.ResetCode == "" || u.ResetTries >= MaxCodeAttempts {
			return invalid
		}
		if u.ResetUntil == nil || now.After(*u.ResetUntil) {
			return invalid
		}
		if !codeMatches(code, u.ResetCode) {
			u.ResetTries++
			wrong = true
			return nil
		}
		u.PasswordHash = hash
		u.ResetCode = ""
		u.ResetUntil = nil
		u.ResetTries = 0
		u.Verified = true
		u.VerificationCode = ""
		u.VerificationUntil = nil
		return nil
	})
	if apperr.KindOf(err) == apperr.KindNotFound || wrong {
		return invalid
	}
	if err != nil {
		return err
	}
	s.logger.Info("password reset", "user", email)
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.store.GetUser(ctx, email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return "", nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	if err != nil {
		return "", nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return "", nil, apperr.New(apperr.KindUnauthorized, "invalid credentials")
	}
	if !u.Verified {
		return "", nil, apperr.New(apperr.KindForbidden, "verify your email before logging in")
	}
	tok, err := s.tokens.Issue(email)
	if err != nil {
		return "", nil, err
	}
	return tok, u, nil
}

func (s *Service) Get(ctx context.Context, email string) (*models.User, error) {
	return s.store.GetUser(ctx, email)
}

// Authenticate resolves a bearer token to its verified user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	email, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, email)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.New(apperr.KindUnauthorized, "account no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !u.Verified {
		return nil, apperr.New(apperr.KindForbidden, "account is not verified")
	}
	return u, nil
}

// CommunityOptions lists the communities the user may post rides to.
func (s *Service) CommunityOptions(ctx context.Context, email string) ([]community.Name, error) {
	u, err := s.store.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	return eligibility.Options(u), nil
}

// RefreshUniversity re-runs detection for the user's domain, bypassing the
// cache. A failed detection keeps the stored record.
func (s *Service) RefreshUniversity(ctx context.Context, email string) (*models.User, error) {
	if _, err := s.store.GetUser(ctx, email); err != nil {
		return nil, err
	}
	res := s.resolver.Refresh(ctx, email)
	if !res.Valid {
		return nil, apperr.New(apperr.KindInvalidInput, "%s", res.Error)
	}
	return s.store.UpdateUser(ctx, email, func(u *models.User) error {
		u.College = res.College
		u.University = models.UniversityRecord{Info: res.Info}
		return nil
	})
}

// Delete closes the account after removing it from every ride.
func (s *Service) Delete(ctx context.Context, email string) error {
	if _, err := s.store.GetUser(ctx, email); err != nil {
		return err
	}
	if s.rides != nil {
		if err := s.rides.RemoveUser(ctx, email); err != nil {
			return fmt.Errorf("remove user from rides: %w", err)
		}
	}
	if err := s.store.DeleteUser(ctx, email); err != nil {
		return err
	}
	s.logger.Info("account closed", "user", email)
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.New(apperr.KindInvalidInput, "invalid email address")
	}
	return email, nil
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func codeMatches(given, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(given)), []byte(want)) == 1
}

func sourceOf(info models.UniversityInfo) string {
	if info == nil {
		return ""
	}
	return string(info.Source())
}
