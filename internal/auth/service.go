package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Verification email content.
const (
	verificationSubject = "Temperature System email verification"
	verificationBody    = "Thank you for choosing Temperature System, click this link to verify your account %s/%s"

	// DefaultVerificationURL is the base of the link sent in verification emails.
	DefaultVerificationURL = "http://localhost:8080/api/auth/verify"
)

// dummyPassword is hashed once so unknown-email logins cost one Verify.
const dummyPassword = "tempsys-timing-equaliser"

// AuthResult is returned by Login and Refresh.
type AuthResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    *Token
	User            *User
}

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Store    Store
	Hasher   *Hasher
	Issuer   *Issuer
	Notifier Notifier

	// VerificationURL is the base of the emailed link; the token is
	// appended as a path segment.
	VerificationURL string

	Logger   *slog.Logger
	Recorder Recorder
}

// Service orchestrates login, refresh, logout, registration, verification
// and account management. Calls are independent and safe for concurrent use.
type Service struct {
	store           Store
	hasher          *Hasher
	issuer          *Issuer
	notifier        Notifier
	verificationURL string
	logger          *slog.Logger
	recorder        Recorder

	dummyHash func() string
	now       func() time.Time
}

// NewService returns a Service wired to deps.
func NewService(deps ServiceDeps) *Service {
	s := &Service{
		store:           deps.Store,
		hasher:          deps.Hasher,
		issuer:          deps.Issuer,
		notifier:        deps.Notifier,
		verificationURL: strings.TrimRight(deps.VerificationURL, "/"),
		logger:          deps.Logger,
		recorder:        deps.Recorder,
		now:             time.Now,
	}
	if s.verificationURL == "" {
		s.verificationURL = DefaultVerificationURL
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "auth")
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	s.dummyHash = sync.OnceValue(func() string {
		h, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.logger.Error("hashing timing equaliser", "error", err)
		}
		return h
	})
	return s
}

// observe reports a completed operation to the recorder.
func (s *Service) observe(op string, start time.Time, userID int64, err error) {
	s.recorder.Record(Event{
		Op:      op,
		Outcome: Outcome(err),
		UserID:  userID,
		Took:    s.now().Sub(start),
		At:      start,
	})
}

// Login exchanges an email and password for a session. Every failure is
// ErrUnauthorized; the reason is logged only.
func (s *Service) Login(ctx context.Context, email, password string) (result *AuthResult, err error) {
	start := s.now()
	var userID int64
	defer func() { s.observe(OpLogin, start, userID, err) }()

	log := s.logger.With("op", OpLogin)
	uow := s.store.Begin()

	user, err := uow.Users().GetByEmail(ctx, email)
	if err != nil {
		// Equalise timing with the known-user path.
		s.hasher.Verify(password, s.dummyHash())
		if errors.Is(err, ErrUserNotFound) {
			log.Debug("login rejected", "reason", "unknown email")
		} else {
			log.Error("login lookup failed", "error", err)
		}
		return nil, ErrUnauthorized
	}
	userID = user.ID

	if !s.hasher.Verify(password, user.PasswordHash) {
		log.Debug("login rejected", "user_id", user.ID, "reason", "password mismatch")
		return nil, ErrUnauthorized
	}
	if !user.IsActive() {
		log.Debug("login rejected", "user_id", user.ID, "reason", inactiveReason(user))
		return nil, ErrUnauthorized
	}

	result, err = s.issueSession(uow, user)
	if err != nil {
		log.Error("issuing session failed", "user_id", user.ID, "error", err)
		return nil, ErrUnauthorized
	}

	if _, err := uow.Commit(ctx); err != nil {
		log.Error("persisting refresh token failed", "user_id", user.ID, "error", err)
		return nil, ErrUnauthorized
	}

	log.Info("login succeeded", "user_id", user.ID)
	return result, nil
}

// Refresh rotates a refresh token and issues a new access token. The old
// value is never accepted again; of two concurrent refreshes exactly one
// succeeds.
func (s *Service) Refresh(ctx context.Context, value string) (result *AuthResult, err error) {
	start := s.now()
	var userID int64
	defer func() { s.observe(OpRefresh, start, userID, err) }()

	log := s.logger.With("op", OpRefresh)
	uow := s.store.Begin()

	old, err := s.activeRefreshToken(ctx, uow, log, value, start)
	if err != nil {
		return nil, err
	}
	userID = old.UserID

	uow.RefreshTokens().Revoke(old, start)

	result, err = s.issueSession(uow, old.User)
	if err != nil {
		log.Error("issuing session failed", "user_id", old.UserID, "error", err)
		return nil, ErrServer
	}

	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			log.Warn("refresh lost race", "user_id", old.UserID, "token_id", old.ID)
			return nil, ErrUnauthorized
		}
		log.Error("rotating refresh token failed", "user_id", old.UserID, "error", err)
		return nil, ErrServer
	}

	log.Info("refresh token rotated", "user_id", old.UserID)
	return result, nil
}

// Logout revokes a refresh token.
func (s *Service) Logout(ctx context.Context, value string) (err error) {
	start := s.now()
	var userID int64
	defer func() { s.observe(OpLogout, start, userID, err) }()

	log := s.logger.With("op", OpLogout)
	uow := s.store.Begin()

	token, err := s.activeRefreshToken(ctx, uow, log, value, start)
	if err != nil {
		return err
	}
	userID = token.UserID

	uow.RefreshTokens().Revoke(token, start)

	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			log.Warn("logout lost race", "user_id", token.UserID, "token_id", token.ID)
			return ErrUnauthorized
		}
		log.Error("revoking refresh token failed", "user_id", token.UserID, "error", err)
		return ErrServer
	}

	log.Info("logged out", "user_id", token.UserID)
	return nil
}

// activeRefreshToken loads value and checks that it and its owner are active.
func (s *Service) activeRefreshToken(ctx context.Context, uow UnitOfWork, log *slog.Logger, value string, now time.Time) (*Token, error) {
	token, err := uow.RefreshTokens().GetByValue(ctx, value)
	if errors.Is(err, ErrTokenNotFound) {
		log.Debug("refresh token rejected", "reason", "unknown token")
		return nil, ErrUnauthorized
	}
	if err != nil {
		log.Error("refresh token lookup failed", "error", err)
		return nil, ErrServer
	}

	if token.RevokedAt != nil {
		// Replay of a rotated or logged-out token.
		log.Warn("refresh token rejected", "user_id", token.UserID, "token_id", token.ID, "reason", "revoked")
		return nil, ErrUnauthorized
	}
	if !token.IsActive(now) {
		log.Debug("refresh token rejected", "user_id", token.UserID, "token_id", token.ID, "reason", "expired")
		return nil, ErrUnauthorized
	}
	if !token.User.IsActive() {
		log.Debug("refresh token rejected", "user_id", token.UserID, "reason", inactiveReason(token.User))
		return nil, ErrUnauthorized
	}
	return token, nil
}

// issueSession stages a new refresh token for user and signs an access token.
func (s *Service) issueSession(uow UnitOfWork, user *User) (*AuthResult, error) {
	refresh, err := s.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}
	access, expires, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	uow.RefreshTokens().Add(refresh)

	return &AuthResult{
		AccessToken:     access,
		AccessExpiresAt: expires,
		RefreshToken:    refresh,
		User:            user,
	}, nil
}

// Register creates an unverified account and emails a verification link.
// If the email cannot be sent the account still exists and ErrServer is
// returned.
func (s *Service) Register(ctx context.Context, email, password string) (user *User, err error) {
	start := s.now()
	var userID int64
	defer func() { s.observe(OpRegister, start, userID, err) }()

	log := s.logger.With("op", OpRegister)
	uow := s.store.Begin()

	exists, err := uow.Users().ExistsByEmail(ctx, email)
	if err != nil {
		log.Error("email lookup failed", "error", err)
		return nil, ErrServer
	}
	if exists {
		log.Debug("registration rejected", "reason", "email exists")
		return nil, ErrConflict
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.Error("hashing password failed", "error", err)
		return nil, ErrServer
	}

	user = &User{
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUnverified,
	}
	verification, err := s.issuer.IssueVerificationToken(user)
	if err != nil {
		log.Error("issuing verification token failed", "error", err)
		return nil, ErrServer
	}

	uow.Users().Add(user)
	uow.VerificationTokens().Add(verification)

	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrEmailExists) {
			log.Debug("registration rejected", "reason", "email exists")
			return nil, ErrConflict
		}
		log.Error("creating user failed", "error", err)
		return nil, ErrServer
	}
	userID = user.ID

	if err := s.notifier.Notify(ctx, s.verificationMessage(user.Email, verification.Value)); err != nil {
		log.Error("sending verification email failed", "user_id", user.ID, "error", err)
		return nil, ErrServer
	}

	log.Info("user registered", "user_id", user.ID)
	return user, nil
}

func (s *Service) verificationMessage(to, token string) Message {
	return Message{
		To:      to,
		Subject: verificationSubject,
		Body:    fmt.Sprintf(verificationBody, s.verificationURL, token),
	}
}

// Verify consumes a verification token and promotes an unverified owner to
// viewer. Absent, expired and revoked tokens are all ErrNotFound.
func (s *Service) Verify(ctx context.Context, value string) (err error) {
	start := s.now()
	var userID int64
	defer func() { s.observe(OpVerify, start, userID, err) }()

	log := s.logger.With("op", OpVerify)
	uow := s.store.Begin()

	token, err := uow.VerificationTokens().GetByValue(ctx, value)
	if errors.Is(err, ErrTokenNotFound) {
		log.Debug("verification rejected", "reason", "unknown token")
		return ErrNotFound
	}
	if err != nil {
		log.Error("verification token lookup failed", "error", err)
		return ErrServer
	}
	userID = token.UserID

	if !token.IsActive(start) {
		reason := "expired"
		if token.RevokedAt != nil {
			reason = "revoked"
		}
		log.Debug("verification rejected", "user_id", token.UserID, "reason", reason)
		return ErrNotFound
	}

	uow.VerificationTokens().Revoke(token, start)

	if token.User.Role == RoleUnverified {
		uow.Users().SetRole(token.User, RoleViewer)
	}

	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			log.Debug("verification rejected", "user_id", token.UserID, "reason", "consumed concurrently")
			return ErrNotFound
		}
		log.Error("verifying user failed", "user_id", token.UserID, "error", err)
		return ErrServer
	}

	log.Info("email verified", "user_id", token.UserID, "role", token.User.Role.String())
	return nil
}

// Authenticate validates a bearer access token.
func (s *Service) Authenticate(accessToken string) (*Claims, error) {
	claims, err := s.issuer.ParseAccessToken(accessToken)
	if err != nil {
		s.logger.Debug("access token rejected", "error", err)
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func inactiveReason(u *User) string {
	if u.DeletedAt != nil {
		return "deleted"
	}
	return "unverified"
}
