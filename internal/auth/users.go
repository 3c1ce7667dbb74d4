package auth

import (
	"context"
	"errors"
	"log/slog"
)

// GetUser returns the account with id. Soft-deleted accounts are ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.liveUser(ctx, s.store.Begin(), s.logger.With("op", "get_user"), id)
}

// liveUser loads id and rejects soft-deleted accounts.
func (s *Service) liveUser(ctx context.Context, uow UnitOfWork, log *slog.Logger, id int64) (*User, error) {
	user, err := uow.Users().GetByID(ctx, id)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error("user lookup failed", "user_id", id, "error", err)
		return nil, ErrServer
	}
	if user.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// UpdateCredentials replaces a user's email and password and revokes every
// active refresh token they hold.
func (s *Service) UpdateCredentials(ctx context.Context, id int64, email, password string) (user *User, err error) {
	start := s.now()
	defer func() { s.observe(OpUpdateCredentials, start, id, err) }()

	log := s.logger.With("op", OpUpdateCredentials)
	uow := s.store.Begin()

	user, err = s.liveUser(ctx, uow, log, id)
	if err != nil {
		return nil, err
	}

	if email != user.Email {
		exists, err := uow.Users().ExistsByEmail(ctx, email)
		if err != nil {
			log.Error("email lookup failed", "error", err)
			return nil, ErrServer
		}
		if exists {
			return nil, ErrConflict
		}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.Error("hashing password failed", "error", err)
		return nil, ErrServer
	}

	uow.Users().SetCredentials(user, email, hash)
	uow.RefreshTokens().RevokeAllByUser(user.ID, start)

	if _, err := uow.Commit(ctx); err != nil {
		switch {
		case errors.Is(err, ErrEmailExists), errors.Is(err, ErrStaleWrite):
			log.Debug("credential update rejected", "user_id", id, "error", err)
			return nil, ErrConflict
		default:
			log.Error("updating credentials failed", "user_id", id, "error", err)
			return nil, ErrServer
		}
	}

	log.Info("credentials updated", "user_id", id)
	return user, nil
}

// UpdateRole sets a verified role. RoleUnverified can never be re-entered.
func (s *Service) UpdateRole(ctx context.Context, id int64, role Role) (user *User, err error) {
	start := s.now()
	defer func() { s.observe(OpUpdateRole, start, id, err) }()

	if role != RoleViewer && role != RoleAdmin {
		return nil, ErrInvalidRole
	}

	log := s.logger.With("op", OpUpdateRole)
	uow := s.store.Begin()

	user, err = s.liveUser(ctx, uow, log, id)
	if err != nil {
		return nil, err
	}
	if user.Role == role {
		return user, nil
	}

	previous := user.Role
	uow.Users().SetRole(user, role)

	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			return nil, ErrNotFound
		}
		log.Error("updating role failed", "user_id", id, "error", err)
		return nil, ErrServer
	}

	log.Info("role updated", "user_id", id, "from", previous.String(), "to", role.String())
	return user, nil
}

// DeleteUser soft-deletes an account and revokes its active tokens.
func (s *Service) DeleteUser(ctx context.Context, id int64) (err error) {
	start := s.now()
	defer func() { s.observe(OpDeleteUser, start, id, err) }()

	log := s.logger.With("op", OpDeleteUser)
	uow := s.store.Begin()

	user, err := s.liveUser(ctx, uow, log, id)
	if err != nil {
		return err
	}

	uow.Users().SoftDelete(user, start)
	uow.RefreshTokens().RevokeAllByUser(user.ID, start)
	uow.VerificationTokens().RevokeAllByUser(user.ID, start)

	if _, err := uow.Commit(ctx); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			return ErrNotFound
		}
		log.Error("deleting user failed", "user_id", id, "error", err)
		return ErrServer
	}

	log.Info("user deleted", "user_id", id)
	return nil
}
