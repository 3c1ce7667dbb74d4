package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store opens units of work against the credential database.
type Store interface {
	Begin() UnitOfWork
}

// UnitOfWork groups repository reads and staged writes for one operation.
//
// Reads run immediately. Writes are queued and applied in a single
// transaction by Commit, which returns the total number of affected rows.
// A conditional write that matches no rows fails the whole commit with
// ErrStaleWrite. Staged entities are only updated in memory once the
// transaction has committed. A UnitOfWork is not safe for concurrent use.
type UnitOfWork interface {
	Users() UserRepository
	RefreshTokens() TokenRepository
	VerificationTokens() TokenRepository
	Commit(ctx context.Context) (int64, error)
}

// UserRepository reads users and stages user writes.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Count(ctx context.Context) (int64, error)

	// Add stages an insert. user.ID is set once the commit succeeds.
	Add(user *User)

	// The setters below write only their own columns plus updated_at.
	// Each is conditional on the user not being soft-deleted.

	// SetCredentials stages a new email and password hash.
	SetCredentials(user *User, email, passwordHash string)

	// SetRole stages a role change.
	SetRole(user *User, role Role)

	// SoftDelete stages marking the user deleted at at.
	SoftDelete(user *User, at time.Time)
}

// TokenRepository reads tokens and stages token writes. Refresh and
// verification tokens each have their own repository.
type TokenRepository interface {
	// GetByValue looks a token up by its raw value and loads its owner.
	GetByValue(ctx context.Context, value string) (*Token, error)

	// ListInactive returns every token revoked or expired as of now.
	ListInactive(ctx context.Context, now time.Time) ([]*Token, error)

	// ListActiveByUser returns the user's unrevoked, unexpired tokens.
	ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]*Token, error)

	// Add stages an insert. When t.UserID is zero it is taken from t.User
	// at commit time, so a token can be staged alongside its new owner.
	Add(t *Token)

	// Revoke stages a revocation conditional on t still being active at at.
	Revoke(t *Token, at time.Time)

	// RevokeAllByUser stages revocation of whatever tokens of userID are
	// still active when the commit applies it. Matching none is not stale.
	RevokeAllByUser(userID int64, at time.Time)

	// Remove stages a hard delete.
	Remove(t *Token)
}

// HashToken returns the SHA-256 hex digest of a raw token value. Only the
// digest is stored.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// stagedWrite is one queued statement. It returns the rows it affected.
type stagedWrite[Tx any] func(ctx context.Context, tx Tx) (int64, error)

// writeQueue holds staged writes until they are applied in order, and the
// in-memory updates to run once they are committed.
type writeQueue[Tx any] struct {
	writes []stagedWrite[Tx]
	hooks  []func()

	// inserted maps users added in this commit to their new ids.
	inserted map[*User]int64
}

func (q *writeQueue[Tx]) stage(w stagedWrite[Tx]) {
	q.writes = append(q.writes, w)
}

func (q *writeQueue[Tx]) empty() bool {
	return len(q.writes) == 0
}

// afterCommit queues fn to run only if the current commit succeeds.
func (q *writeQueue[Tx]) afterCommit(fn func()) {
	q.hooks = append(q.hooks, fn)
}

// insertedUser records the id a staged user insert was given.
func (q *writeQueue[Tx]) insertedUser(u *User, id int64) {
	if q.inserted == nil {
		q.inserted = make(map[*User]int64)
	}
	q.inserted[u] = id
}

// ownerID resolves the user id a staged token insert should reference,
// including an owner inserted earlier in the same commit.
func (q *writeQueue[Tx]) ownerID(t *Token) int64 {
	if t.UserID != 0 || t.User == nil {
		return t.UserID
	}
	if id, ok := q.inserted[t.User]; ok {
		return id
	}
	return t.User.ID
}

// apply runs every staged write against tx and sums the affected rows.
// The writes are drained whether or not one fails; on failure the pending
// hooks are dropped too.
func (q *writeQueue[Tx]) apply(ctx context.Context, tx Tx) (int64, error) {
	writes := q.writes
	q.writes = nil

	var total int64
	for _, w := range writes {
		n, err := w(ctx, tx)
		if err != nil {
			q.discard()
			return 0, err
		}
		total += n
	}
	return total, nil
}

// committed runs the hooks of a successful commit and resets the queue.
func (q *writeQueue[Tx]) committed() {
	hooks := q.hooks
	q.discard()
	for _, fn := range hooks {
		fn()
	}
}

// discard drops everything staged without touching any entity.
func (q *writeQueue[Tx]) discard() {
	q.writes, q.hooks, q.inserted = nil, nil, nil
}
