// Package auth authenticates users and manages the lifetime of the
// credentials that authorise their requests.
//
// It provides:
//   - Argon2id password hashing (Hasher)
//   - HS256 access tokens plus opaque refresh and verification tokens (Issuer)
//   - Login, rotating refresh, logout, registration and email verification
//     orchestrated over a unit of work (Service)
//   - Periodic removal of revoked and expired tokens (Reaper)
//   - A static role-permission mapping (compile-time, no database lookup)
//
// Token values never reach the database; only their SHA-256 digest is
// stored. Writes are staged on a UnitOfWork and applied in one transaction,
// so no connection is held while a password is being hashed. Refresh-token
// rotation is a conditional revoke paired with the insert of its
// replacement: of two concurrent refreshes of the same token exactly one
// commits.
package auth
