// Package store provides persistence for larder's users, passkeys, sessions,
// ceremony challenges, access grants and inventory documents.
//
// # Architecture
//
// Each concern is its own interface so implementations can be mixed:
//
//   - CredentialStore: users and their WebAuthn credentials
//   - AccessStore: per-document owner and member grants
//   - DocumentRepo: the document collaborator (create, read, mutate)
//   - SessionStore: sliding-expiry browser sessions
//   - ChallengeStore: single-use ceremony challenges
//
// Store bundles the durable interfaces. SQLiteStore implements it on
// modernc.org/sqlite; MemoryStore implements it in process memory.
// CachedCredentialStore wraps any Store with an LRU of users.
//
// Sessions and challenges are ephemeral. MemorySessionStore and
// MemoryChallengeStore serve a single process; RedisSessionStore and
// RedisChallengeStore let several processes share ceremony and session state.
//
// # Derived indexes
//
// The grant record is the source of truth. The per-user document index
// (SQLite: indexed owner_id and grant_members.user_id columns; memory: the
// byUser map) and the credential-to-user index are kept in step with it in
// the same transaction or critical section.
//
// # Error Handling
//
//   - ErrNotFound: entity missing, session expired, or challenge spent
//   - ErrInvalidName: user name empty after trimming
//   - ErrCredentialConflict: credential id bound to a different user
//   - ErrGrantExists: document already has a grant
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMemoryStore() for unit tests and NewSQLiteStore(t.TempDir()+"/x.db")
// for integration tests with real SQLite. Redis stores are tested against
// miniredis.
package store
