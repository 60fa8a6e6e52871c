// Package lock provides schema-scoped mutual exclusion on top of
// PostgreSQL advisory locks. Locks are session scoped: a crashed process
// never leaves a lock behind, the database releases it when the session
// ends. Acquisition is strictly non-blocking; callers surface contention
// as a "migration in progress, try again" condition instead of queueing.
package lock

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// MigrationSeedPrefix scopes migration lock keys to one schema name, so
// unrelated schemas never contend.
const MigrationSeedPrefix = "schema-migration:"

// KeyFor hashes an arbitrary seed string into the advisory lock key space.
// The sign bit is cleared so the key is stable across bigint encodings.
func KeyFor(seed string) int64 {
	v := xxhash.Sum64String(seed) & 0x7FFFFFFFFFFFFFFF
	return int64(v)
}

// MigrationKey is the lock key guarding structural mutation of one schema.
func MigrationKey(schemaName string) int64 {
	return KeyFor(MigrationSeedPrefix + schemaName)
}

// TryAcquire attempts a non-blocking advisory lock on a dedicated
// connection. The lock is tied to that connection's session; keep the
// connection open until Release.
func TryAcquire(ctx context.Context, conn *sql.Conn, key int64) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("lock connection is nil")
	}
	var acquired bool
	err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("try advisory lock %d: %w", key, err)
	}
	return acquired, nil
}

// Release drops the advisory lock. Releasing a lock that is not held is a
// no-op; pg_advisory_unlock just reports false.
func Release(ctx context.Context, conn *sql.Conn, key int64) error {
	if conn == nil {
		return nil
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
		return fmt.Errorf("release advisory lock %d: %w", key, err)
	}
	return nil
}
