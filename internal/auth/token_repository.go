package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenRepository defines the interface for API token persistence.
type TokenRepository interface {
	Create(ctx context.Context, owner string) (*Token, error)
	Store(ctx context.Context, raw, owner string) (*Token, error)
	List(ctx context.Context) ([]Token, error)
	Validate(ctx context.Context, raw string) (*Token, error)
	DeleteByPrefix(ctx context.Context, prefix string) error
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
	Count(ctx context.Context) (int, error)
}

// SQLiteTokenRepository implements TokenRepository using SQLite.
type SQLiteTokenRepository struct {
	db *sql.DB
}

// NewTokenRepository creates a new SQLite-backed token repository.
func NewTokenRepository(db *sql.DB) *SQLiteTokenRepository {
	return &SQLiteTokenRepository{db: db}
}

// MintToken returns a fresh raw token: a random UUID without dashes.
func MintToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HashToken computes the SHA-256 hash of a raw token string for storage.
// Raw tokens are never stored, only their hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// IsWellFormed reports whether raw has the shape of a minted token.
func IsWellFormed(raw string) bool {
	if len(raw) != RawTokenLength {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// Create mints a new token for owner and stores it. The returned Token
// carries the raw value; it cannot be recovered later.
func (r *SQLiteTokenRepository) Create(ctx context.Context, owner string) (*Token, error) {
	return r.Store(ctx, MintToken(), owner)
}

// Store persists a raw token that was minted elsewhere, such as the one
// handed to a cube during provisioning.
func (r *SQLiteTokenRepository) Store(ctx context.Context, raw, owner string) (*Token, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if !IsWellFormed(raw) {
		return nil, fmt.Errorf("%w: malformed", ErrTokenInvalid)
	}

	now := time.Now().UTC().Truncate(time.Second)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tokens (token_hash, prefix, owner, created_at) VALUES (?, ?, ?, ?)`,
		HashToken(raw), raw[:PrefixLength], owner, now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("creating token: %w", err)
	}

	return &Token{Prefix: raw[:PrefixLength], Owner: owner, CreatedAt: now, Raw: raw}, nil
}

// List returns every stored token, newest first, without raw values.
func (r *SQLiteTokenRepository) List(ctx context.Context) ([]Token, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT prefix, owner, created_at FROM tokens ORDER BY created_at DESC, prefix`)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()

	tokens := []Token{}
	for rows.Next() {
		var t Token
		var createdAt string
		if err := rows.Scan(&t.Prefix, &t.Owner, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning token: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tokens: %w", err)
	}
	return tokens, nil
}

// Validate looks up a raw token by its hash.
func (r *SQLiteTokenRepository) Validate(ctx context.Context, raw string) (*Token, error) {
	if !IsWellFormed(raw) {
		return nil, ErrTokenInvalid
	}

	var t Token
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT prefix, owner, created_at FROM tokens WHERE token_hash = ?`, HashToken(raw),
	).Scan(&t.Prefix, &t.Owner, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("validating token: %w", err)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &t, nil
}

// DeleteByPrefix removes the token identified by prefix.
func (r *SQLiteTokenRepository) DeleteByPrefix(ctx context.Context, prefix string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tokens WHERE prefix = ?", prefix)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteByOwner removes all tokens of owner and returns how many were removed.
// Used when a cube is deleted.
func (r *SQLiteTokenRepository) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tokens WHERE owner = ?", owner)
	if err != nil {
		return 0, fmt.Errorf("deleting tokens for owner: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// Count returns the number of stored tokens.
func (r *SQLiteTokenRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tokens").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tokens: %w", err)
	}
	return n, nil
}
