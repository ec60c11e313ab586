package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/tessera/internal/database"
	"github.com/BradenHooton/tessera/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository stores users in PostgreSQL. Session hashes live in a text[]
// column and are changed with single UPDATE statements, so concurrent
// session writes for one user never lose each other.
type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.id, u.method_name, u.method_value, u.name,
	COALESCE(u.email, ''), COALESCE(u.picture, ''), COALESCE(u.username, ''), COALESCE(u.bio, ''),
	u.session_tokens, COALESCE(u.payment_customer_id, ''), u.created_at, u.updated_at`

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var id uuid.UUID

	err := scanner.Scan(
		&id, &user.MethodName, &user.MethodValue, &user.Name,
		&user.Email, &user.Picture, &user.Username, &user.Bio,
		&user.SessionTokens, &user.PaymentCustomerID, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	user.ID = id.String()
	if user.SessionTokens == nil {
		user.SessionTokens = []string{}
	}
	return &user, nil
}

// parseID rejects ids that cannot exist so they never reach the database as
// a cast error.
func parseID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, models.ErrNotFound
	}
	return parsed, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, uid))
}

func (r *UserRepository) GetByIdentity(ctx context.Context, methodName, methodValue string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM identities i
		JOIN users u ON u.id = i.user_id
		WHERE i.identity_key = $1
	`
	return scanUserRow(r.db.Pool.QueryRow(ctx, query, models.IdentityKey(methodName, methodValue)))
}

// Create inserts the user and its identity index row in one transaction.
// ErrConflict means the identity is already registered.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	uid, err := uuid.Parse(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid user id", models.ErrBadRequest)
	}

	tokens := user.SessionTokens
	if tokens == nil {
		tokens = []string{}
	}
	now := time.Now().UTC()

	var created *models.User
	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO users (id, method_name, method_value, name, email, picture, username, bio,
				session_tokens, payment_customer_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		`,
			uid, user.MethodName, user.MethodValue, user.Name,
			nullable(user.Email), nullable(user.Picture), nullable(user.Username), nullable(user.Bio),
			tokens, nullable(user.PaymentCustomerID), now,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}

		_, err = tx.Exec(ctx, `INSERT INTO identities (identity_key, user_id) VALUES ($1, $2)`,
			user.IdentityKey(), uid)
		if err != nil {
			return database.MapPostgresError(err)
		}

		created, err = scanUserRow(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users u WHERE u.id = $1`, uid))
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// Delete removes the user; identity rows go with it through ON DELETE CASCADE.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, uid)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) updateSessions(ctx context.Context, id, setClause string, arg any) error {
	uid, err := parseID(id)
	if err != nil {
		return err
	}

	query := `UPDATE users SET session_tokens = ` + setClause + `, updated_at = now() WHERE id = $1`
	result, err := r.db.Pool.Exec(ctx, query, uid, arg)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AddSessionToken adds hash to the session set if it is not already present.
func (r *UserRepository) AddSessionToken(ctx context.Context, userID, hash string) error {
	return r.updateSessions(ctx, userID,
		`CASE WHEN $2::text = ANY(session_tokens) THEN session_tokens ELSE array_append(session_tokens, $2::text) END`,
		hash)
}

// RemoveSessionToken removes hash from the session set.
func (r *UserRepository) RemoveSessionToken(ctx context.Context, userID, hash string) error {
	return r.updateSessions(ctx, userID, `array_remove(session_tokens, $2::text)`, hash)
}

// SetSessionTokens replaces the whole session set.
func (r *UserRepository) SetSessionTokens(ctx context.Context, userID string, hashes []string) error {
	if hashes == nil {
		hashes = []string{}
	}
	return r.updateSessions(ctx, userID, `$2::text[]`, hashes)
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// LinkIdentity adds an identity row for an existing user. The INSERT selects
// from users so a missing user inserts nothing instead of tripping the
// foreign key.
func (r *UserRepository) LinkIdentity(ctx context.Context, userID string, ident *models.Identity) error {
	uid, err := parseID(userID)
	if err != nil {
		return err
	}

	result, err := r.db.Pool.Exec(ctx, `
		INSERT INTO identities (identity_key, user_id)
		SELECT $1, u.id FROM users u WHERE u.id = $2
	`, ident.Key(), uid)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ListAPIKeys(ctx context.Context, userID string) ([]models.APIKey, error) {
	uid, err := parseID(userID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, key_hash, hint, scopes, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at, id
	`, uid)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		var key models.APIKey
		var id uuid.UUID
		if err := rows.Scan(&id, &key.Name, &key.KeyHash, &key.Hint, &key.Scopes, &key.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		key.ID = id.String()
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return keys, nil
}

// AddAPIKey stores key for userID. key.ID and key.CreatedAt are filled in
// when empty.
func (r *UserRepository) AddAPIKey(ctx context.Context, userID string, key *models.APIKey) error {
	uid, err := parseID(userID)
	if err != nil {
		return err
	}
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	kid, err := uuid.Parse(key.ID)
	if err != nil {
		return fmt.Errorf("%w: invalid key id", models.ErrBadRequest)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	scopes := key.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	result, err := r.db.Pool.Exec(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, hint, scopes, created_at)
		SELECT $1, u.id, $3, $4, $5, $6, $7 FROM users u WHERE u.id = $2
	`, kid, uid, key.Name, key.KeyHash, key.Hint, scopes, key.CreatedAt)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) RemoveAPIKey(ctx context.Context, userID, keyID string) error {
	uid, err := parseID(userID)
	if err != nil {
		return err
	}
	kid, err := parseID(keyID)
	if err != nil {
		return err
	}

	result, err := r.db.Pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, kid, uid)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
