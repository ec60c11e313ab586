package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/tessera/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into model sentinels. Anything
// that means the database could not be reached becomes ErrStorageUnavailable.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return models.ErrConflict
		case pgErr.Code == "23503", pgErr.Code == "23502": // foreign_key_violation, not_null_violation
			return models.ErrBadRequest
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			// connection exception, insufficient resources, operator intervention
			return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}

	return err
}

func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return MapPostgresError(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = MapPostgresError(tx.Commit(ctx))
		}
	}()

	err = fn(tx)
	return err
}
