package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore keeps each ride and user as a JSON document next to the
// columns used for filtering. Mutations lock the row and bump a version
// column so a lost update is detected even outside the lock.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	r.Version = 1
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode ride: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO rides(id, creator, status, communities, members, doc, version, created_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.ID, r.Creator, string(r.Status), pq.Array(community.Strings(r.Communities)), pq.Array(r.Members()), doc, r.Version, r.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "ride %s already exists", r.ID)
	}
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var doc []byte
	var version int64
	err := p.db.QueryRowContext(ctx, `SELECT doc, version FROM rides WHERE id=$1`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rideNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRide(doc, version)
}

func (p *PostgresStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if len(f.Communities) > 0 {
		args = append(args, pq.Array(f.Communities))
		where = append(where, fmt.Sprintf("communities && $%d", len(args)))
	}
	if f.Member != "" {
		args = append(args, f.Member)
		where = append(where, fmt.Sprintf("$%d = ANY(members)", len(args)))
	}
	q := `SELECT doc, version FROM rides`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		r, err := decodeRide(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	var out *models.Ride
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		var version int64
		err := tx.QueryRowContext(ctx, `SELECT doc, version FROM rides WHERE id=$1 FOR UPDATE`, id).Scan(&doc, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return rideNotFound(id)
		}
		if err != nil {
			return err
		}
		r, err := decodeRide(doc, version)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		r.ID = id
		r.Version = version + 1
		next, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode ride: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE rides SET status=$1, communities=$2, members=$3, doc=$4, version=$5 WHERE id=$6 AND version=$7`,
			string(r.Status), pq.Array(community.Strings(r.Communities)), pq.Array(r.Members()), next, r.Version, id, version)
		if err != nil {
			return err
		}
		if err := expectOneRow(res, "ride", id); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) DeleteRide(ctx context.Context, id string, fn func(*models.Ride) error) error {
	return p.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		var version int64
		err := tx.QueryRowContext(ctx, `SELECT doc, version FROM rides WHERE id=$1 FOR UPDATE`, id).Scan(&doc, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return rideNotFound(id)
		}
		if err != nil {
			return err
		}
		if fn != nil {
			r, err := decodeRide(doc, version)
			if err != nil {
				return err
			}
			if err := fn(r); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM rides WHERE id=$1 AND version=$2`, id, version)
		if err != nil {
			return err
		}
		return expectOneRow(res, "ride", id)
	})
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	u.Version = 1
	doc, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO users(email, doc, version) VALUES($1,$2,$3)`, u.Email, doc, u.Version)
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "user %s already exists", u.Email)
	}
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, email string) (*models.User, error) {
	var doc []byte
	var version int64
	err := p.db.QueryRowContext(ctx, `SELECT doc, version FROM users WHERE email=$1`, email).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, userNotFound(email)
	}
	if err != nil {
		return nil, err
	}
	return decodeUser(doc, version)
}

func (p *PostgresStore) UpdateUser(ctx context.Context, email string, fn func(*models.User) error) (*models.User, error) {
	var out *models.User
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		var version int64
		err := tx.QueryRowContext(ctx, `SELECT doc, version FROM users WHERE email=$1 FOR UPDATE`, email).Scan(&doc, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return userNotFound(email)
		}
		if err != nil {
			return err
		}
		u, err := decodeUser(doc, version)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		u.Email = email
		u.Version = version + 1
		next, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE users SET doc=$1, version=$2 WHERE email=$3 AND version=$4`, next, u.Version, email, version)
		if err != nil {
			return err
		}
		if err := expectOneRow(res, "user", email); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) DeleteUser(ctx context.Context, email string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE email=$1`, email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return userNotFound(email)
	}
	return nil
}

func (p *PostgresStore) Claim(ctx context.Context, key RatingKey) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rating_keys(ride_id, rater, ratee, role) VALUES($1,$2,$3,$4)`,
		key.RideID, key.Rater, key.Ratee, string(key.Role))
	if isUniqueViolation(err) {
		return apperr.New(apperr.KindConflict, "%s already rated %s as %s on ride %s", key.Rater, key.Ratee, key.Role, key.RideID)
	}
	return err
}

func (p *PostgresStore) Release(ctx context.Context, key RatingKey) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM rating_keys WHERE ride_id=$1 AND rater=$2 AND ratee=$3 AND role=$4`,
		key.RideID, key.Rater, key.Ratee, string(key.Role))
	return err
}

func (p *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return apperr.New(apperr.KindConflict, "%s %s was modified concurrently", what, id)
	}
	return nil
}

func decodeRide(doc []byte, version int64) (*models.Ride, error) {
	var r models.Ride
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode ride: %w", err)
	}
	r.Version = version
	return &r, nil
}

func decodeUser(doc []byte, version int64) (*models.User, error) {
	var u models.User
	if err := json.Unmarshal(doc, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	u.Version = version
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
