package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// UpsertUser creates or refreshes a user keyed by the platform subject.
// Existing rows get login_count+1 and a fresh last_seen.
func (s *Store) UpsertUser(ctx context.Context, subject, email string) (*gateway.User, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO users (id, email, active, login_count, first_seen, last_seen)
		 VALUES (?, ?, 1, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
		   login_count = users.login_count + 1,
		   last_seen = excluded.last_seen`,
		subject, email, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, subject)
}

// GetUser returns a user by platform subject.
func (s *Store) GetUser(ctx context.Context, id string) (*gateway.User, error) {
	var u gateway.User
	var active int
	var first, last string
	err := s.read.QueryRowContext(ctx,
		`SELECT id, email, active, login_count, first_seen, last_seen FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &active, &u.LoginCount, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateway.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	if t, e := time.Parse(time.RFC3339, first); e == nil {
		u.FirstSeen = t
	}
	if t, e := time.Parse(time.RFC3339, last); e == nil {
		u.LastSeen = t
	}
	return &u, nil
}

// CountUsers returns the total number of user rows.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
