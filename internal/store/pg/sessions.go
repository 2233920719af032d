package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gatehouse.org/internal/session"
)

var _ session.Store = (*SessionStore)(nil)

// SessionStore persists sessions in the sessions table.
type SessionStore struct {
	db *sql.DB
}

// Sessions returns the session store sharing s's connection pool.
func (s *Store) Sessions() *SessionStore { return &SessionStore{db: s.db} }

const sessionColumns = `id, user_id, refresh_token, expires_at, created_at, last_activity_at, ip_address, user_agent`

func (s *SessionStore) Create(ctx context.Context, sess session.Session) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sess.ID, sess.UserID, sess.RefreshToken, sess.ExpiresAt.UTC(), sess.CreatedAt.UTC(), sess.LastActivityAt.UTC(),
		nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent))
	if err != nil {
		switch {
		case isCode(err, pgErrForeignKeyViolation):
			return fmt.Errorf("unknown user %s: %w", sess.UserID, err)
		case isCode(err, pgErrUniqueViolation):
			return fmt.Errorf("duplicate session %s: %w", sess.ID, err)
		}
		return err
	}
	return nil
}

func (s *SessionStore) FindByID(ctx context.Context, id string) (session.Session, error) {
	return s.findOne(ctx, `where id = $1`, id)
}

func (s *SessionStore) FindByToken(ctx context.Context, token string) (session.Session, error) {
	return s.findOne(ctx, `where refresh_token = $1`, token)
}

func (s *SessionStore) findOne(ctx context.Context, where string, arg any) (session.Session, error) {
	if s.db == nil {
		return session.Session{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions `+where, arg)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrSessionNotFound
	}
	return sess, err
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]session.Session, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SessionStore) Update(ctx context.Context, sess session.Session) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set refresh_token = $2, expires_at = $3, last_activity_at = $4, ip_address = $5, user_agent = $6
		where id = $1
	`, sess.ID, sess.RefreshToken, sess.ExpiresAt.UTC(), sess.LastActivityAt.UTC(),
		nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent))
	if err != nil {
		return err
	}
	return affectedOne(res, session.ErrSessionNotFound)
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, session.ErrSessionNotFound)
}

func (s *SessionStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.Session, error) {
	var (
		sess      session.Session
		ip, agent sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshToken, &sess.ExpiresAt, &sess.CreatedAt,
		&sess.LastActivityAt, &ip, &agent); err != nil {
		return session.Session{}, err
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActivityAt = sess.LastActivityAt.UTC()
	sess.IPAddress = ip.String
	sess.UserAgent = agent.String
	return sess, nil
}
