package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meetsync/internal/model"
	"meetsync/internal/retry"
	logx "meetsync/pkg/logx"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.Component("storage.sqlite"))}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Meetings() MeetingRepository           { return sqlMeetings{s.db} }
func (s *sqliteStore) Responses() ResponseRepository         { return sqlResponses{s.db} }
func (s *sqliteStore) Notifications() NotificationRepository { return sqlNotifications{s.db} }

type sqlMeetings struct{ db *sql.DB }

func (r sqlMeetings) Create(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	m = m.Clone()
	m.Participants = model.DedupParticipants(m.Participants)
	m.Version = 1
	doc, err := json.Marshal(m)
	if err != nil {
		return model.Meeting{}, classify(err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO meetings(id, organization_id, status, version, created_at, doc) VALUES(?,?,?,?,?,?)`,
		m.ID, m.OrganizationID, string(m.Status), m.Version, m.CreatedAt.UnixNano(), string(doc),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Meeting{}, ErrExists
		}
		return model.Meeting{}, classify(err)
	}
	return m, nil
}

func (r sqlMeetings) Get(ctx context.Context, id string) (model.Meeting, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, `SELECT doc FROM meetings WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Meeting{}, model.ErrNotFound
	}
	if err != nil {
		return model.Meeting{}, classify(err)
	}
	return decodeMeeting(doc)
}

func (r sqlMeetings) Update(ctx context.Context, m model.Meeting, expectedVersion int64) (model.Meeting, error) {
	m = m.Clone()
	m.Participants = model.DedupParticipants(m.Participants)
	m.Version = expectedVersion + 1
	doc, err := json.Marshal(m)
	if err != nil {
		return model.Meeting{}, classify(err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE meetings SET organization_id = ?, status = ?, version = ?, doc = ? WHERE id = ? AND version = ?`,
		m.OrganizationID, string(m.Status), m.Version, string(doc), m.ID, expectedVersion,
	)
	if err != nil {
		return model.Meeting{}, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Meeting{}, classify(err)
	}
	if n == 0 {
		var v int64
		err := r.db.QueryRowContext(ctx, `SELECT version FROM meetings WHERE id = ?`, m.ID).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Meeting{}, model.ErrNotFound
		}
		if err != nil {
			return model.Meeting{}, classify(err)
		}
		return model.Meeting{}, ErrConflict
	}
	return m, nil
}

func (r sqlMeetings) query(ctx context.Context, where string, args ...any) ([]model.Meeting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT doc FROM meetings WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Meeting, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, classify(err)
		}
		m, err := decodeMeeting(doc)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, m)
	}
	return out, classify(rows.Err())
}

func (r sqlMeetings) ListByOrganization(ctx context.Context, organizationID string) ([]model.Meeting, error) {
	return r.query(ctx, `organization_id = ?`, organizationID)
}

func (r sqlMeetings) ListByIDs(ctx context.Context, ids []string) ([]model.Meeting, error) {
	if len(ids) == 0 {
		return []model.Meeting{}, nil
	}
	ph, args := inList(ids)
	return r.query(ctx, `id IN (`+ph+`)`, args...)
}

func (r sqlMeetings) ListByStatus(ctx context.Context, statuses ...model.MeetingStatus) ([]model.Meeting, error) {
	if len(statuses) == 0 {
		return []model.Meeting{}, nil
	}
	ss := make([]string, len(statuses))
	for i, st := range statuses {
		ss[i] = string(st)
	}
	ph, args := inList(ss)
	return r.query(ctx, `status IN (`+ph+`)`, args...)
}

func decodeMeeting(doc string) (model.Meeting, error) {
	var m model.Meeting
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return model.Meeting{}, fmt.Errorf("decode meeting: %w", err)
	}
	return m, nil
}

type sqlResponses struct{ db *sql.DB }

func (r sqlResponses) Upsert(ctx context.Context, resp model.Response) (model.Response, error) {
	resp = cloneResponse(resp)
	resp.ParticipantEmail = model.NormalizeEmail(resp.ParticipantEmail)

	// Preserve the original CreatedAt of an existing row.
	prev, err := r.GetByParticipant(ctx, resp.MeetingID, resp.ParticipantEmail)
	switch {
	case err == nil:
		if !prev.CreatedAt.IsZero() {
			resp.CreatedAt = prev.CreatedAt
		}
	case !errors.Is(err, model.ErrNotFound):
		return model.Response{}, classify(err)
	}

	doc, err := json.Marshal(resp)
	if err != nil {
		return model.Response{}, classify(err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO responses(meeting_id, participant_email, created_at, doc) VALUES(?,?,?,?)
		 ON CONFLICT(meeting_id, participant_email) DO UPDATE SET doc = excluded.doc`,
		resp.MeetingID, resp.ParticipantEmail, resp.CreatedAt.UnixNano(), string(doc),
	)
	if err != nil {
		return model.Response{}, classify(err)
	}
	return resp, nil
}

func (r sqlResponses) ListByMeeting(ctx context.Context, meetingID string) ([]model.Response, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM responses WHERE meeting_id = ? ORDER BY created_at, participant_email`, meetingID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Response, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, classify(err)
		}
		var resp model.Response
		if err := json.Unmarshal([]byte(doc), &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		out = append(out, resp)
	}
	return out, classify(rows.Err())
}

func (r sqlResponses) GetByParticipant(ctx context.Context, meetingID, email string) (model.Response, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM responses WHERE meeting_id = ? AND participant_email = ?`,
		meetingID, model.NormalizeEmail(email),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Response{}, model.ErrNotFound
	}
	if err != nil {
		return model.Response{}, classify(err)
	}
	var resp model.Response
	if err := json.Unmarshal([]byte(doc), &resp); err != nil {
		return model.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

type sqlNotifications struct{ db *sql.DB }

func (r sqlNotifications) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	n.RecipientEmail = model.NormalizeEmail(n.RecipientEmail)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notifications(id, recipient_email, meeting_id, kind, title, message, is_read, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientEmail, n.MeetingID, string(n.Kind), n.Title, n.Message, boolInt(n.IsRead), n.CreatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Notification{}, ErrExists
		}
		return model.Notification{}, classify(err)
	}
	return n, nil
}

func (r sqlNotifications) ListByRecipient(ctx context.Context, email string, limit int) ([]model.Notification, error) {
	q := `SELECT id, recipient_email, meeting_id, kind, title, message, is_read, created_at
	      FROM notifications WHERE recipient_email = ? ORDER BY created_at DESC, rowid DESC`
	args := []any{model.NormalizeEmail(email)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := make([]model.Notification, 0)
	for rows.Next() {
		var (
			n      model.Notification
			kind   string
			isRead int
			at     int64
		)
		if err := rows.Scan(&n.ID, &n.RecipientEmail, &n.MeetingID, &kind, &n.Title, &n.Message, &isRead, &at); err != nil {
			return nil, classify(err)
		}
		n.Kind = model.NotificationKind(kind)
		n.IsRead = isRead != 0
		n.CreatedAt = time.Unix(0, at).UTC()
		out = append(out, n)
	}
	return out, classify(rows.Err())
}

func (r sqlNotifications) MarkRead(ctx context.Context, email, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND recipient_email = ?`,
		id, model.NormalizeEmail(email))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r sqlNotifications) MarkAllRead(ctx context.Context, email string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE recipient_email = ? AND is_read = 0`,
		model.NormalizeEmail(email))
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	return int(n), classify(err)
}

func inList(vals []string) (string, []any) {
	ph := strings.TrimSuffix(strings.Repeat("?,", len(vals)), ",")
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return ph, args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

// classify marks lock contention as transient so callers may retry it.
// Extended result codes keep the primary code in the low byte.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return retry.Transient(err)
	}
	return err
}
