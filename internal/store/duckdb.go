// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
)

const duckdbBackend = "duckdb"

// DuckDBConfig configures NewDuckDBStore.
type DuckDBConfig struct {
	// Path of the database file; empty opens an in-memory database.
	Path      string
	MaxMemory string
	Threads   int
}

// DuckDBStore is a Store persisted in DuckDB.
type DuckDBStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewDuckDBStore opens the database, applies the schema and verifies the
// connection.
func NewDuckDBStore(ctx context.Context, cfg DuckDBConfig) (*DuckDBStore, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "512MB"
	}
	dsn := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s", cfg.Path, threads, maxMemory)

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, models.Unavailable("open duckdb", err)
	}
	db.SetMaxOpenConns(runtime.NumCPU())
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, models.Unavailable("ping duckdb", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	logging.Info().Str("path", path).Int("threads", threads).Msg("Message store opened (duckdb)")

	return &DuckDBStore{db: db, now: time.Now}, nil
}

// isConstraintViolation matches DuckDB's unique/primary key errors.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Constraint Error") || strings.Contains(msg, "violates primary key") ||
		strings.Contains(msg, "violates unique constraint") || strings.Contains(msg, "Duplicate key")
}

func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") || strings.Contains(msg, "Conflict on update")
}

// storageErr keeps context cancellation distinguishable from an unreachable
// backend.
func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return models.Unavailable(op, err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m                   models.Message
		key, sender, recv   string
		seq                 int64
		state               int8
		delivered, readTime sql.NullTime
	)
	if err := row.Scan(&key, &seq, &m.MessageID, &sender, &recv, &m.Content, &m.CreatedAt, &state, &delivered, &readTime); err != nil {
		return nil, err
	}
	m.ConversationKey = models.ConversationKey(key)
	m.SequenceNumber = uint64(seq)
	m.SenderID = models.UserID(sender)
	m.ReceiverID = models.UserID(recv)
	m.CreatedAt = m.CreatedAt.UTC()
	m.DeliveryState = models.DeliveryState(state)
	if delivered.Valid {
		t := delivered.Time.UTC()
		m.DeliveredAt = &t
	}
	if readTime.Valid {
		t := readTime.Time.UTC()
		m.ReadAt = &t
	}
	return &m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *DuckDBStore) findByID(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, key models.ConversationKey, messageID string) (*models.Message, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_key = ? AND message_id = ?`,
		string(key), messageID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *DuckDBStore) Append(ctx context.Context, key models.ConversationKey, msg *models.Message) (stored *models.Message, duplicate bool, err error) {
	defer observe(duckdbBackend, "append", time.Now(), &err)

	if err := validateAppend(key, msg); err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storageErr("append: begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	existing, err := s.findByID(ctx, tx, key, msg.MessageID)
	if err != nil {
		return nil, false, storageErr("append: find duplicate", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT next_sequence FROM conversations WHERE conversation_key = ?`, string(key)).Scan(&next)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		next = 1
		a, b := key.Participants()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (conversation_key, user_a, user_b, next_sequence) VALUES (?, ?, ?, 1)`,
			string(key), string(a), string(b)); err != nil {
			return nil, false, storageErr("append: create conversation", err)
		}
	case err != nil:
		return nil, false, storageErr("append: read counter", err)
	}

	if msg.SequenceNumber != uint64(next) {
		return nil, false, conflict(key, msg.SequenceNumber, uint64(next))
	}

	m := msg.Clone()
	m.CreatedAt = m.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(key), int64(m.SequenceNumber), m.MessageID, string(m.SenderID), string(m.ReceiverID),
		m.Content, m.CreatedAt, int8(m.DeliveryState), nullTime(m.DeliveredAt), nullTime(m.ReadAt)); err != nil {
		if isConstraintViolation(err) {
			return nil, false, conflict(key, msg.SequenceNumber, uint64(next))
		}
		return nil, false, storageErr("append: insert message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET next_sequence = ?, last_message_at = ? WHERE conversation_key = ?`,
		next+1, m.CreatedAt, string(key)); err != nil {
		return nil, false, storageErr("append: advance counter", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, storageErr("append: commit", err)
	}
	committed = true
	return m, false, nil
}

func (s *DuckDBStore) GetSince(ctx context.Context, key models.ConversationKey, after uint64, limit int) (out []*models.Message, err error) {
	defer observe(duckdbBackend, "get_since", time.Now(), &err)

	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE conversation_key = ? AND sequence_number > ?
		ORDER BY sequence_number ASC`
	args := []interface{}{string(key), int64(after)}
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("get since", err)
	}
	defer rows.Close()

	out = make([]*models.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("get since: scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get since: rows", err)
	}
	return out, nil
}

func (s *DuckDBStore) Get(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, err error) {
	defer observe(duckdbBackend, "get", time.Now(), &err)

	m, err := s.findByID(ctx, s.db, key, messageID)
	if err != nil {
		return nil, storageErr("get", err)
	}
	if m == nil {
		return nil, models.ErrMessageNotFound
	}
	return m, nil
}

func (s *DuckDBStore) MarkDelivered(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, changed bool, err error) {
	defer observe(duckdbBackend, "mark_delivered", time.Now(), &err)
	return s.advance(ctx, key, messageID, models.StateDelivered)
}

func (s *DuckDBStore) MarkRead(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, changed bool, err error) {
	defer observe(duckdbBackend, "mark_read", time.Now(), &err)
	return s.advance(ctx, key, messageID, models.StateRead)
}

// advance reads, transitions in memory with models.Message.Advance and writes
// back only when the state moved. The UPDATE is guarded on the old state so
// a concurrent transition is never overwritten with an older one.
func (s *DuckDBStore) advance(ctx context.Context, key models.ConversationKey, messageID string, target models.DeliveryState) (*models.Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, storageErr("mark: begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	m, err := s.findByID(ctx, tx, key, messageID)
	if err != nil {
		return nil, false, storageErr("mark: find", err)
	}
	if m == nil {
		return nil, false, models.ErrMessageNotFound
	}

	prev := m.DeliveryState
	if !m.Advance(target, s.now()) {
		return m, false, nil
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET delivery_state = ?, delivered_at = ?, read_at = ?
		 WHERE conversation_key = ? AND message_id = ? AND delivery_state = ?`,
		int8(m.DeliveryState), nullTime(m.DeliveredAt), nullTime(m.ReadAt),
		string(key), messageID, int8(prev))
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if !isTransactionConflict(err) {
			return nil, false, storageErr("mark: update", err)
		}
		// another transition won; report its result
		cur, rerr := s.findByID(ctx, s.db, key, messageID)
		if rerr != nil || cur == nil {
			return nil, false, storageErr("mark: reread", errors.Join(err, rerr))
		}
		return cur, false, nil
	}
	committed = true
	return m, true, nil
}

func (s *DuckDBStore) LastSequence(ctx context.Context, key models.ConversationKey) (seq uint64, err error) {
	defer observe(duckdbBackend, "last_sequence", time.Now(), &err)

	var next int64
	err = s.db.QueryRowContext(ctx,
		`SELECT next_sequence FROM conversations WHERE conversation_key = ?`, string(key)).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("last sequence", err)
	}
	return models.Conversation{NextSequence: uint64(next)}.LastSequence(), nil
}

func (s *DuckDBStore) Conversations(ctx context.Context, userID models.UserID) (out []models.Conversation, err error) {
	defer observe(duckdbBackend, "conversations", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_key, next_sequence, last_message_at FROM conversations
		 WHERE (user_a = ? OR user_b = ?) AND next_sequence > 1
		 ORDER BY last_message_at DESC, conversation_key ASC`,
		string(userID), string(userID))
	if err != nil {
		return nil, storageErr("conversations", err)
	}
	defer rows.Close()

	out = make([]models.Conversation, 0)
	for rows.Next() {
		var (
			key  string
			next int64
			last sql.NullTime
		)
		if err := rows.Scan(&key, &next, &last); err != nil {
			return nil, storageErr("conversations: scan", err)
		}
		c := models.Conversation{Key: models.ConversationKey(key), NextSequence: uint64(next)}
		if last.Valid {
			c.LastMessageAt = last.Time.UTC()
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("conversations: rows", err)
	}
	return out, nil
}

func (s *DuckDBStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

var _ Store = (*DuckDBStore)(nil)
