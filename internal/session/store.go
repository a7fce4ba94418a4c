package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cartie/cartie/internal/db"
)

// DBStore keeps sessions in bot_sessions. Updates are last-writer-wins.
type DBStore struct {
	db  db.DBTX
	now func() time.Time
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn, now: time.Now}
}

const selectSessionSQL = `SELECT id, bot_id, chat_id, state, variables, last_active
FROM bot_sessions WHERE bot_id = $1 AND chat_id = $2`

func (s *DBStore) Get(ctx context.Context, botID, chatID string) (Session, error) {
	pgBotID, err := db.ParseUUID(botID)
	if err != nil {
		return Session{}, err
	}
	row := s.db.QueryRow(ctx, selectSessionSQL, pgBotID, strings.TrimSpace(chatID))
	sess, err := scanSession(row)
	if err != nil {
		if db.IsNoRows(err) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *DBStore) Create(ctx context.Context, botID, chatID string) (Session, bool, error) {
	pgBotID, err := db.ParseUUID(botID)
	if err != nil {
		return Session{}, false, err
	}
	chatID = strings.TrimSpace(chatID)
	row := s.db.QueryRow(ctx,
		`INSERT INTO bot_sessions (id, bot_id, chat_id, state, variables, last_active)
		 VALUES ($1, $2, $3, $4, '{}'::jsonb, $5)
		 ON CONFLICT (bot_id, chat_id) DO NOTHING
		 RETURNING id, bot_id, chat_id, state, variables, last_active`,
		db.OptionalUUID(db.NewID()), pgBotID, chatID, StateStart, s.now(),
	)
	sess, err := scanSession(row)
	if err == nil {
		return sess, true, nil
	}
	if !db.IsNoRows(err) {
		return Session{}, false, fmt.Errorf("create session: %w", err)
	}
	existing, err := s.Get(ctx, botID, chatID)
	if err != nil {
		return Session{}, false, err
	}
	return existing, false, nil
}

func (s *DBStore) Update(ctx context.Context, sess Session) (Session, error) {
	pgID, err := db.ParseUUID(sess.ID)
	if err != nil {
		return Session{}, err
	}
	vars, err := json.Marshal(sess.Variables)
	if err != nil {
		return Session{}, fmt.Errorf("marshal session variables: %w", err)
	}
	sess.LastActive = s.now()
	_, err = s.db.Exec(ctx,
		`UPDATE bot_sessions SET state = $2, variables = $3, last_active = $4 WHERE id = $1`,
		pgID, sess.State, vars, sess.LastActive,
	)
	if err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		id         pgtype.UUID
		botID      pgtype.UUID
		sess       Session
		vars       []byte
		lastActive pgtype.Timestamptz
	)
	if err := row.Scan(&id, &botID, &sess.ChatID, &sess.State, &vars, &lastActive); err != nil {
		return Session{}, err
	}
	sess.ID = db.UUIDString(id)
	sess.BotID = db.UUIDString(botID)
	if lastActive.Valid {
		sess.LastActive = lastActive.Time
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &sess.Variables); err != nil {
			return Session{}, fmt.Errorf("decode session variables: %w", err)
		}
	}
	return sess, nil
}
