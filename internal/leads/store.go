package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/cartie/cartie/internal/db"
)

// DBStore keeps leads, lead activities and requests in Postgres.
type DBStore struct {
	db db.DBTX
}

func NewDBStore(conn db.DBTX) *DBStore {
	return &DBStore{db: conn}
}

const leadColumns = `id, company_id, bot_id, lead_code, client_name, phone, user_tg_id, request, status, source, payload, created_at`

func (s *DBStore) FindLatest(ctx context.Context, m Match) (Lead, bool, error) {
	pgBotID, err := db.ParseUUID(m.BotID)
	if err != nil {
		return Lead{}, false, err
	}
	var (
		where = []string{"bot_id = $1"}
		args  = []any{pgBotID}
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, clause+" $"+strconv.Itoa(len(args)))
	}
	if m.Phone != "" {
		add("phone =", m.Phone)
	}
	if m.UserTgID != "" {
		add("user_tg_id =", m.UserTgID)
	}
	if m.Name != "" {
		add("client_name =", m.Name)
	}
	if !m.Since.IsZero() {
		add("created_at >=", m.Since)
	}
	query := `SELECT ` + leadColumns + ` FROM leads WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC LIMIT 1`
	lead, err := scanLead(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if db.IsNoRows(err) {
			return Lead{}, false, nil
		}
		return Lead{}, false, err
	}
	return lead, true, nil
}

func (s *DBStore) CreateLead(ctx context.Context, lead Lead) (Lead, error) {
	pgCompanyID, err := db.ParseUUID(lead.CompanyID)
	if err != nil {
		return Lead{}, err
	}
	payload, err := json.Marshal(lead.Payload)
	if err != nil {
		return Lead{}, fmt.Errorf("marshal lead payload: %w", err)
	}
	status := lead.Status
	if status == "" {
		status = StatusNew
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO leads (id, company_id, bot_id, lead_code, client_name, phone, user_tg_id, request, status, source, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+leadColumns,
		db.OptionalUUID(db.NewID()), pgCompanyID, db.OptionalUUID(lead.BotID), lead.Code, lead.Name,
		db.Text(lead.Phone), db.Text(lead.UserTgID), db.Text(lead.Request), status, db.Text(lead.Source), payload,
	)
	return scanLead(row)
}

func (s *DBStore) UpdatePayload(ctx context.Context, leadID string, payload Payload) error {
	pgID, err := db.ParseUUID(leadID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal lead payload: %w", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE leads SET payload = $2, updated_at = now() WHERE id = $1`, pgID, body)
	return err
}

func (s *DBStore) UpdateStatus(ctx context.Context, botID, leadID, status string) (Lead, error) {
	pgID, err := db.ParseUUID(leadID)
	if err != nil {
		return Lead{}, err
	}
	pgBotID, err := db.ParseUUID(botID)
	if err != nil {
		return Lead{}, err
	}
	row := s.db.QueryRow(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1 AND bot_id = $3 RETURNING `+leadColumns,
		pgID, status, pgBotID,
	)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

func (s *DBStore) AddActivity(ctx context.Context, activity Activity) error {
	pgLeadID, err := db.ParseUUID(activity.LeadID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(activity.Payload)
	if err != nil {
		return fmt.Errorf("marshal activity payload: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO lead_activities (id, lead_id, type, payload) VALUES ($1, $2, $3, $4)`,
		db.OptionalUUID(db.NewID()), pgLeadID, activity.Type, body,
	)
	return err
}

func (s *DBStore) CreateRequest(ctx context.Context, req Request) (Request, error) {
	id := db.NewID()
	var createdAt pgtype.Timestamptz
	err := s.db.QueryRow(ctx,
		`INSERT INTO requests (id, public_id, kind, company_id, lead_id, chat_id, title, budget_min, budget_max,
		   year_min, year_max, city, description, status, language)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING created_at`,
		db.OptionalUUID(id), req.PublicID, req.Kind, db.OptionalUUID(req.CompanyID), db.OptionalUUID(req.LeadID),
		db.Text(req.ChatID), req.Title, optionalInt(req.BudgetMin), optionalInt(req.BudgetMax),
		optionalInt(req.YearMin), optionalInt(req.YearMax), db.Text(req.City), db.Text(req.Description),
		req.Status, db.Text(req.Language),
	).Scan(&createdAt)
	if err != nil {
		return Request{}, err
	}
	req.ID = id
	if createdAt.Valid {
		req.CreatedAt = createdAt.Time
	}
	return req, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		id, companyID, botID         pgtype.UUID
		lead                         Lead
		phone, userTgID, req, source pgtype.Text
		payload                      []byte
		createdAt                    pgtype.Timestamptz
	)
	err := row.Scan(&id, &companyID, &botID, &lead.Code, &lead.Name, &phone, &userTgID, &req,
		&lead.Status, &source, &payload, &createdAt)
	if err != nil {
		return Lead{}, err
	}
	lead.ID = db.UUIDString(id)
	lead.CompanyID = db.UUIDString(companyID)
	lead.BotID = db.UUIDString(botID)
	lead.Phone = db.TextValue(phone)
	lead.UserTgID = db.TextValue(userTgID)
	lead.Request = db.TextValue(req)
	lead.Source = db.TextValue(source)
	if createdAt.Valid {
		lead.CreatedAt = createdAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &lead.Payload); err != nil {
			return Lead{}, fmt.Errorf("decode lead payload: %w", err)
		}
	}
	return lead, nil
}

func optionalInt(v int) pgtype.Int4 {
	if v <= 0 {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(v), Valid: true}
}
