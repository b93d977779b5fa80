package response

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"attest/internal/survey/models"
	id "attest/pkg/domain"
)

// PostgresStore persists responses in PostgreSQL with an upsert keyed on
// (recipient_id, question_id).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, response *models.Response) error {
	query := `
		INSERT INTO responses (id, recipient_id, question_id, answer, comment, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (recipient_id, question_id) DO UPDATE SET
			answer = EXCLUDED.answer,
			comment = EXCLUDED.comment,
			submitted_at = EXCLUDED.submitted_at
	`
	_, err := s.db.ExecContext(ctx, query,
		response.ID.String(), response.RecipientID.String(), response.QuestionID.String(),
		response.Answer, response.Comment, response.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipientID id.RecipientID) ([]*models.Response, error) {
	query := `
		SELECT id, recipient_id, question_id, answer, comment, submitted_at
		FROM responses
		WHERE recipient_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, recipientID.String())
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	return collectResponses(rows)
}

func (s *PostgresStore) ListByRecipients(ctx context.Context, recipientIDs []id.RecipientID) ([]*models.Response, error) {
	if len(recipientIDs) == 0 {
		return nil, nil
	}
	raw := make([]string, 0, len(recipientIDs))
	for _, recID := range recipientIDs {
		raw = append(raw, recID.String())
	}
	query := `
		SELECT id, recipient_id, question_id, answer, comment, submitted_at
		FROM responses
		WHERE recipient_id = ANY($1)
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("list responses by recipients: %w", err)
	}
	defer rows.Close()
	return collectResponses(rows)
}

func collectResponses(rows *sql.Rows) ([]*models.Response, error) {
	var out []*models.Response
	for rows.Next() {
		var (
			resp                       models.Response
			rawID, rawRec, rawQuestion string
		)
		err := rows.Scan(&rawID, &rawRec, &rawQuestion, &resp.Answer, &resp.Comment, &resp.SubmittedAt)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		if resp.ID, err = id.ParseResponseID(rawID); err != nil {
			return nil, err
		}
		if resp.RecipientID, err = id.ParseRecipientID(rawRec); err != nil {
			return nil, err
		}
		if resp.QuestionID, err = id.ParseQuestionID(rawQuestion); err != nil {
			return nil, err
		}
		out = append(out, &resp)
	}
	return out, rows.Err()
}
