package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/deepmindneural/escuchodromo-sub002/internal/domain"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/model"
	"github.com/deepmindneural/escuchodromo-sub002/internal/domain/ports/repository"
)

// Ensure interface compliance:
var _ repository.MessageRepository = (*MessageRepo)(nil)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

const uniqueViolation = "23505"

func (r *MessageRepo) CreateMessage(ctx context.Context, qx any, msg *model.Message) error {
	const sql = `
INSERT INTO messages
  (id, room_key, author_id, session_token, role, content, valence, labels, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9);
`
	valence, labels, err := scoreColumns(msg.Score)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, sql,
		msg.ID,
		msg.RoomKey,
		nullable(msg.AuthorID),
		nullable(msg.SessionToken),
		string(msg.Role),
		msg.Content,
		valence,
		labels,
		msg.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("CreateMessage: %w", err)
	}
	return nil
}

func (r *MessageRepo) CountHumanMessages(ctx context.Context, sessionToken string) (int, error) {
	const sql = `
SELECT count(*)
  FROM messages
 WHERE session_token=$1 AND role=$2;
`
	var count int
	if err := r.pool.QueryRow(ctx, sql, sessionToken, string(model.RoleHuman)).Scan(&count); err != nil {
		return 0, fmt.Errorf("CountHumanMessages: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) AppendScore(ctx context.Context, messageID string, score *model.EmotionScore) error {
	const sql = `
UPDATE messages
   SET valence=$2, labels=$3
 WHERE id=$1;
`
	valence, labels, err := scoreColumns(score)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, sql, messageID, valence, labels)
	if err != nil {
		return fmt.Errorf("AppendScore: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) FindRecentByRoom(ctx context.Context, roomKey string, limit int) ([]*model.Message, error) {
	const sql = `
SELECT id, room_key, author_id, session_token, role, content, valence, labels, created_at
  FROM messages
 WHERE room_key=$1
 ORDER BY created_at DESC, id DESC
 LIMIT $2;
`
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, sql, roomKey, limit)
	if err != nil {
		return nil, fmt.Errorf("FindRecentByRoom: %w", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindRecentByRoom rows: %w", err)
	}
	// Rows come newest-first; callers want chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		msg      model.Message
		role     string
		authorID *string
		token    *string
		valence  *float64
		labels   []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.RoomKey,
		&authorID,
		&token,
		&role,
		&msg.Content,
		&valence,
		&labels,
		&msg.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg.Role = model.MessageRole(role)
	if authorID != nil {
		msg.AuthorID = *authorID
	}
	if token != nil {
		msg.SessionToken = *token
	}
	if valence != nil {
		score := &model.EmotionScore{Valence: *valence}
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &score.Labels); err != nil {
				return nil, fmt.Errorf("decode labels: %w", err)
			}
		}
		msg.Score = score
	}
	return &msg, nil
}

func scoreColumns(score *model.EmotionScore) (*float64, []byte, error) {
	if score == nil {
		return nil, nil, nil
	}
	labels, err := json.Marshal(score.Labels)
	if err != nil {
		return nil, nil, fmt.Errorf("encode labels: %w", err)
	}
	v := score.Valence
	return &v, labels, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
