package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/congo-pay/p2p_market/internal/apperr"
	"github.com/congo-pay/p2p_market/internal/infra"
)

// Repository persists disputes and their notes.
type Repository interface {
	// Insert fails with ErrDuplicateDispute when the trade already has one.
	Insert(ctx context.Context, d Dispute) error
	Get(ctx context.Context, id string) (Dispute, error)
	GetForUpdate(ctx context.Context, id string) (Dispute, error)
	GetByTrade(ctx context.Context, tradeID string) (Dispute, error)
	Update(ctx context.Context, d Dispute) error
	List(ctx context.Context, status Status) ([]Dispute, error)
	AppendNote(ctx context.Context, note AdminNote) error
	Notes(ctx context.Context, disputeID string) ([]AdminNote, error)
}

// PostgresRepository stores disputes in PostgreSQL.
type PostgresRepository struct {
	db infra.DBTX
}

// NewPostgresRepository builds a repository bound to a transaction or pool.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const disputeColumns = `id::text, trade_id::text, user_id::text, reason, description, status,
	COALESCE(resolution, ''), COALESCE(winner_id::text, ''), COALESCE(resolved_by::text, ''), created_at, resolved_at`

func (r *PostgresRepository) Insert(ctx context.Context, d Dispute) error {
	id, err := infra.ParseID("dispute_id", d.ID)
	if err != nil {
		return err
	}
	tradeID, err := infra.ParseID("trade_id", d.TradeID)
	if err != nil {
		return err
	}
	userID, err := infra.ParseID("user_id", d.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO disputes (id, trade_id, user_id, reason, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, tradeID, userID, d.Reason, d.Description, string(d.Status), d.CreatedAt)
	if infra.IsUniqueViolation(err) {
		return ErrDuplicateDispute
	}
	return err
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Dispute, error) {
	return r.getBy(ctx, "id", id, "")
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (Dispute, error) {
	return r.getBy(ctx, "id", id, " FOR UPDATE")
}

func (r *PostgresRepository) GetByTrade(ctx context.Context, tradeID string) (Dispute, error) {
	return r.getBy(ctx, "trade_id", tradeID, "")
}

func (r *PostgresRepository) getBy(ctx context.Context, column, value, lock string) (Dispute, error) {
	id, err := infra.ParseID(column, value)
	if err != nil {
		return Dispute{}, err
	}
	d, err := scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE `+column+` = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, fmt.Errorf("dispute: %w", apperr.ErrNotFound)
		}
		return Dispute{}, err
	}
	return d, nil
}

func (r *PostgresRepository) Update(ctx context.Context, d Dispute) error {
	id, err := infra.ParseID("dispute_id", d.ID)
	if err != nil {
		return err
	}
	winner, err := nullableID("winner_id", d.WinnerID)
	if err != nil {
		return err
	}
	resolvedBy, err := nullableID("resolved_by", d.ResolvedBy)
	if err != nil {
		return err
	}
	var resolution *string
	if d.Resolution != "" {
		v := string(d.Resolution)
		resolution = &v
	}
	cmd, err := r.db.Exec(ctx, `
		UPDATE disputes SET status = $1, resolution = $2, winner_id = $3, resolved_by = $4, resolved_at = $5
		WHERE id = $6
	`, string(d.Status), resolution, winner, resolvedBy, d.ResolvedAt, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("dispute: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, status Status) ([]Dispute, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AppendNote(ctx context.Context, note AdminNote) error {
	id, err := infra.ParseID("note_id", note.ID)
	if err != nil {
		return err
	}
	disputeID, err := infra.ParseID("dispute_id", note.DisputeID)
	if err != nil {
		return err
	}
	adminID, err := infra.ParseID("admin_id", note.AdminID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO admin_notes (id, dispute_id, admin_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, disputeID, adminID, note.Content, note.CreatedAt)
	return err
}

func (r *PostgresRepository) Notes(ctx context.Context, disputeID string) ([]AdminNote, error) {
	id, err := infra.ParseID("dispute_id", disputeID)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT id::text, dispute_id::text, admin_id::text, content, created_at
		FROM admin_notes WHERE dispute_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []AdminNote
	for rows.Next() {
		var n AdminNote
		if err := rows.Scan(&n.ID, &n.DisputeID, &n.AdminID, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.CreatedAt = n.CreatedAt.UTC()
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d                  Dispute
		status, resolution string
	)
	if err := row.Scan(&d.ID, &d.TradeID, &d.UserID, &d.Reason, &d.Description, &status,
		&resolution, &d.WinnerID, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt); err != nil {
		return Dispute{}, err
	}
	d.Status = Status(status)
	d.Resolution = Resolution(resolution)
	d.CreatedAt = d.CreatedAt.UTC()
	if d.ResolvedAt != nil {
		ts := d.ResolvedAt.UTC()
		d.ResolvedAt = &ts
	}
	return d, nil
}

func nullableID(field, id string) (*uuid.UUID, error) {
	if id == "" {
		return nil, nil
	}
	parsed, err := infra.ParseID(field, id)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
