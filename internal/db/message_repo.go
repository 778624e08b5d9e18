package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cbdispatch/internal/types"
)

// BroadcastMessageRepository provides data access for the broadcast_message
// table: the mutable aggregate root of one alert campaign.
type BroadcastMessageRepository struct {
	db DBTX
}

// NewBroadcastMessageRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewBroadcastMessageRepository(db DBTX) *BroadcastMessageRepository {
	return &BroadcastMessageRepository{db: db}
}

// Get retrieves a broadcast message by id.
func (r *BroadcastMessageRepository) Get(ctx context.Context, id string) (*types.BroadcastMessage, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, service_id, template_id, template_version, content, reference,
		        area_names, simple_polygons, status, channel, stubbed,
		        starts_at, finishes_at,
		        created_by, approved_by, cancelled_by,
		        created_at, approved_at, cancelled_at, updated_at
		 FROM broadcast_message
		 WHERE id = $1`,
		id,
	)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundMessage, "broadcast message not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get broadcast message", err)
	}
	return m, nil
}

// SetStatus records a lifecycle transition. The actor and timestamp land in
// the columns matching the target status (approved_by/approved_at for
// broadcasting, cancelled_by/cancelled_at for cancelled); other transitions
// only move the status and bump updated_at. Transition legality is enforced
// by the orchestrator's state machine, not here.
func (r *BroadcastMessageRepository) SetStatus(ctx context.Context, id string, status types.BroadcastStatus, actorID string, at time.Time) error {
	var tagSQL string
	switch status {
	case types.StatusBroadcasting:
		tagSQL = `UPDATE broadcast_message SET
			status = $1, approved_by = $2, approved_at = $3, updated_at = $3
			WHERE id = $4`
	case types.StatusCancelled:
		tagSQL = `UPDATE broadcast_message SET
			status = $1, cancelled_by = $2, cancelled_at = $3, updated_at = $3
			WHERE id = $4`
	default:
		tagSQL = `UPDATE broadcast_message SET
			status = $1, updated_at = $3
			WHERE id = $4`
	}

	tag, err := r.db.Exec(ctx, tagSQL, string(status), nilIfEmpty(actorID), at, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update broadcast message status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundMessage, "broadcast message not found", nil)
	}
	return nil
}

// SetChannel fixes the transmission channel for the lifetime of the message.
// Only writes when no channel is recorded yet, so a later update or cancel
// can never re-derive it from changed service configuration.
func (r *BroadcastMessageRepository) SetChannel(ctx context.Context, id string, channel types.BroadcastChannel) error {
	_, err := r.db.Exec(ctx,
		`UPDATE broadcast_message SET channel = $1
		 WHERE id = $2 AND channel IS NULL`,
		string(channel),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set broadcast channel", err)
	}
	return nil
}

// scanMessage scans one broadcast_message row. Nullable columns use pointer
// targets; the areas columns are JSONB arrays written together.
func scanMessage(row pgx.Row) (*types.BroadcastMessage, error) {
	var (
		m               types.BroadcastMessage
		templateID      *string
		templateVersion *int
		channel         *string
		approvedBy      *string
		cancelledBy     *string
		approvedAt      *time.Time
		cancelledAt     *time.Time
		updatedAt       *time.Time
		areaNames       []byte
		simplePolygons  []byte
		status          string
	)

	err := row.Scan(
		&m.ID, &m.ServiceID, &templateID, &templateVersion, &m.Content, &m.Reference,
		&areaNames, &simplePolygons, &status, &channel, &m.Stubbed,
		&m.StartsAt, &m.FinishesAt,
		&m.CreatedBy, &approvedBy, &cancelledBy,
		&m.CreatedAt, &approvedAt, &cancelledAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Status = types.BroadcastStatus(status)
	if templateID != nil {
		m.TemplateID = *templateID
	}
	if templateVersion != nil {
		m.TemplateVersion = *templateVersion
	}
	if channel != nil {
		m.Channel = types.BroadcastChannel(*channel)
	}
	if approvedBy != nil {
		m.ApprovedBy = *approvedBy
	}
	if cancelledBy != nil {
		m.CancelledBy = *cancelledBy
	}
	if approvedAt != nil {
		m.ApprovedAt = *approvedAt
	}
	if cancelledAt != nil {
		m.CancelledAt = *cancelledAt
	}
	if updatedAt != nil {
		m.UpdatedAt = *updatedAt
	}
	if err := json.Unmarshal(areaNames, &m.Areas.Names); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(simplePolygons, &m.Areas.SimplePolygons); err != nil {
		return nil, err
	}

	return &m, nil
}
