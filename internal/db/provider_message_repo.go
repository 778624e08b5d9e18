package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cbdispatch/internal/types"
)

// sequenceName is the shared database sequence behind the provider message
// number counter. It is process-wide and serializable: two concurrent
// dispatch units can never draw the same value. The counter is shared across
// all messages, not scoped per message or per service.
const sequenceName = "broadcast_provider_message_number_seq"

// BroadcastProviderMessageRepository provides data access for the
// broadcast_provider_message table: one delivery tracking row per
// (event, provider) pair.
type BroadcastProviderMessageRepository struct {
	db DBTX
}

// NewBroadcastProviderMessageRepository creates a repository backed by the
// given database connection (pool or transaction).
func NewBroadcastProviderMessageRepository(db DBTX) *BroadcastProviderMessageRepository {
	return &BroadcastProviderMessageRepository{db: db}
}

// EnsureExists performs an idempotent insert using INSERT ... ON CONFLICT
// DO NOTHING on the (broadcast_event_id, provider) unique constraint, then
// reads the row back. Returns the row and whether it was newly created.
//
// When withSequence is true the insert draws the row's message number from
// the shared sequence in the same statement, so a retried dispatch unit
// always reuses the number assigned on first creation. A conflicting insert
// may still consume a sequence value; gaps are harmless, only uniqueness and
// monotonicity matter.
func (r *BroadcastProviderMessageRepository) EnsureExists(ctx context.Context, eventID string, provider types.Provider, withSequence bool) (*types.BroadcastProviderMessage, bool, error) {
	var insertSQL string
	if withSequence {
		insertSQL = `INSERT INTO broadcast_provider_message
			 (broadcast_event_id, provider, status, message_number, created_at)
			 VALUES ($1, $2, 'sending', nextval('` + sequenceName + `'), NOW())
			 ON CONFLICT (broadcast_event_id, provider) DO NOTHING`
	} else {
		insertSQL = `INSERT INTO broadcast_provider_message
			 (broadcast_event_id, provider, status, created_at)
			 VALUES ($1, $2, 'sending', NOW())
			 ON CONFLICT (broadcast_event_id, provider) DO NOTHING`
	}

	tag, err := r.db.Exec(ctx, insertSQL, eventID, string(provider))
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to create provider message", err)
	}
	created := tag.RowsAffected() > 0

	pm, err := r.GetForEvent(ctx, eventID, provider)
	if err != nil {
		return nil, false, err
	}
	return pm, created, nil
}

// GetForEvent retrieves the provider message for one (event, provider) pair.
func (r *BroadcastProviderMessageRepository) GetForEvent(ctx context.Context, eventID string, provider types.Provider) (*types.BroadcastProviderMessage, error) {
	row := r.db.QueryRow(ctx,
		providerMessageSelect+` WHERE broadcast_event_id = $1 AND provider = $2`,
		eventID,
		string(provider),
	)

	pm, err := scanProviderMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundProviderMessage, "provider message not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get provider message", err)
	}
	return pm, nil
}

// ListForEvents retrieves the provider messages one provider holds for the
// given events. Used when building update/cancel references for the
// sequenced provider family, whose reference entries carry each earlier
// event's own message number.
func (r *BroadcastProviderMessageRepository) ListForEvents(ctx context.Context, eventIDs []string, provider types.Provider) (map[string]*types.BroadcastProviderMessage, error) {
	if len(eventIDs) == 0 {
		return map[string]*types.BroadcastProviderMessage{}, nil
	}

	rows, err := r.db.Query(ctx,
		providerMessageSelect+` WHERE broadcast_event_id = ANY($1) AND provider = $2`,
		eventIDs,
		string(provider),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list provider messages", err)
	}
	defer rows.Close()

	results := make(map[string]*types.BroadcastProviderMessage, len(eventIDs))
	for rows.Next() {
		pm, scanErr := scanProviderMessage(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan provider message row", scanErr)
		}
		results[pm.BroadcastEventID] = pm
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating provider message rows", err)
	}

	return results, nil
}

// SetStatus updates a provider message's delivery status in place. The write
// is idempotent: setting the same status twice produces the same observable
// state, so retried dispatch units never need a distributed lock.
func (r *BroadcastProviderMessageRepository) SetStatus(ctx context.Context, id string, status types.ProviderMessageStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE broadcast_provider_message SET
			status = $1,
			updated_at = NOW()
		 WHERE id = $2`,
		string(status),
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update provider message status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProviderMessage, "provider message not found", nil)
	}
	return nil
}

// NextSequence draws one value from the shared message number sequence
// without creating a provider message row. Link tests for the sequenced
// provider family consume numbers this way.
func (r *BroadcastProviderMessageRepository) NextSequence(ctx context.Context) (int64, error) {
	var n int64
	row := r.db.QueryRow(ctx, `SELECT nextval('`+sequenceName+`')`)
	if err := row.Scan(&n); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to draw provider sequence value", err)
	}
	return n, nil
}

const providerMessageSelect = `SELECT id, broadcast_event_id, provider, status,
       message_number, created_at, updated_at
 FROM broadcast_provider_message`

// scanProviderMessage scans one broadcast_provider_message row.
func scanProviderMessage(row pgx.Row) (*types.BroadcastProviderMessage, error) {
	var (
		pm        types.BroadcastProviderMessage
		provider  string
		status    string
		updatedAt *time.Time
	)

	err := row.Scan(
		&pm.ID, &pm.BroadcastEventID, &provider, &status,
		&pm.MessageNumber, &pm.CreatedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	pm.Provider = types.Provider(provider)
	pm.Status = types.ProviderMessageStatus(status)
	if updatedAt != nil {
		pm.UpdatedAt = *updatedAt
	}

	return &pm, nil
}
