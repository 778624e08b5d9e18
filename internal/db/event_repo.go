package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cbdispatch/internal/types"
)

// BroadcastEventRepository provides data access for the broadcast_event
// table: the append-only log of transmitted lifecycle moments. Rows are
// created exactly once and never mutated.
type BroadcastEventRepository struct {
	db DBTX
}

// NewBroadcastEventRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewBroadcastEventRepository(db DBTX) *BroadcastEventRepository {
	return &BroadcastEventRepository{db: db}
}

// Create appends a new broadcast event. The caller must set the ID and the
// full transmitted snapshot; the row is immutable afterwards.
func (r *BroadcastEventRepository) Create(ctx context.Context, ev *types.BroadcastEvent) error {
	content, err := json.Marshal(ev.Content)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode transmitted content", err)
	}
	areaNames, err := json.Marshal(ev.Areas.Names)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode transmitted area names", err)
	}
	polygons, err := json.Marshal(ev.Areas.SimplePolygons)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode transmitted polygons", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO broadcast_event
		 (id, broadcast_message_id, message_type, transmitted_content,
		  transmitted_area_names, transmitted_simple_polygons,
		  transmitted_finishes_at, sent_at, reference)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID,
		ev.BroadcastMessageID,
		string(ev.MessageType),
		content,
		areaNames,
		polygons,
		ev.TransmittedFinishesAt,
		ev.SentAt,
		nilIfEmpty(ev.Reference),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create broadcast event", err)
	}
	return nil
}

// Get retrieves a broadcast event by id.
func (r *BroadcastEventRepository) Get(ctx context.Context, id string) (*types.BroadcastEvent, error) {
	row := r.db.QueryRow(ctx, eventSelect+` WHERE id = $1`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "broadcast event not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get broadcast event", err)
	}
	return ev, nil
}

// GetLatestForMessage returns the newest event of a message by sent_at.
// Supersession checks depend on this query re-reading current truth on every
// retry evaluation.
func (r *BroadcastEventRepository) GetLatestForMessage(ctx context.Context, messageID string) (*types.BroadcastEvent, error) {
	row := r.db.QueryRow(ctx,
		eventSelect+` WHERE broadcast_message_id = $1
		 ORDER BY sent_at DESC
		 LIMIT 1`,
		messageID,
	)

	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "broadcast message has no events", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get latest broadcast event", err)
	}
	return ev, nil
}

// ListEarlierForMessage returns every event of the message sent strictly
// before the given instant, oldest first. Update and cancel payloads
// reference exactly this set.
func (r *BroadcastEventRepository) ListEarlierForMessage(ctx context.Context, messageID string, before time.Time) ([]*types.BroadcastEvent, error) {
	rows, err := r.db.Query(ctx,
		eventSelect+` WHERE broadcast_message_id = $1
		   AND sent_at < $2
		 ORDER BY sent_at ASC`,
		messageID,
		before,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list earlier broadcast events", err)
	}
	defer rows.Close()

	var results []*types.BroadcastEvent
	for rows.Next() {
		ev, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan broadcast event row", scanErr)
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating broadcast event rows", err)
	}

	return results, nil
}

const eventSelect = `SELECT id, broadcast_message_id, message_type, transmitted_content,
       transmitted_area_names, transmitted_simple_polygons,
       transmitted_finishes_at, sent_at, reference
 FROM broadcast_event`

// scanEvent scans one broadcast_event row from either pgx.Row or pgx.Rows.
func scanEvent(row pgx.Row) (*types.BroadcastEvent, error) {
	var (
		ev        types.BroadcastEvent
		content   []byte
		areaNames []byte
		polygons  []byte
		msgType   string
		reference *string
	)

	err := row.Scan(
		&ev.ID, &ev.BroadcastMessageID, &msgType, &content,
		&areaNames, &polygons,
		&ev.TransmittedFinishesAt, &ev.SentAt, &reference,
	)
	if err != nil {
		return nil, err
	}

	ev.MessageType = types.MessageType(msgType)
	if reference != nil {
		ev.Reference = *reference
	}
	if err := json.Unmarshal(content, &ev.Content); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(areaNames, &ev.Areas.Names); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(polygons, &ev.Areas.SimplePolygons); err != nil {
		return nil, err
	}

	return &ev, nil
}
