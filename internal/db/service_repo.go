package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"cbdispatch/internal/types"
)

// ServiceSettingsRepository reads the slice of service configuration the
// dispatcher consumes: the enabled provider set and the configured broadcast
// channel. The wider service record is owned by the surrounding platform;
// this repository only reads the broadcast settings projection.
type ServiceSettingsRepository struct {
	db DBTX
}

// NewServiceSettingsRepository creates a repository backed by the given
// database connection (pool or transaction).
func NewServiceSettingsRepository(db DBTX) *ServiceSettingsRepository {
	return &ServiceSettingsRepository{db: db}
}

// Get retrieves the broadcast settings for a service.
func (r *ServiceSettingsRepository) Get(ctx context.Context, serviceID string) (*types.ServiceBroadcastSettings, error) {
	row := r.db.QueryRow(ctx,
		`SELECT service_id, trial_mode, channel, providers
		 FROM service_broadcast_settings
		 WHERE service_id = $1`,
		serviceID,
	)

	var (
		s         types.ServiceBroadcastSettings
		channel   *string
		providers []byte
	)
	err := row.Scan(&s.ServiceID, &s.TrialMode, &channel, &providers)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundService, "service broadcast settings not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get service broadcast settings", err)
	}

	if channel != nil {
		s.Channel = types.BroadcastChannel(*channel)
	}
	if err := json.Unmarshal(providers, &s.Providers); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode service provider list", err)
	}

	return &s, nil
}
