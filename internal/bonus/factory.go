package bonus

import (
	"fmt"

	"tidegate/internal/clock"
	"tidegate/internal/models"
)

// NewStore instantiates a bonus token store based on the provided
// configuration. Supported backends:
//   - memory: in-memory store (testing/development)
//   - sqlite: SQLite database file (single-node production)
//   - postgres: PostgreSQL (multi-instance production)
func NewStore(cfg models.BonusStoreConfig, bonusCfg models.BonusConfig, ts clock.TimeSource) (Store, error) {
	switch cfg.Type {
	case models.BonusStoreTypeMemory:
		return NewMemoryStore(ts, bonusCfg.Cooldown, bonusCfg.TTL), nil
	case models.BonusStoreTypeSQLite:
		return NewSQLiteStore(cfg.DSN, ts, bonusCfg.Cooldown, bonusCfg.TTL)
	case models.BonusStoreTypePostgres:
		return NewPostgresStore(cfg.DSN, ts, bonusCfg.Cooldown, bonusCfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported bonus store type: %s", cfg.Type)
	}
}
