package repo

import (
	"context"
	"fmt"

	"apex-api/internal/domain"
	"apex-api/internal/infra/config"
	"apex-api/internal/infra/db"
)

// Store объединяет всё, что сервисы ждут от хранилища.
type Store interface {
	domain.MemoryRepo
	domain.FeedbackRepo
	domain.HealthChecker
	domain.SchemaEnsurer
}

// Open подключает хранилище, выбранное в STORAGE_DRIVER.
// Возвращаемая функция закрывает подключение.
func Open(ctx context.Context, cfg config.AppConfig) (Store, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverPostgres:
		pool, err := db.Connect(ctx, cfg.Storage.PGDSN, cfg.Storage.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgres(pool), pool.Close, nil
	case config.StorageDriverSQLite:
		conn, err := db.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLite(conn), func() { _ = conn.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
