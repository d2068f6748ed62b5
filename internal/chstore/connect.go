// Package chstore connects to the optional ClickHouse analytics tier
// internal/maintenance writes rollups to. Grounded on
// pkg/database/clickhouse.go's ConnectClickHouseNative; trimmed to the
// native (batch-insert) connection only, since nothing in this repo
// issues ClickHouse SELECT queries over database/sql.
package chstore

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"chatbroker/internal/logging"
)

// Config holds ClickHouse connection settings.
type Config struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// Connect establishes a native ClickHouse connection for batch inserts.
func Connect(cfg Config, logger logging.Logger) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.WithFields(logging.Fields{"addr": cfg.Addr, "database": cfg.Database}).Info("chstore: connected")
	}
	return conn, nil
}
