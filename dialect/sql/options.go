package sql

import (
	"database/sql"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionOptions holds connection-pool settings supplied by external
// configuration. The engine consumes the value as-is; loading and merging
// of configuration sources happens outside the core.
type ConnectionOptions struct {
	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`
	// Dialect is one of the dialect package constants.
	Dialect string `yaml:"dialect"`
	// MaxOpenConns limits the number of open connections to the store.
	// Zero means unlimited.
	MaxOpenConns int `yaml:"max_open_conns"`
	// MaxIdleConns limits the idle connection pool size.
	MaxIdleConns int `yaml:"max_idle_conns"`
	// ConnMaxLifetime is the maximum amount of time a connection may be
	// reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// ConnMaxIdleTime is the maximum amount of time a connection may be
	// idle before being closed.
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// ParseConnectionOptions decodes YAML-encoded connection options.
func ParseConnectionOptions(data []byte) (*ConnectionOptions, error) {
	var opts ConnectionOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("dialect/sql: parse connection options: %w", err)
	}
	if opts.Dialect == "" {
		return nil, fmt.Errorf("dialect/sql: connection options missing dialect")
	}
	return &opts, nil
}

// Apply configures the pool settings on the given database handle.
func (o *ConnectionOptions) Apply(db *sql.DB) {
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if o.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(o.ConnMaxIdleTime)
	}
}

// OpenOptions opens a driver from externally loaded connection options and
// applies the pool settings.
func OpenOptions(opts *ConnectionOptions) (*Driver, error) {
	drv, err := Open(opts.Dialect, opts.DSN)
	if err != nil {
		return nil, err
	}
	opts.Apply(drv.DB())
	return drv, nil
}
