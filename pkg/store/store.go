// Package store provides durable persistence for the walkie presence list.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Options selects and configures a Store backend.
type Options struct {
	Driver string `mapstructure:"driver"` // sqlite, bolt, file, postgres or memory
	Path   string `mapstructure:"path"`   // database or file path for sqlite, bolt and file
	DSN    string `mapstructure:"dsn"`    // connection string for postgres
}

// DriverNames returns all valid driver names, useful for --help text.
func DriverNames() string {
	return strings.Join([]string{DriverSQLite, DriverBolt, DriverFile, DriverPostgres, DriverMemory}, ", ")
}

// Open creates the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	switch driver {
	case "", DriverSQLite:
		if opts.Path == "" {
			return nil, errors.New("store: sqlite driver requires a path")
		}
		return NewSQLite(ctx, opts.Path)
	case DriverBolt:
		if opts.Path == "" {
			return nil, errors.New("store: bolt driver requires a path")
		}
		return NewBolt(opts.Path)
	case DriverFile:
		if opts.Path == "" {
			return nil, errors.New("store: file driver requires a path")
		}
		return NewFile(opts.Path)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, errors.New("store: postgres driver requires a dsn")
		}
		return NewPostgres(ctx, opts.DSN)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w %q (valid: %s)", ErrUnknownDriver, opts.Driver, DriverNames())
	}
}
