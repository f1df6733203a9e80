package storage

import (
	"fmt"
	"strings"

	logx "actionqueue/pkg/logx"
)

// Drivers.
const (
	DriverNone   = "none"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// ParseDriver normalizes a configured driver name. "" and "none" yield
// DriverNone; "sqlite3" is accepted as an alias of "sqlite".
func ParseDriver(raw string) (string, error) {
	switch d := strings.ToLower(strings.TrimSpace(raw)); d {
	case "", DriverNone:
		return DriverNone, nil
	case DriverFile:
		return DriverFile, nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unknown storage driver %q", raw)
	}
}

// Open opens the journal cfg describes, or returns (nil, nil) when the
// driver is none.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver, err := ParseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case DriverFile:
		return openFile(cfg, log)
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("storage: sqlite needs a path")
		}
		return openSQLite(cfg, log)
	default:
		return nil, nil
	}
}
