//go:build linux

package systemd

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DBus talks to systemd over the system bus and waits for each job to finish.
// A dropped connection is re-established on the next Run.
type DBus struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewDBus connects to the system bus using ctx for the initial connection.
func NewDBus(ctx context.Context) (*DBus, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &DBus{conn: conn}, nil
}

func (d *DBus) connection(ctx context.Context) (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.conn.Connected() {
		return d.conn, nil
	}
	if d.conn != nil {
		d.conn.Close()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		d.conn = nil
		return nil, fmt.Errorf("failed to reconnect to systemd: %w", err)
	}
	d.conn = conn
	return conn, nil
}

// Run queues op for unit in "replace" mode and returns the job result.
func (d *DBus) Run(ctx context.Context, op, unit string) (string, error) {
	if !ValidOp(op) {
		return "", fmt.Errorf("systemd: unsupported operation %q", op)
	}
	conn, err := d.connection(ctx)
	if err != nil {
		return "", err
	}

	done := make(chan string, 1)
	switch op {
	case OpStart:
		_, err = conn.StartUnitContext(ctx, unit, "replace", done)
	case OpStop:
		_, err = conn.StopUnitContext(ctx, unit, "replace", done)
	case OpRestart:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
	}
	if err != nil {
		return "", fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}

	select {
	case res := <-done:
		return res, jobResult(op, unit, res)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// IsActive reports whether unit's ActiveState is "active".
func (d *DBus) IsActive(ctx context.Context, unit string) (bool, error) {
	conn, err := d.connection(ctx)
	if err != nil {
		return false, err
	}
	prop, err := conn.GetUnitPropertyContext(ctx, unit, "ActiveState")
	if err != nil {
		return false, err
	}
	state, _ := prop.Value.Value().(string)
	return state == "active", nil
}

func (d *DBus) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}
