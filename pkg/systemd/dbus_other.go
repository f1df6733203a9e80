//go:build !linux

package systemd

import "context"

// DBus is unavailable off Linux; NewDBus always fails.
type DBus struct{}

func NewDBus(context.Context) (*DBus, error) { return nil, ErrUnsupported }

func (*DBus) Run(context.Context, string, string) (string, error) { return "", ErrUnsupported }

func (*DBus) IsActive(context.Context, string) (bool, error) { return false, ErrUnsupported }

func (*DBus) Close() error { return nil }
