package influxdb

import "errors"

// Sentinel errors, matched with errors.Is. ErrDisabled in particular is a
// normal condition: the metrics export is optional and callers skip the
// sink entirely when the config section is off.
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")
)
