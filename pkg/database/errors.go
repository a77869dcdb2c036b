package database

import "errors"

// ErrNotReady indicates the startup ping could not reach the database.
var ErrNotReady = errors.New("database not ready")
