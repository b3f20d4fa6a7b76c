package driver

import (
	"errors"
	"time"
)

// ErrKeyNotFound key does not exist or has expired
var ErrKeyNotFound = errors.New("key not found")

// KeyValueDB define a key-value storage interface
type KeyValueDB interface {
	SetEX(key string, value string, expiration time.Duration) error
	// Get returns ErrKeyNotFound for a missing key
	Get(key string) (string, error)
	Exists(key string) (bool, error)
	Del(key string) error
	Ping() error
	Close() error
}
