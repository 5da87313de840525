package config

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrKeyNotFound = errors.New("config key not found")
	ErrNotLoaded   = errors.New("configuration not loaded")
)

// SourceType says where a value came from.
type SourceType int

const (
	SourceDefault SourceType = iota
	SourceFile
	SourceEnvironment
	SourceFlag
)

func (s SourceType) String() string {
	switch s {
	case SourceDefault:
		return "default"
	case SourceFile:
		return "file"
	case SourceEnvironment:
		return "environment"
	case SourceFlag:
		return "flag"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

type ConfigValue struct {
	Value     interface{}
	Source    SourceType
	Priority  int
	IsDefault bool
	Timestamp time.Time
}

type ConfigChange struct {
	Key       string
	OldValue  interface{}
	NewValue  interface{}
	Source    SourceType
	Timestamp time.Time
}

type ConfigWatcher interface {
	OnConfigChange(change ConfigChange)
}

// WatcherFunc adapts a function to ConfigWatcher.
type WatcherFunc func(change ConfigChange)

func (f WatcherFunc) OnConfigChange(change ConfigChange) { f(change) }

type ConfigValidator interface {
	Validate(key string, value interface{}) error
}

type ConfigError struct {
	Key     string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error for key %s: %s: %v", e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("config error for key %s: %s", e.Key, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }
