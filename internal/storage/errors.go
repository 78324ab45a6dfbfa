package storage

import "fmt"

// InitializationError means a provider or the manager failed to set up.
// Fatal to the calling flow; never swallowed.
type InitializationError struct {
	Component string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initializing %s: %v", e.Component, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ValidationError means an entity failed its repository's validator on save
// or update. Always surfaced; never auto-corrected.
type ValidationError struct {
	Entity string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
}

// IntegrityError means a backup's checksum did not match its payload. Restore
// aborts entirely rather than partially applying.
type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("backup checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// MigrationError identifies the migration step that failed and in which
// direction it was running.
type MigrationError struct {
	Version int
	Action  string // "migrate" or "rollback"
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s failed at version %d", e.Action, e.Version)
	}
	return fmt.Sprintf("%s failed at version %d: %v", e.Action, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
