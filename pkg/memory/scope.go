package memory

import (
	"fmt"
	"regexp"
)

var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateEntityID checks that id can name a persona and be embedded in
// storage keys.
func ValidateEntityID(id string) error {
	if !entityIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, id)
	}
	return nil
}

// MemoryScope identifies which VectorStore an entry lives in.
type MemoryScope interface {
	// Key is the storage namespace of the scope.
	Key() string
	// EntityID is the owning persona, empty for the global scope.
	EntityID() string
	String() string
}

// GlobalScope is shared by every persona.
type GlobalScope struct{}

func (GlobalScope) Key() string      { return "global" }
func (GlobalScope) EntityID() string { return "" }
func (GlobalScope) String() string   { return "global" }

// EntityScope is owned by a single persona's tier manager.
type EntityScope struct {
	ID string
}

func (s EntityScope) Key() string      { return "entity:" + s.ID }
func (s EntityScope) EntityID() string { return s.ID }
func (s EntityScope) String() string   { return "entity/" + s.ID }

func scopePrefix(scope MemoryScope) string {
	return "vec:" + scope.Key() + ":"
}

func entryKey(scope MemoryScope, id string) string {
	return scopePrefix(scope) + id
}
