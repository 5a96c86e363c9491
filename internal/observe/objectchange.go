package observe

import (
	"fmt"
	"strings"
)

// ObjectID is a stable, typed identity correlating change notifications with
// the entity they describe. Two notifications for the same object carry
// content-equal ObjectID values; observers must compare by value.
type ObjectID struct {
	TypeName string
	UniqueID string
}

// NewObjectID constructs an ObjectID.
func NewObjectID(typeName, uniqueID string) ObjectID {
	return ObjectID{TypeName: typeName, UniqueID: uniqueID}
}

// String returns the canonical "TypeName/unique_id" form.
func (id ObjectID) String() string {
	return id.TypeName + "/" + id.UniqueID
}

// ObjectIDParseError reports a malformed ObjectID text form.
type ObjectIDParseError struct {
	Input string
	Msg   string
}

// Error implements the error interface.
func (e *ObjectIDParseError) Error() string {
	return fmt.Sprintf("invalid object id %q: %s", e.Input, e.Msg)
}

// ParseObjectID parses "TypeName/unique_id", splitting on the first '/'.
// The type name must be non-empty.
func ParseObjectID(s string) (ObjectID, error) {
	i := strings.IndexByte(s, '/')
	if i < 0 {
		return ObjectID{}, &ObjectIDParseError{Input: s, Msg: "missing '/' separator"}
	}
	if i == 0 {
		return ObjectID{}, &ObjectIDParseError{Input: s, Msg: "empty type name"}
	}
	return ObjectID{TypeName: s[:i], UniqueID: s[i+1:]}, nil
}

// ChangeType classifies a mutation.
type ChangeType int

const (
	// ChangeInserted marks the first appearance of an object.
	ChangeInserted ChangeType = iota
	// ChangeUpdated marks a mutation of an existing object.
	ChangeUpdated
	// ChangeDeleted marks the removal of an object.
	ChangeDeleted
)

// String returns the change type name.
func (t ChangeType) String() string {
	switch t {
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	}
	return fmt.Sprintf("changetype(%d)", int(t))
}

// ObjectChange is the record delivered to observers after every successful
// mutation. Property is empty unless the update is scoped to a named
// property.
type ObjectChange struct {
	ID       ObjectID
	Type     ChangeType
	Property string
}

// ChangeContext wraps an Emitter with the three notification verbs. For a
// single object the first notification is always inserted, because its owner
// creates before first-notifying.
type ChangeContext struct {
	emitter *Emitter[ObjectChange]
}

// NewChangeContext creates a ChangeContext with an empty observer set.
func NewChangeContext() *ChangeContext {
	return &ChangeContext{emitter: NewEmitter[ObjectChange]()}
}

// AddObserver registers fn for every subsequent change record.
func (c *ChangeContext) AddObserver(fn func(ObjectChange)) Handle {
	return c.emitter.AddObserver(fn)
}

// RemoveObserver unregisters the observer identified by h.
func (c *ChangeContext) RemoveObserver(h Handle) {
	c.emitter.RemoveObserver(h)
}

// NotifyInserted emits an inserted record for id.
func (c *ChangeContext) NotifyInserted(id ObjectID) {
	c.emitter.Emit(ObjectChange{ID: id, Type: ChangeInserted})
}

// NotifyUpdated emits an updated record for id, optionally scoped to the
// first supplied property name.
func (c *ChangeContext) NotifyUpdated(id ObjectID, property ...string) {
	ch := ObjectChange{ID: id, Type: ChangeUpdated}
	if len(property) > 0 {
		ch.Property = property[0]
	}
	c.emitter.Emit(ch)
}

// NotifyDeleted emits a deleted record for id.
func (c *ChangeContext) NotifyDeleted(id ObjectID) {
	c.emitter.Emit(ObjectChange{ID: id, Type: ChangeDeleted})
}
