package arbor

import "fmt"

// Kind identifies which of the seven unit variants a value is.
type Kind string

const (
	KindTask               Kind = "task"
	KindResource           Kind = "resource"
	KindEvent              Kind = "event"
	KindHook               Kind = "hook"
	KindTaskMiddleware     Kind = "task-middleware"
	KindResourceMiddleware Kind = "resource-middleware"
	KindTag                Kind = "tag"
)

// ID is the author-chosen stable identifier shared across the unit
// namespace; visibility and override resolution key on it.
type ID = string

// Unit is the shared surface every registered variant implements. Boot,
// Store, and the Runtime Surface operate on units through this interface
// without caring which concrete kind they hold.
type Unit interface {
	ID() ID
	Kind() Kind
	Tags() []*TagRef
	Meta() map[string]any
}

// unitBase carries the attributes every unit variant shares.
type unitBase struct {
	id   ID
	kind Kind
	tags []*TagRef
	meta map[string]any
}

func (u *unitBase) ID() ID              { return u.id }
func (u *unitBase) Kind() Kind          { return u.kind }
func (u *unitBase) Tags() []*TagRef     { return u.tags }
func (u *unitBase) Meta() map[string]any {
	if u.meta == nil {
		return nil
	}
	return u.meta
}

func newUnitBase(id ID, kind Kind, tags []*TagRef) unitBase {
	return unitBase{id: id, kind: kind, tags: tags, meta: make(map[string]any)}
}

func (u *unitBase) setMeta(key string, value any) {
	if u.meta == nil {
		u.meta = make(map[string]any)
	}
	u.meta[key] = value
}

// hasTag reports whether any of a unit's tags were created from the given
// TagRef (by identity, not by value — tags are comparable handles).
func hasTag(u Unit, ref *TagRef) bool {
	for _, t := range u.Tags() {
		if t == ref {
			return true
		}
	}
	return false
}

func requireID(id ID) {
	if id == "" {
		panic(newError(ErrDefinitionInvalid, "", "", "", "unit id must not be empty"))
	}
}

func (k Kind) String() string { return string(k) }

func describeUnit(u Unit) string {
	return fmt.Sprintf("%s(%s)", u.Kind(), u.ID())
}
