package resources

import "fmt"

// Kind identifies a managed resource type.
type Kind string

const (
	KindDatabase Kind = "database"
	KindBridge   Kind = "bridge"
	KindLoopFS   Kind = "loopfs"
	KindRing     Kind = "ring"
)

// State is the observable lifecycle state of a resource.
type State string

const (
	StateAbsent  State = "absent"
	StatePresent State = "present"
)

// Key identifies one managed resource. OwnerTag scopes destructive
// operations: managers only ever delete artifacts carrying the tag.
type Key struct {
	Kind     Kind
	Name     string
	OwnerTag string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Kind, k.Name)
}

// Resource is the result of a successful EnsurePresent.
type Resource struct {
	Key   Key
	State State
}
