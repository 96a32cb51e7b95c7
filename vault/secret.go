package vault

import (
	"fmt"

	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/util"
)

// SecretField is either Absent or Present with its stored ciphertext.
type SecretField struct {
	present bool
	field   crypto.Field
}

// Absent returns a SecretField with no secret.
func Absent() SecretField { return SecretField{} }

// Present wraps a stored field.
func Present(f crypto.Field) SecretField { return SecretField{present: true, field: f.Clone()} }

// IsPresent reports whether a secret is stored.
func (s SecretField) IsPresent() bool { return s.present }

// Field returns the ciphertext and whether it is present.
func (s SecretField) Field() (crypto.Field, bool) {
	return s.field.Clone(), s.present
}

// UpdateAction says what StoreSecret does with a column.
type UpdateAction int

const (
	ActionKeep UpdateAction = iota
	ActionSet
	ActionClear
)

func (a UpdateAction) String() string {
	switch a {
	case ActionKeep:
		return "keep"
	case ActionSet:
		return "set"
	case ActionClear:
		return "clear"
	default:
		return fmt.Sprintf("UpdateAction(%d)", int(a))
	}
}

// ParseUpdateAction maps "keep", "set" and "clear" to an UpdateAction.
func ParseUpdateAction(s string) (UpdateAction, error) {
	switch s {
	case "keep":
		return ActionKeep, nil
	case "set":
		return ActionSet, nil
	case "clear":
		return ActionClear, nil
	default:
		return ActionKeep, validationErrorf("unknown secret action %q", s)
	}
}

// SecretUpdate is an explicit change to one column. An empty value passed
// to Set stores an empty secret; it never means keep or clear.
type SecretUpdate struct {
	Action UpdateAction
	value  []byte
}

// Keep leaves the stored field untouched.
func Keep() SecretUpdate { return SecretUpdate{Action: ActionKeep} }

// Set replaces the stored field with value. The value is copied.
func Set(value []byte) SecretUpdate {
	v := util.CopyBytes(value)
	if v == nil {
		v = []byte{}
	}
	return SecretUpdate{Action: ActionSet, value: v}
}

// Clear removes the stored field.
func Clear() SecretUpdate { return SecretUpdate{Action: ActionClear} }

// Wipe zeroes the carried value.
func (u SecretUpdate) Wipe() { util.WipeBytes(u.value) }
