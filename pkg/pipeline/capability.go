package pipeline

import (
	"fmt"
)

// ValueType identifies the type of an argument slot in a capability's schema.
type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeBool   ValueType = "bool"
	TypeAny    ValueType = "any"
)

var validTypes = map[ValueType]bool{
	TypeString: true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeBool:   true,
	TypeAny:    true,
}

// IsValid checks if a value type is one of the declared slot types.
func (t ValueType) IsValid() bool {
	return validTypes[t]
}

// Matches reports whether v is acceptable for a slot of this type.
// Integer values are accepted for float slots, and float64 values are
// accepted for int slots because JSON and YAML decoders deliver numbers
// as float64.
func (t ValueType) Matches(v interface{}) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeInt:
		switch v.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int32, int64:
			return true
		}
		return false
	}
	return false
}

// ArgSpec describes one typed slot in a capability's argument schema.
type ArgSpec struct {
	// Name is an optional label for the slot, used in error messages
	Name string

	// Type constrains the values accepted by this slot
	Type ValueType
}

// CallCapability describes a single invocable function in a foreign runtime:
// "invoke Function in Runtime with arguments matching Args". Capabilities are
// immutable once a pipeline is built and are owned by the step that
// references them. The engine never branches on the runtime identity itself;
// it only routes the capability to the adapter registered for Runtime.
type CallCapability struct {
	// Runtime identifies the adapter that performs the call (e.g., "py", "node", "jq")
	Runtime string

	// Function is the function name (or expression, for expression runtimes)
	Function string

	// Args is the ordered argument schema
	Args []ArgSpec

	// Returns is the number of output values the call produces.
	// Zero means the default of one output.
	Returns int
}

// NumReturns returns the declared output count, defaulting to one.
func (c CallCapability) NumReturns() int {
	if c.Returns <= 0 {
		return 1
	}
	return c.Returns
}

// String returns a compact human-readable form, e.g. "py:normalize/2".
func (c CallCapability) String() string {
	return fmt.Sprintf("%s:%s/%d", c.Runtime, c.Function, len(c.Args))
}
