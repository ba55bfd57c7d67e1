// internal/gate/gate.go
package gate

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is an evolution tier. Stages are totally ordered by unlock order and
// only ever advance one step at a time.
type Stage int

const (
	Initial Stage = iota
	SystemAccess
	CodeModification
	Advanced
)

// Stages lists every stage in unlock order.
var Stages = []Stage{Initial, SystemAccess, CodeModification, Advanced}

func (s Stage) String() string {
	switch s {
	case Initial:
		return "Initial"
	case SystemAccess:
		return "SystemAccess"
	case CodeModification:
		return "CodeModification"
	case Advanced:
		return "Advanced"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Next returns the stage that follows s. It reports false when s is terminal.
func (s Stage) Next() (Stage, bool) {
	if s >= Advanced || s < Initial {
		return s, false
	}
	return s + 1, true
}

// ParseStage resolves a stage name, case-insensitively. Underscores and
// hyphens are ignored, so "code_modification" names CodeModification.
func ParseStage(name string) (Stage, error) {
	normalized := strings.NewReplacer("_", "", "-", "").Replace(strings.TrimSpace(name))
	for _, s := range Stages {
		if strings.EqualFold(s.String(), normalized) {
			return s, nil
		}
	}
	return Initial, fmt.Errorf("unknown evolution stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Class identifies the kind of privileged action being requested.
type Class int

const (
	ClassSystemCall Class = iota
	ClassCodeModification
	ClassHardwareOperation
)

// Classes lists every capability class.
var Classes = []Class{ClassSystemCall, ClassCodeModification, ClassHardwareOperation}

func (c Class) String() string {
	switch c {
	case ClassSystemCall:
		return "SystemCall"
	case ClassCodeModification:
		return "CodeModification"
	case ClassHardwareOperation:
		return "HardwareOperation"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// MinimumStage is the fixed class→stage table. Unknown classes require a
// stage no agent can reach.
func (c Class) MinimumStage() Stage {
	switch c {
	case ClassSystemCall:
		return SystemAccess
	case ClassCodeModification:
		return CodeModification
	case ClassHardwareOperation:
		return Advanced
	default:
		return Advanced + 1
	}
}

// ErrPermissionDenied is matched by every *PermissionDeniedError via errors.Is.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionDeniedError reports an authorization failure together with the
// exact cause.
type PermissionDeniedError struct {
	Current  Stage
	Required Stage
	Class    Class
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s requires stage %s, agent is at %s", e.Class, e.Required, e.Current)
}

func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Check is the authorization decision. It is a pure function of the stage
// and the class.
func Check(current Stage, class Class) error {
	required := class.MinimumStage()
	if current >= required {
		return nil
	}
	return &PermissionDeniedError{Current: current, Required: required, Class: class}
}
