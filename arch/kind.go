package arch

import "fmt"

// Kind is the execution architecture, selected once per process
type Kind uint8

const (
	Host Kind = iota
	Accelerator
)

func (k Kind) String() string {
	switch k {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind accepts the configuration spelling of a Kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "host":
		return Host, nil
	case "accelerator", "device":
		return Accelerator, nil
	}
	return Host, fmt.Errorf("unknown architecture %q", s)
}

// Capability is a bitset of the preconditioning and ordering strategies a
// Kind supports
type Capability uint8

const (
	DiagonalScaling Capability = 1 << iota
	IncompleteFactorization
	DirectFactorization
	FillReducingOrdering
)

func (c Capability) String() string {
	switch c {
	case DiagonalScaling:
		return "diagonal scaling"
	case IncompleteFactorization:
		return "incomplete factorization"
	case DirectFactorization:
		return "direct factorization"
	case FillReducingOrdering:
		return "fill-reducing ordering"
	}
	return fmt.Sprintf("Capability(%#x)", uint8(c))
}

// Capabilities returns what the architecture can run. Accelerator backends
// are restricted to diagonal scaling and bandwidth orderings.
func (k Kind) Capabilities() Capability {
	switch k {
	case Host:
		return DiagonalScaling | IncompleteFactorization | DirectFactorization | FillReducingOrdering
	case Accelerator:
		return DiagonalScaling
	}
	return 0
}

// Supports reports whether every capability in c is available
func (k Kind) Supports(c Capability) bool {
	return k.Capabilities()&c == c
}
