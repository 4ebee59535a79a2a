// Package errs defines the MemMap's closed error taxonomy (spec §7).
//
// The canonical source represents these as raw negated errno ints (the
// biscuit teacher's own defs package follows that convention for kernel
// syscall returns). This is a library boundary rather than a syscall ABI,
// so the taxonomy is promoted to a real closed sum type instead, per the
// design notes' "tagged variants... should become sum types" guidance.
package errs

// Kind is one of the abstract error kinds spec §7 enumerates.
type Kind int

const (
	// OK is not itself returned as an error: a successful call returns a
	// nil error.
	OK Kind = iota
	// OutOfMemory: the policy cascade exhausted all nodes, colors,
	// zones, and affinity fallbacks.
	OutOfMemory
	// NodeMaskConflict only occurs during intermediate policy attempts;
	// it never reaches a public caller because the final cascade step
	// disables affinity and searches the whole mask.
	NodeMaskConflict
	// InvalidMemMap is a fatal boot-time error.
	InvalidMemMap
	// BadAddrRange: a BIOS range failed the memory self-test in full.
	BadAddrRange
	// BadParam: malformed argument.
	BadParam
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case OutOfMemory:
		return "out of memory"
	case NodeMaskConflict:
		return "node mask conflict"
	case InvalidMemMap:
		return "invalid memory map"
	case BadAddrRange:
		return "bad address range"
	case BadParam:
		return "bad parameter"
	default:
		return "unknown alloc error"
	}
}

// Err is the error type returned across the public API.
type Err struct {
	Kind Kind
	Msg  string
}

func New(k Kind, msg string) *Err {
	return &Err{Kind: k, Msg: msg}
}

func (e *Err) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is reports whether e carries the given Kind. It takes a Kind rather than
// an error, so it is not the method the standard library's errors.Is
// consults; callers compare kinds with it or with the package-level Is.
func (e *Err) Is(k Kind) bool {
	return e != nil && e.Kind == k
}

// Is is the package-level form, for callers holding a plain error rather
// than an *Err.
func Is(err error, k Kind) bool {
	e, ok := err.(*Err)
	return ok && e.Is(k)
}
