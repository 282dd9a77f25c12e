package document

// AccessLevel orders what a member may do with a document.
// Stored and serialized as its integer value.
type AccessLevel int

const (
	Viewer AccessLevel = iota
	Editor
	Owner
)

func (a AccessLevel) String() string {
	switch a {
	case Viewer:
		return "viewer"
	case Editor:
		return "editor"
	case Owner:
		return "owner"
	}
	return "unknown"
}

func (a AccessLevel) Valid() bool {
	return a >= Viewer && a <= Owner
}

// CanEdit reports whether the level permits content mutation.
func (a AccessLevel) CanEdit() bool {
	return a >= Editor
}

// AtLeast reports whether the level is equal or above other.
func (a AccessLevel) AtLeast(other AccessLevel) bool {
	return a >= other
}
