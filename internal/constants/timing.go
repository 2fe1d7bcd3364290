package constants

// RemovalTiming controls where in a yearly step the mechanical removal event
// is applied.
type RemovalTiming string

const (
	// TimingAfter applies removal after the grass and shrub phases.
	TimingAfter RemovalTiming = "after"

	// TimingBefore applies removal before the grass and shrub phases.
	TimingBefore RemovalTiming = "before"
)

// Valid returns true if the timing is a recognized value.
func (t RemovalTiming) Valid() bool {
	switch t {
	case TimingAfter, TimingBefore:
		return true
	}
	return false
}

// String returns the string representation of the timing.
func (t RemovalTiming) String() string {
	return string(t)
}

// ParseRemovalTiming maps a user-supplied value to a RemovalTiming.
// The empty string selects TimingAfter.
func ParseRemovalTiming(s string) (RemovalTiming, bool) {
	if s == "" {
		return TimingAfter, true
	}
	t := RemovalTiming(s)
	return t, t.Valid()
}
