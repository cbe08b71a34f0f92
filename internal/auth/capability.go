package auth

// Capability is a type-level tag naming the access mode of an [Authority].
//
// The set is closed: only [UserDelegated] and [AppOnly] implement it.
type Capability interface {
	capability() string
}

// UserDelegated is an end user's delegated authorization with refresh-token rotation.
type UserDelegated struct{}

func (UserDelegated) capability() string { return "user" }

// AppOnly is an application credential re-acquired wholesale on expiry.
type AppOnly struct{}

func (AppOnly) capability() string { return "app" }

// CapabilityName returns the label of C, used as a store key and event source.
func CapabilityName[C Capability]() string {
	var c C
	return c.capability()
}
