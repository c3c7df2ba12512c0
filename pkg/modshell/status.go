package modshell

// RegistrationStatus is the lifecycle phase of a single registry.
type RegistrationStatus string

// Registration statuses, in lifecycle order.
const (
	StatusNone                            RegistrationStatus = "none"
	StatusRegisteringModules              RegistrationStatus = "registering-modules"
	StatusModulesRegistered               RegistrationStatus = "modules-registered"
	StatusRegisteringDeferredRegistration RegistrationStatus = "registering-deferred-registration"
	StatusReady                           RegistrationStatus = "ready"
)

// String implements fmt.Stringer.
func (s RegistrationStatus) String() string {
	return string(s)
}

// IsValid reports whether s is one of the five known statuses.
func (s RegistrationStatus) IsValid() bool {
	switch s {
	case StatusNone, StatusRegisteringModules, StatusModulesRegistered,
		StatusRegisteringDeferredRegistration, StatusReady:
		return true
	}
	return false
}

// CanTransition reports whether a registry may move from one status to
// another. Statuses only ever move forward; ready is terminal.
func CanTransition(from, to RegistrationStatus) bool {
	switch from {
	case StatusNone:
		// an empty batch goes straight to ready
		return to == StatusRegisteringModules || to == StatusReady
	case StatusRegisteringModules:
		return to == StatusModulesRegistered || to == StatusReady
	case StatusModulesRegistered:
		return to == StatusRegisteringDeferredRegistration
	case StatusRegisteringDeferredRegistration:
		return to == StatusReady
	}
	return false
}
