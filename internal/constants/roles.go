package constants

const (
	Proponent = "proponent"
	Reviewer  = "reviewer"
	Validator = "validator"
	Verifier  = "verifier"
	Admin     = "registry_admin"
	Holder    = "holder"
)

// ValidRoles is the set of roles an actor credential may carry.
var ValidRoles = []string{Proponent, Reviewer, Validator, Verifier, Admin, Holder}

// IsValidRole returns true if role is one of the known registry roles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
