package constants

// PermissionRoles maps each permission to the roles allowed to perform it. Ownership
// rules (proponent of the project, owner of a credit) are enforced on top of this.
var PermissionRoles = map[string][]string{
	ViewData:        {Proponent, Reviewer, Validator, Verifier, Admin, Holder},
	SubmitProject:   {Proponent, Admin},
	AssignReviewer:  {Reviewer, Admin},
	ApproveProject:  {Validator},
	RejectProject:   {Reviewer, Validator},
	ArchiveProject:  {Admin},
	SubmitMRV:       {Proponent, Admin},
	VerifyMRV:       {Verifier},
	ArchiveMRV:      {Admin},
	IssueCredits:    {Verifier, Admin},
	TransferCredits: {Proponent, Holder, Admin},
	RetireCredits:   {Proponent, Holder, Admin},
	Reconcile:       {Admin},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// AllowedAny returns true if any of roles grants the permission.
func AllowedAny(permission string, roles []string) bool {
	for _, r := range roles {
		if AllowedRole(permission, r) {
			return true
		}
	}
	return false
}
