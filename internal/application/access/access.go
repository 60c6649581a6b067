// Package access applies role permissions and ownership rules to an authenticated actor.
package access

import (
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"
)

// Require fails with ForbiddenError unless one of the actor's roles grants permission.
func Require(actor domain.Actor, permission string) error {
	if actor.ID == "" || !constants.AllowedAny(permission, actor.Roles) {
		return domain.NewForbidden(actor.ID, permission)
	}
	return nil
}

// IsOwnerOrAdmin reports whether the actor owns the resource or administers the registry.
func IsOwnerOrAdmin(actor domain.Actor, ownerID string) bool {
	return actor.ID == ownerID || actor.HasRole(constants.Admin)
}

// RequireOwner is Require plus the ownership rule.
func RequireOwner(actor domain.Actor, permission, ownerID string) error {
	if err := Require(actor, permission); err != nil {
		return err
	}
	if !IsOwnerOrAdmin(actor, ownerID) {
		return domain.NewForbidden(actor.ID, permission)
	}
	return nil
}
