package domain

import (
	"strings"
	"time"
)

// ActorCredential is an API credential of a registry participant. Keys are presented
// as "<actor_id>.<secret>"; only the bcrypt hash of the secret is stored.
type ActorCredential struct {
	ActorID     string    `gorm:"column:actor_id;primaryKey" json:"actor_id"`
	DisplayName string    `gorm:"column:display_name;not null" json:"display_name"`
	KeyHash     string    `gorm:"column:key_hash;not null" json:"-"`
	Roles       string    `gorm:"column:roles;not null" json:"roles"`
	Disabled    bool      `gorm:"column:disabled;not null;default:false" json:"disabled"`
	CreatedAt   time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (ActorCredential) TableName() string {
	return "ActorCredentials"
}

// RoleList splits the stored comma-separated roles.
func (c *ActorCredential) RoleList() []string {
	var out []string
	for _, r := range strings.Split(c.Roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Actor is the authenticated principal of a call, supplied by the auth provider.
type Actor struct {
	ID    string   `json:"actor_id"`
	Roles []string `json:"roles"`
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
