// Package auth is the registry's authentication provider: it turns an API key into
// the (actor id, roles) pair every engine operation is called with.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"ogcr-registry/internal/application/documents"
	"ogcr-registry/internal/constants"
	"ogcr-registry/internal/domain"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Authenticator resolves API keys to actors (for production GORM or test doubles).
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*domain.Actor, error)
}

// Service stores credentials in ActorCredentials and checks keys with bcrypt.
type Service struct {
	DB *gorm.DB
	// Cost is the bcrypt cost of new credentials; 0 means bcrypt.DefaultCost.
	Cost int
}

// SplitKey separates "<actor_id>.<secret>". Actor ids may contain dots; the secret may not.
func SplitKey(key string) (actorID, secret string, err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", ErrMissingKey
	}
	i := strings.LastIndex(key, ".")
	if i <= 0 || i == len(key)-1 {
		return "", "", ErrMalformedKey
	}
	return key[:i], key[i+1:], nil
}

func (s *Service) Authenticate(ctx context.Context, key string) (*domain.Actor, error) {
	actorID, secret, err := SplitKey(key)
	if err != nil {
		return nil, err
	}
	var cred domain.ActorCredential
	if err := s.DB.WithContext(ctx).Where("actor_id = ?", actorID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownActor
		}
		return nil, err
	}
	if cred.Disabled {
		return nil, ErrDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.KeyHash), []byte(secret)); err != nil {
		return nil, ErrIncorrectSecret
	}
	return &domain.Actor{ID: cred.ActorID, Roles: cred.RoleList()}, nil
}

// CreateCredential stores a new credential and returns its API key. The secret is
// shown once; only its hash is kept.
func (s *Service) CreateCredential(ctx context.Context, actorID, displayName string, roles []string) (string, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", ErrActorIDRequired
	}
	if len(roles) == 0 {
		return "", ErrInvalidRole
	}
	for _, r := range roles {
		if !constants.IsValidRole(r) {
			return "", ErrInvalidRole
		}
	}
	secret, err := newSecret()
	if err != nil {
		return "", err
	}
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	if displayName == "" {
		displayName = actorID
	}
	err = s.DB.WithContext(ctx).Create(&domain.ActorCredential{
		ActorID:     actorID,
		DisplayName: displayName,
		KeyHash:     string(hash),
		Roles:       strings.Join(roles, ","),
	}).Error
	if err != nil {
		if documents.IsDuplicate(err) {
			return "", ErrCredentialExists
		}
		return "", err
	}
	return actorID + "." + secret, nil
}

// Disable revokes a credential without deleting it.
func (s *Service) Disable(ctx context.Context, actorID string) error {
	res := s.DB.WithContext(ctx).Model(&domain.ActorCredential{}).
		Where("actor_id = ?", actorID).Update("disabled", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownActor
	}
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
