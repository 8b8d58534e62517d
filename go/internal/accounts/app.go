package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/doodlegame/doodle/go/internal/store"
	"github.com/rs/zerolog/log"
)

const maxDisplayNameLength = 32

var (
	ErrIncorrectSecret    = errors.New("incorrect display name or secret")
	ErrInvalidDisplayName = errors.New("display name must be 1-32 characters")
	ErrEmptySecret        = errors.New("secret is required")
	ErrDisplayNameTaken   = store.ErrDuplicateDisplayName
)

// IdentityRepository is what the app needs from persistence.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, displayName, secretHash string) (store.Identity, error)
	IdentityByDisplayName(ctx context.Context, displayName string) (store.Identity, error)
}

// Hasher turns secrets into storable hashes.
type Hasher interface {
	Hash(secret string) (string, error)
	Compare(hash, secret string) (bool, error)
}

// App handles register and login.
type App struct {
	repo   IdentityRepository
	hasher Hasher
}

func NewApp(repo IdentityRepository, hasher Hasher) *App {
	return &App{repo: repo, hasher: hasher}
}

// Register creates an identity. A taken display name yields ErrDisplayNameTaken.
func (a *App) Register(ctx context.Context, displayName, secret string) (store.Identity, error) {
	displayName, err := validate(displayName, secret)
	if err != nil {
		return store.Identity{}, err
	}

	hash, err := a.hasher.Hash(secret)
	if err != nil {
		return store.Identity{}, err
	}

	identity, err := a.repo.CreateIdentity(ctx, displayName, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateDisplayName) {
			return store.Identity{}, ErrDisplayNameTaken
		}
		return store.Identity{}, fmt.Errorf("failed to register: %w", err)
	}

	log.Info().Int64("identity_id", identity.ID).Str("display_name", identity.DisplayName).Msg("identity registered")
	return identity, nil
}

// Login checks the secret. Unknown names and wrong secrets both yield ErrIncorrectSecret.
func (a *App) Login(ctx context.Context, displayName, secret string) (store.Identity, error) {
	displayName, err := validate(displayName, secret)
	if err != nil {
		return store.Identity{}, err
	}

	identity, err := a.repo.IdentityByDisplayName(ctx, displayName)
	if err != nil {
		if errors.Is(err, store.ErrIdentityNotFound) {
			return store.Identity{}, ErrIncorrectSecret
		}
		return store.Identity{}, fmt.Errorf("failed to login: %w", err)
	}

	ok, err := a.hasher.Compare(identity.SecretHash, secret)
	if err != nil {
		return store.Identity{}, err
	}
	if !ok {
		return store.Identity{}, ErrIncorrectSecret
	}
	return identity, nil
}

func validate(displayName, secret string) (string, error) {
	displayName = strings.TrimSpace(displayName)
	if n := utf8.RuneCountInString(displayName); n == 0 || n > maxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	if secret == "" {
		return "", ErrEmptySecret
	}
	return displayName, nil
}
