package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wallstreetbar/go/internal/market/signals"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CredentialCache keeps the admin Basic credentials in the shared store so
// other admin contexts can reuse the session. The values are stored in the
// clear, as the backend's Basic scheme requires them verbatim.
type CredentialCache struct {
	store sharedstore.Store
}

func NewCredentialCache(store sharedstore.Store) *CredentialCache {
	return &CredentialCache{store: store}
}

// Load returns the cached credentials. An unreadable entry is removed.
func (c *CredentialCache) Load(ctx context.Context) (Credentials, bool, error) {
	value, ok, err := c.store.Get(ctx, signals.KeyAdminAuth)
	if err != nil {
		return Credentials{}, false, fmt.Errorf("read credentials: %w", err)
	}
	if !ok {
		return Credentials{}, false, nil
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(value), &creds); err != nil || creds.Username == "" {
		log.Warn().Msg("discarding unreadable cached credentials")
		return Credentials{}, false, c.Clear(ctx)
	}
	return creds, true, nil
}

func (c *CredentialCache) Save(ctx context.Context, creds Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := c.store.Set(ctx, signals.KeyAdminAuth, string(raw)); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (c *CredentialCache) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, signals.KeyAdminAuth); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
