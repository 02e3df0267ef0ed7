package secrets

import (
	"context"
	"errors"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"depotci/internal/errs"
)

// VaultStore reads KV version 2 secrets.
type VaultStore struct {
	client *vault.Client
}

// NewVaultStore builds a client for address authenticated with token.
// Both values are required. The client never retries.
func NewVaultStore(address, token string) (*VaultStore, error) {
	if address == "" {
		return nil, errs.Configf(`"main.vault_address" should be specified when using secrets`)
	}
	if token == "" {
		return nil, errs.Configf(`"main.vault_token" should be specified when using secrets`)
	}

	cfg := vault.DefaultConfig()
	cfg.Address = address
	cfg.MaxRetries = 0

	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.CodeConfiguration, err, "create vault client for %s", address)
	}
	client.SetToken(token)

	return &VaultStore{client: client}, nil
}

// ReadSecret returns the latest version of the secret at mount/path.
func (s *VaultStore) ReadSecret(ctx context.Context, mount, path string) (map[string]interface{}, error) {
	secret, err := s.client.KVv2(mount).Get(ctx, path)
	if errors.Is(err, vault.ErrSecretNotFound) {
		return nil, fmt.Errorf("%w at %s/%s", ErrSecretNotFound, mount, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", mount, path, err)
	}
	if secret == nil || len(secret.Data) == 0 {
		return nil, fmt.Errorf("%w at %s/%s", ErrSecretNotFound, mount, path)
	}
	return secret.Data, nil
}
