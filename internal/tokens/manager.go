// package tokens manages the OAuth token lifecycle for linked streaming
// accounts: encrypted at-rest storage, expiry-aware refresh and revocation
// handling. Plaintext tokens exist only in transit through this package.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
	"github.com/desertthunder/melodymind/internal/shared"
	"github.com/desertthunder/melodymind/internal/vault"
	"golang.org/x/sync/singleflight"
)

// Provider is the OAuth token endpoint boundary.
type Provider interface {
	Exchange(ctx context.Context, code string) (*services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

// Manager owns the token lifecycle. Concurrent AccessToken calls for the
// same user share one refresh via singleflight; different users refresh
// independently.
type Manager struct {
	store    *session.Store
	vault    *vault.Vault
	provider Provider
	group    singleflight.Group
	logger   *log.Logger
}

// NewManager creates a token manager.
func NewManager(store *session.Store, v *vault.Vault, provider Provider, logger *log.Logger) *Manager {
	return &Manager{store: store, vault: v, provider: provider, logger: logger}
}

// Linked reports whether the user has a stored account link.
func (m *Manager) Linked(userID int64) bool {
	_, ok := m.store.Link(userID)
	return ok
}

// Exchange trades an authorization code for a token pair and stores it
// encrypted, replacing any previous link.
func (m *Manager) Exchange(ctx context.Context, userID int64, code string) error {
	pair, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return err
	}
	return m.storePair(userID, pair)
}

// AccessToken returns a valid plaintext access token for the user,
// refreshing transparently when the stored one is at or past its adjusted
// expiry. A revoked or undecryptable link is cleared so the user is routed
// back through linking.
func (m *Manager) AccessToken(ctx context.Context, userID int64) (string, error) {
	link, ok := m.store.Link(userID)
	if !ok {
		return "", shared.ErrNotLinked
	}

	if time.Now().Before(link.ExpiresAt) {
		plaintext, err := m.vault.Decrypt(link.AccessToken)
		if err == nil {
			return string(plaintext), nil
		}
		// Stored ciphertext no longer decrypts (key rotation, corruption).
		// The refresh token gets one repair attempt before the link goes.
		m.logger.Warn("stored access token failed to decrypt, attempting refresh", "user_id", userID)
	}

	return m.refresh(ctx, userID)
}

// refresh rotates the user's token pair. The singleflight key collapses
// concurrent expiry hits into one provider call.
func (m *Manager) refresh(ctx context.Context, userID int64) (string, error) {
	token, err, _ := m.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		link, ok := m.store.Link(userID)
		if !ok {
			return "", shared.ErrNotLinked
		}

		// Another waiter may have refreshed while this call queued.
		if time.Now().Before(link.ExpiresAt) {
			if plaintext, err := m.vault.Decrypt(link.AccessToken); err == nil {
				return string(plaintext), nil
			}
		}

		refreshToken, err := m.vault.Decrypt(link.RefreshToken)
		if err != nil {
			m.store.ClearLink(userID)
			m.logger.Error("refresh token failed to decrypt, link cleared", "user_id", userID)
			return "", fmt.Errorf("%w: stored refresh token unreadable", shared.ErrAuthExpiredOrRevoked)
		}

		pair, err := m.provider.Refresh(ctx, string(refreshToken))
		if err != nil {
			if errors.Is(err, shared.ErrAuthExpiredOrRevoked) {
				m.store.ClearLink(userID)
				m.logger.Info("refresh token revoked, link cleared", "user_id", userID)
				return "", err
			}
			// Transient failure: the stored pair stays untouched so a later
			// attempt can still succeed.
			return "", fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
		}

		if err := m.storePair(userID, pair); err != nil {
			return "", err
		}
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// storePair encrypts and stores a token pair as one atomic replacement.
func (m *Manager) storePair(userID int64, pair *services.TokenPair) error {
	accessCT, err := m.vault.Encrypt([]byte(pair.AccessToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	refreshCT, err := m.vault.Encrypt([]byte(pair.RefreshToken))
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	return m.store.SetLink(userID, session.AccountLink{
		AccessToken:  accessCT,
		RefreshToken: refreshCT,
		ExpiresAt:    pair.ExpiresAt,
	})
}

// Unlink removes the user's account link.
func (m *Manager) Unlink(userID int64) {
	m.store.ClearLink(userID)
}
