package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athebyme/catalog-sync/internal/domain/models"
	"github.com/athebyme/catalog-sync/pkg/errs"
)

type fakeSourceAuth struct {
	mu           sync.Mutex
	loginCalls   int
	refreshCalls int
	loginErr     error
	refreshErr   error
	token        string
	expiresAt    time.Time
}

func (f *fakeSourceAuth) Login(_ context.Context, _ *models.Integration) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return "", time.Time{}, f.loginErr
	}
	return f.token, f.expiresAt, nil
}

func (f *fakeSourceAuth) Refresh(_ context.Context, _ *models.Integration) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", time.Time{}, f.refreshErr
	}
	return f.token, f.expiresAt, nil
}

type fakeTargetAuth struct {
	mu           sync.Mutex
	refreshCalls int
	deviceCalls  int
	refreshErr   error
	deviceErr    error
	access       string
	refresh      string
	accessExp    time.Time
	refreshExp   time.Time
}

func (f *fakeTargetAuth) Refresh(_ context.Context, _ *models.Integration) (string, string, time.Time, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", "", time.Time{}, time.Time{}, f.refreshErr
	}
	return f.access, f.refresh, f.accessExp, f.refreshExp, nil
}

func (f *fakeTargetAuth) DeviceLogin(_ context.Context, _ *models.Integration) (string, string, time.Time, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceCalls++
	if f.deviceErr != nil {
		return "", "", time.Time{}, time.Time{}, f.deviceErr
	}
	return f.access, f.refresh, f.accessExp, f.refreshExp, nil
}

func TestTokenManager_Source(t *testing.T) {
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	t.Run("valid stored token returns without network calls", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.SourceToken = "stored-token"
		integration.SourceTokenExpiresAt = future
		require.NoError(t, store.SaveIntegration(ctx, integration))

		sourceAuth := &fakeSourceAuth{}
		manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

		token, err := manager.AccessToken(ctx, integration, models.PlatformSource)
		require.NoError(t, err)
		assert.Equal(t, "stored-token", token)
		assert.Equal(t, 0, sourceAuth.loginCalls)
		assert.Equal(t, 0, sourceAuth.refreshCalls)
	})

	t.Run("expired token refreshes once and persists", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.SourceToken = "expired-token"
		integration.SourceTokenExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, store.SaveIntegration(ctx, integration))

		sourceAuth := &fakeSourceAuth{token: "fresh-token", expiresAt: future}
		manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

		token, err := manager.AccessToken(ctx, integration, models.PlatformSource)
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", token)
		assert.Equal(t, 1, sourceAuth.refreshCalls)
		assert.Equal(t, 0, sourceAuth.loginCalls)

		persisted, err := store.GetIntegration(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", persisted.SourceToken)
	})

	t.Run("failed refresh falls back to full login", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.SourceToken = "expired-token"
		integration.SourceTokenExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, store.SaveIntegration(ctx, integration))

		sourceAuth := &fakeSourceAuth{token: "login-token", expiresAt: future, refreshErr: errors.New("refresh rejected")}
		manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

		token, err := manager.AccessToken(ctx, integration, models.PlatformSource)
		require.NoError(t, err)
		assert.Equal(t, "login-token", token)
		assert.Equal(t, 1, sourceAuth.refreshCalls)
		assert.Equal(t, 1, sourceAuth.loginCalls)
	})

	t.Run("double failure deactivates integration", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.SourceToken = "expired-token"
		integration.SourceTokenExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, store.SaveIntegration(ctx, integration))

		sourceAuth := &fakeSourceAuth{
			refreshErr: errors.New("refresh rejected"),
			loginErr:   errors.New("bad credentials"),
		}
		manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

		_, err := manager.AccessToken(ctx, integration, models.PlatformSource)

		var authErr *errs.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, int64(1), authErr.IntegrationID)

		persisted, getErr := store.GetIntegration(ctx, 1)
		require.NoError(t, getErr)
		assert.False(t, persisted.Active)
	})

	t.Run("inactive integration is rejected immediately", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.Active = false
		require.NoError(t, store.SaveIntegration(ctx, integration))

		sourceAuth := &fakeSourceAuth{}
		manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

		_, err := manager.AccessToken(ctx, integration, models.PlatformSource)

		var authErr *errs.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, 0, sourceAuth.loginCalls)
	})

	t.Run("invalidate forces refresh on next call", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.SourceToken = "stored-token"
		integration.SourceTokenExpiresAt = future
		require.NoError(t, store.SaveIntegration(ctx, integration))

		sourceAuth := &fakeSourceAuth{token: "fresh-token", expiresAt: future}
		manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

		first, err := manager.AccessToken(ctx, integration, models.PlatformSource)
		require.NoError(t, err)
		assert.Equal(t, "stored-token", first)

		manager.Invalidate(integration, models.PlatformSource)

		second, err := manager.AccessToken(ctx, integration, models.PlatformSource)
		require.NoError(t, err)
		assert.Equal(t, "fresh-token", second)
		assert.Equal(t, 1, sourceAuth.refreshCalls)
	})
}

func TestTokenManager_Target(t *testing.T) {
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	t.Run("valid refresh token is exchanged for new pair", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.TargetAccessToken = "expired-access"
		integration.TargetAccessExpiresAt = time.Now().UTC().Add(-time.Minute)
		integration.TargetRefreshToken = "valid-refresh"
		integration.TargetRefreshExpiresAt = future
		require.NoError(t, store.SaveIntegration(ctx, integration))

		targetAuth := &fakeTargetAuth{
			access: "new-access", refresh: "new-refresh",
			accessExp: future, refreshExp: future.Add(24 * time.Hour),
		}
		manager := NewTokenManager(store, &fakeSourceAuth{}, targetAuth, noopLogger{})

		token, err := manager.AccessToken(ctx, integration, models.PlatformTarget)
		require.NoError(t, err)
		assert.Equal(t, "new-access", token)
		assert.Equal(t, 1, targetAuth.refreshCalls)
		assert.Equal(t, 0, targetAuth.deviceCalls)

		persisted, err := store.GetIntegration(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "new-refresh", persisted.TargetRefreshToken)
	})

	t.Run("expired refresh token goes straight to device login", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.TargetAccessToken = "expired-access"
		integration.TargetAccessExpiresAt = time.Now().UTC().Add(-time.Minute)
		integration.TargetRefreshToken = "expired-refresh"
		integration.TargetRefreshExpiresAt = time.Now().UTC().Add(-time.Minute)
		require.NoError(t, store.SaveIntegration(ctx, integration))

		targetAuth := &fakeTargetAuth{
			access: "device-access", refresh: "device-refresh",
			accessExp: future, refreshExp: future.Add(24 * time.Hour),
		}
		manager := NewTokenManager(store, &fakeSourceAuth{}, targetAuth, noopLogger{})

		token, err := manager.AccessToken(ctx, integration, models.PlatformTarget)
		require.NoError(t, err)
		assert.Equal(t, "device-access", token)
		assert.Equal(t, 0, targetAuth.refreshCalls)
		assert.Equal(t, 1, targetAuth.deviceCalls)
	})

	t.Run("double failure ends with authentication error", func(t *testing.T) {
		store := newMemStorage()
		integration := activeIntegration(1)
		integration.TargetAccessToken = "expired-access"
		integration.TargetAccessExpiresAt = time.Now().UTC().Add(-time.Minute)
		integration.TargetRefreshToken = "valid-refresh"
		integration.TargetRefreshExpiresAt = future
		require.NoError(t, store.SaveIntegration(ctx, integration))

		targetAuth := &fakeTargetAuth{
			refreshErr: errors.New("refresh rejected"),
			deviceErr:  errors.New("device denied"),
		}
		manager := NewTokenManager(store, &fakeSourceAuth{}, targetAuth, noopLogger{})

		_, err := manager.AccessToken(ctx, integration, models.PlatformTarget)

		var authErr *errs.AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, string(models.PlatformTarget), authErr.Platform)

		persisted, getErr := store.GetIntegration(ctx, 1)
		require.NoError(t, getErr)
		assert.False(t, persisted.Active)
	})
}

func TestTokenManager_ConcurrentRefresh(t *testing.T) {
	ctx := context.Background()

	store := newMemStorage()
	integration := activeIntegration(1)
	integration.SourceToken = "expired-token"
	integration.SourceTokenExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.SaveIntegration(ctx, integration))

	sourceAuth := &fakeSourceAuth{token: "fresh-token", expiresAt: time.Now().UTC().Add(time.Hour)}
	manager := NewTokenManager(store, sourceAuth, &fakeTargetAuth{}, noopLogger{})

	const callers = 25
	tokens := make([]string, callers)
	callErr := make([]error, callers)

	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-release
			tokens[i], callErr[i] = manager.AccessToken(ctx, integration, models.PlatformSource)
		}()
	}
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, callErr[i])
		assert.Equal(t, "fresh-token", tokens[i])
	}

	// Обновление выполнилось ровно один раз на всех вызывающих
	assert.Equal(t, 1, sourceAuth.refreshCalls)
	assert.Equal(t, 0, sourceAuth.loginCalls)
}
