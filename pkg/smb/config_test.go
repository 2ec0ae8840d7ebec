package smb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/secrets"
)

type memoryConfigStore struct {
	row     *models.SMBConfiguration
	reads   int
	updated map[int64]string
}

func (s *memoryConfigStore) GetActiveSMB(ctx context.Context) (*models.SMBConfiguration, error) {
	s.reads++
	if s.row == nil {
		return nil, apperrors.NotFound("active smb configuration", "")
	}
	c := *s.row
	return &c, nil
}

func (s *memoryConfigStore) UpdateSMBPassword(ctx context.Context, id int64, encrypted string) error {
	if s.updated == nil {
		s.updated = map[int64]string{}
	}
	s.updated[id] = encrypted
	s.row.EncryptedPassword = encrypted
	return nil
}

func newCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	c, err := secrets.New("master-secret-for-tests")
	require.NoError(t, err)
	return c
}

var envFallback = config.SMBConfig{
	Server:    "fs-env",
	ShareName: "Overtime",
	Username:  "svc",
	Password:  "env-pass",
	Port:      445,
}

func TestActiveUsesDatabaseRow(t *testing.T) {
	cipher := newCipher(t)
	sealed, err := cipher.Encrypt("s3cret")
	require.NoError(t, err)
	store := &memoryConfigStore{row: &models.SMBConfiguration{
		ID: 7, Name: "main", Server: "fs01", Share: "HR", Username: "ot", EncryptedPassword: sealed,
		Domain: "CORP", Port: 1445, PathPrefix: `OT\exports`, IsActive: true,
	}}
	logger, _ := testLogger()
	svc := NewConfigService(store, cipher, envFallback, 0, logger)

	s, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceDatabase, s.Source)
	assert.Equal(t, int64(7), s.ConfigID)
	assert.Equal(t, "s3cret", s.Password)
	assert.Equal(t, "OT/exports/2026-02-26_2026-03-25/a.xlsx", s.Remote("2026-02-26_2026-03-25/a.xlsx"))
	assert.Empty(t, store.updated)
}

func TestActiveFallsBackToEnvironment(t *testing.T) {
	logger, _ := testLogger()
	svc := NewConfigService(&memoryConfigStore{}, newCipher(t), envFallback, 0, logger)

	s, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceEnvironment, s.Source)
	assert.Equal(t, "fs-env", s.Server)
	assert.Equal(t, "env-pass", s.Password)
	assert.Equal(t, "a.xlsx", s.Remote("/a.xlsx"))
}

func TestActiveNotConfigured(t *testing.T) {
	logger, _ := testLogger()
	svc := NewConfigService(&memoryConfigStore{}, newCipher(t), config.SMBConfig{}, 0, logger)

	_, err := svc.Active(context.Background())
	require.Error(t, err)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotConfigured, e.Code)
}

func TestActiveIsCachedUntilInvalidated(t *testing.T) {
	cipher := newCipher(t)
	sealed, _ := cipher.Encrypt("one")
	store := &memoryConfigStore{row: &models.SMBConfiguration{ID: 1, Server: "fs01", Share: "HR", EncryptedPassword: sealed}}
	logger, _ := testLogger()
	svc := NewConfigService(store, cipher, envFallback, 0, logger)
	ctx := context.Background()

	_, err := svc.Active(ctx)
	require.NoError(t, err)
	store.row.Server = "fs02"
	s, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fs01", s.Server)
	assert.Equal(t, 1, store.reads)

	svc.Invalidate()
	s, err = svc.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fs02", s.Server)
	assert.Equal(t, 2, store.reads)
}

func TestLegacyPasswordIsMigrated(t *testing.T) {
	cipher := newCipher(t)
	legacy, err := cipher.EncryptLegacy("old-pass")
	require.NoError(t, err)
	store := &memoryConfigStore{row: &models.SMBConfiguration{ID: 3, Name: "legacy", Server: "fs01", Share: "HR", EncryptedPassword: legacy}}
	logger, hook := testLogger()
	svc := NewConfigService(store, cipher, envFallback, 0, logger)

	s, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-pass", s.Password)

	require.Contains(t, store.updated, int64(3))
	plain, usedLegacy, err := cipher.Decrypt(store.updated[3])
	require.NoError(t, err)
	assert.Equal(t, "old-pass", plain)
	assert.False(t, usedLegacy)

	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.AllEntries()[0].Message, "re-save")
}

func TestUndecryptablePasswordIsFatal(t *testing.T) {
	other, err := secrets.New("another-secret")
	require.NoError(t, err)
	sealed, _ := other.Encrypt("x")
	store := &memoryConfigStore{row: &models.SMBConfiguration{ID: 4, Server: "fs01", Share: "HR", EncryptedPassword: sealed}}
	logger, _ := testLogger()
	svc := NewConfigService(store, newCipher(t), envFallback, 0, logger)

	_, err = svc.Active(context.Background())
	assert.Equal(t, apperrors.KindFatal, apperrors.KindOf(err))
}
