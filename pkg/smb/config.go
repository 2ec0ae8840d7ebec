package smb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/config"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/secrets"
)

// Where a Settings value came from
const (
	SourceDatabase    = "database"
	SourceEnvironment = "environment"
)

const activeKey = "active"

// CodeNotConfigured is returned when neither a row nor the environment names a share
const CodeNotConfigured = "smb_not_configured"

// Settings is a resolved share with a plaintext password
type Settings struct {
	ConfigID   int64
	Source     string
	Server     string
	Share      string
	Username   string
	Password   string
	Domain     string
	Port       int
	PathPrefix string
}

func (s *Settings) port() int {
	if s.Port <= 0 {
		return 445
	}
	return s.Port
}

// key identifies the session parameters a pool was built for
func (s *Settings) key() string {
	return strings.Join([]string{s.Server, fmt.Sprint(s.port()), s.Share, s.Domain, s.Username, s.Password}, "\x00")
}

// Remote prefixes p with the configured path prefix
func (s *Settings) Remote(p string) string {
	prefix := strings.Trim(strings.ReplaceAll(s.PathPrefix, `\`, "/"), "/")
	p = strings.TrimLeft(strings.ReplaceAll(p, `\`, "/"), "/")
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}

// ConfigStore reads and migrates SMB configuration rows
type ConfigStore interface {
	GetActiveSMB(ctx context.Context) (*models.SMBConfiguration, error)
	UpdateSMBPassword(ctx context.Context, id int64, encrypted string) error
}

// ConfigService resolves the active share, caching the result
type ConfigService struct {
	store    ConfigStore
	cipher   *secrets.Cipher
	fallback config.SMBConfig
	cache    *expirable.LRU[string, *Settings]
	group    singleflight.Group
	logger   *logrus.Entry
}

// NewConfigService creates the resolver. ttl defaults to 60s.
func NewConfigService(store ConfigStore, cipher *secrets.Cipher, fallback config.SMBConfig, ttl time.Duration, logger *logrus.Entry) *ConfigService {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ConfigService{
		store:    store,
		cipher:   cipher,
		fallback: fallback,
		cache:    expirable.NewLRU[string, *Settings](1, nil, ttl),
		logger:   logger.WithField("component", "smb-config"),
	}
}

// Invalidate drops the cached active configuration
func (s *ConfigService) Invalidate() {
	s.cache.Purge()
}

// Active returns the active share, falling back to the environment
func (s *ConfigService) Active(ctx context.Context) (*Settings, error) {
	if cached, ok := s.cache.Get(activeKey); ok {
		return cached, nil
	}
	v, err, _ := s.group.Do(activeKey, func() (interface{}, error) {
		settings, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Add(activeKey, settings)
		return settings, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Settings), nil
}

func (s *ConfigService) load(ctx context.Context) (*Settings, error) {
	row, err := s.store.GetActiveSMB(ctx)
	switch {
	case err == nil:
		return s.fromRow(ctx, row)
	case apperrors.KindOf(err) != apperrors.KindNotFound:
		return nil, err
	}

	if !s.fallback.Configured() {
		return nil, apperrors.New(apperrors.KindInfrastructure, CodeNotConfigured, "no SMB configuration is active")
	}
	return &Settings{
		Source:     SourceEnvironment,
		Server:     s.fallback.Server,
		Share:      s.fallback.ShareName,
		Username:   s.fallback.Username,
		Password:   s.fallback.Password,
		Domain:     s.fallback.Domain,
		Port:       s.fallback.Port,
		PathPrefix: s.fallback.PathPrefix,
	}, nil
}

func (s *ConfigService) fromRow(ctx context.Context, row *models.SMBConfiguration) (*Settings, error) {
	password, err := s.Decrypt(ctx, row)
	if err != nil {
		return nil, err
	}
	return &Settings{
		ConfigID:   row.ID,
		Source:     SourceDatabase,
		Server:     row.Server,
		Share:      row.Share,
		Username:   row.Username,
		Password:   password,
		Domain:     row.Domain,
		Port:       row.Port,
		PathPrefix: row.PathPrefix,
	}, nil
}

// Decrypt opens the stored password of row. A value only the legacy key
// opens is re-sealed under the current key.
func (s *ConfigService) Decrypt(ctx context.Context, row *models.SMBConfiguration) (string, error) {
	if row.EncryptedPassword == "" {
		return "", nil
	}
	plain, legacy, err := s.cipher.Decrypt(row.EncryptedPassword)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindFatal, "smb_password_undecryptable", err,
			fmt.Sprintf("password of SMB configuration %q cannot be decrypted; re-enter it", row.Name))
	}
	if !legacy {
		return plain, nil
	}

	log := s.logger.WithFields(logrus.Fields{"config_id": row.ID, "config_name": row.Name})
	log.Warn("smb password decrypted with legacy key; re-save the configuration to migrate it")
	sealed, err := s.cipher.Encrypt(plain)
	if err == nil {
		err = s.store.UpdateSMBPassword(ctx, row.ID, sealed)
	}
	if err != nil {
		log.WithError(err).Warn("re-encrypting legacy smb password failed")
	}
	return plain, nil
}
