package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/httputil"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/rbac"
	"github.com/platinummonkey/ptbhub/pkg/signals"
	"github.com/platinummonkey/ptbhub/pkg/smb"
)

// SMBStore persists share configurations
type SMBStore interface {
	ListSMB(ctx context.Context) ([]*models.SMBConfiguration, error)
	GetSMB(ctx context.Context, id int64) (*models.SMBConfiguration, error)
	SaveSMB(ctx context.Context, c *models.SMBConfiguration) error
	ActivateSMB(ctx context.Context, id int64) error
	DeleteSMB(ctx context.Context, id int64) error
}

// PasswordSealer encrypts share passwords at rest
type PasswordSealer interface {
	Encrypt(plaintext string) (string, error)
}

// PasswordOpener recovers the stored password of a configuration
type PasswordOpener interface {
	Decrypt(ctx context.Context, row *models.SMBConfiguration) (string, error)
}

// ConnectionTester dials a share once
type ConnectionTester interface {
	TestConnection(ctx context.Context, s *smb.Settings) error
}

// SignalPublisher publishes domain signals
type SignalPublisher interface {
	Publish(ctx context.Context, sig signals.Signal)
}

// SMBHandlers serves /api/v1/smb-configurations
type SMBHandlers struct {
	store     SMBStore
	sealer    PasswordSealer
	passwords PasswordOpener
	tester    ConnectionTester
	bus       SignalPublisher
}

// NewSMBHandlers creates the handlers; tester and bus may be nil
func NewSMBHandlers(store SMBStore, sealer PasswordSealer, passwords PasswordOpener, tester ConnectionTester, bus SignalPublisher) *SMBHandlers {
	return &SMBHandlers{store: store, sealer: sealer, passwords: passwords, tester: tester, bus: bus}
}

// RegisterRoutes registers SMB configuration routes
func (h *SMBHandlers) RegisterRoutes(router *mux.Router, guard Guard) {
	router.Handle("/smb-configurations/", guard(rbac.ResourceSMBSettings, h.list)).Methods(http.MethodGet)
	router.Handle("/smb-configurations/", guard(rbac.ResourceSMBSettings, h.create)).Methods(http.MethodPost)
	router.Handle("/smb-configurations/test-connection/", guard(rbac.ResourceSMBSettings, h.testUnsaved)).Methods(http.MethodPost)
	router.Handle("/smb-configurations/{id:[0-9]+}/", guard(rbac.ResourceSMBSettings, h.get)).Methods(http.MethodGet)
	router.Handle("/smb-configurations/{id:[0-9]+}/", guard(rbac.ResourceSMBSettings, h.update)).Methods(http.MethodPut, http.MethodPatch)
	router.Handle("/smb-configurations/{id:[0-9]+}/", guard(rbac.ResourceSMBSettings, h.delete)).Methods(http.MethodDelete)
	router.Handle("/smb-configurations/{id:[0-9]+}/activate/", guard(rbac.ResourceSMBSettings, h.activate)).Methods(http.MethodPost)
	router.Handle("/smb-configurations/{id:[0-9]+}/test-connection/", guard(rbac.ResourceSMBSettings, h.testSaved)).Methods(http.MethodPost)
}

// smbRequest is the writable shape of a configuration. A nil Password keeps
// the stored one.
type smbRequest struct {
	Name       string  `json:"name" validate:"required,max=100"`
	Server     string  `json:"server" validate:"required,max=255"`
	Share      string  `json:"share" validate:"required,max=255"`
	Username   string  `json:"username" validate:"max=255"`
	Password   *string `json:"password,omitempty"`
	Domain     string  `json:"domain" validate:"max=255"`
	Port       int     `json:"port" validate:"omitempty,min=1,max=65535"`
	PathPrefix string  `json:"path_prefix" validate:"max=255"`
	IsActive   bool    `json:"is_active"`
}

func requestFrom(c *models.SMBConfiguration) smbRequest {
	return smbRequest{
		Name:       c.Name,
		Server:     c.Server,
		Share:      c.Share,
		Username:   c.Username,
		Domain:     c.Domain,
		Port:       c.Port,
		PathPrefix: c.PathPrefix,
		IsActive:   c.IsActive,
	}
}

func (req *smbRequest) apply(c *models.SMBConfiguration) {
	c.Name = strings.TrimSpace(req.Name)
	c.Server = strings.TrimSpace(req.Server)
	c.Share = strings.Trim(strings.TrimSpace(req.Share), `/\`)
	c.Username = req.Username
	c.Domain = req.Domain
	c.Port = req.Port
	if c.Port == 0 {
		c.Port = 445
	}
	c.PathPrefix = strings.Trim(req.PathPrefix, `/\`)
	c.IsActive = req.IsActive
}

func (h *SMBHandlers) seal(c *models.SMBConfiguration, password *string) error {
	if password == nil {
		return nil
	}
	if *password == "" {
		c.EncryptedPassword = ""
		return nil
	}
	sealed, err := h.sealer.Encrypt(*password)
	if err != nil {
		return apperrors.Wrap(apperrors.KindFatal, "encrypt_failed", err, "Password could not be encrypted.")
	}
	c.EncryptedPassword = sealed
	return nil
}

func (h *SMBHandlers) changed(ctx context.Context, id int64) {
	if h.bus != nil {
		h.bus.Publish(ctx, signals.SMBConfigChanged{ConfigID: id})
	}
}

// list handles GET /api/v1/smb-configurations/
func (h *SMBHandlers) list(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListSMB(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if configs == nil {
		configs = []*models.SMBConfiguration{}
	}
	_ = httputil.WriteSuccess(w, configs)
}

// get handles GET /api/v1/smb-configurations/{id}/
func (h *SMBHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	c, err := h.store.GetSMB(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, c)
}

// create handles POST /api/v1/smb-configurations/
func (h *SMBHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req smbRequest
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	c := &models.SMBConfiguration{}
	req.apply(c)
	if err := h.seal(c, req.Password); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.store.SaveSMB(r.Context(), c); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.changed(r.Context(), c.ID)
	_ = httputil.WriteCreated(w, c)
}

// update handles PUT and PATCH /api/v1/smb-configurations/{id}/
func (h *SMBHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	c, err := h.store.GetSMB(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req := requestFrom(c)
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	req.apply(c)
	if err := h.seal(c, req.Password); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.store.SaveSMB(r.Context(), c); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.changed(r.Context(), c.ID)
	_ = httputil.WriteSuccess(w, c)
}

// delete handles DELETE /api/v1/smb-configurations/{id}/
func (h *SMBHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.store.DeleteSMB(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.changed(r.Context(), id)
	httputil.WriteNoContent(w)
}

// activate handles POST /api/v1/smb-configurations/{id}/activate/
func (h *SMBHandlers) activate(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.store.ActivateSMB(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.changed(r.Context(), id)
	c, err := h.store.GetSMB(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, c)
}

// testSaved handles POST /api/v1/smb-configurations/{id}/test-connection/
func (h *SMBHandlers) testSaved(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	c, err := h.store.GetSMB(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	password, err := h.passwords.Decrypt(r.Context(), c)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.test(w, r, settingsFrom(c, password))
}

// testUnsaved handles POST /api/v1/smb-configurations/test-connection/. An
// omitted password is taken from config_id when given.
func (h *SMBHandlers) testUnsaved(w http.ResponseWriter, r *http.Request) {
	var req struct {
		smbRequest
		ConfigID int64 `json:"config_id"`
	}
	if err := httputil.ParseAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	c := &models.SMBConfiguration{ID: req.ConfigID}
	req.apply(c)

	password := ""
	switch {
	case req.Password != nil:
		password = *req.Password
	case req.ConfigID != 0:
		stored, err := h.store.GetSMB(r.Context(), req.ConfigID)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if password, err = h.passwords.Decrypt(r.Context(), stored); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	h.test(w, r, settingsFrom(c, password))
}

func (h *SMBHandlers) test(w http.ResponseWriter, r *http.Request, s *smb.Settings) {
	if h.tester == nil {
		httputil.WriteError(w, r, apperrors.New(apperrors.KindInfrastructure, smb.CodeNotConfigured, "SMB client is not configured."))
		return
	}
	if err := h.tester.TestConnection(r.Context(), s); err != nil {
		_ = httputil.WriteSuccess(w, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"success": true,
		"message": "Connected to \\\\" + s.Server + "\\" + s.Share,
	})
}

func settingsFrom(c *models.SMBConfiguration, password string) *smb.Settings {
	return &smb.Settings{
		ConfigID:   c.ID,
		Source:     smb.SourceDatabase,
		Server:     c.Server,
		Share:      c.Share,
		Username:   c.Username,
		Password:   password,
		Domain:     c.Domain,
		Port:       c.Port,
		PathPrefix: c.PathPrefix,
	}
}
