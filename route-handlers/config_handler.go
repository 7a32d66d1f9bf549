package routehandlers

import (
	"fmt"
	"net/http"

	"github.com/printflow/printflow/datastore"
	"github.com/printflow/printflow/models"
	"github.com/printflow/printflow/webutil"
)

// ConfigHandler exposes the mailbox connection settings. The password is
// write-only: it can be set through PUT but is never echoed back.
type ConfigHandler struct {
	Settings *datastore.MailSettingsRepository
}

func NewConfigHandler(settings *datastore.MailSettingsRepository) *ConfigHandler {
	return &ConfigHandler{Settings: settings}
}

type mailSettingsRequest struct {
	EmailAddress   string `json:"email_address"`
	EmailPassword  string `json:"email_password"`
	IMAPServer     string `json:"imap_server"`
	AllowedSenders string `json:"allowed_senders"`
	MaxAgeDays     int    `json:"max_age_days"`
	PollInterval   int    `json:"poll_interval_seconds"`
}

func (h *ConfigHandler) HandleGetMailSettings(w http.ResponseWriter, r *http.Request) error {
	settings, err := h.Settings.Get(r.Context())
	if err != nil {
		return fmt.Errorf("failed to retrieve mail settings: %w", err)
	}
	if settings == nil {
		return webutil.ErrNotFound("Mail settings have not been configured")
	}
	webutil.RespondWithJSON(w, http.StatusOK, settings)
	return nil
}

func (h *ConfigHandler) HandleSaveMailSettings(w http.ResponseWriter, r *http.Request) error {
	var req mailSettingsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		return err
	}
	if req.EmailAddress == "" {
		return webutil.ErrBadRequest("email_address is required")
	}
	if req.IMAPServer == "" {
		return webutil.ErrBadRequest("imap_server is required")
	}
	if req.MaxAgeDays < 0 {
		return webutil.ErrBadRequest("max_age_days cannot be negative")
	}
	if req.PollInterval < 0 {
		return webutil.ErrBadRequest("poll_interval_seconds cannot be negative")
	}

	settings := &models.MailSettings{
		EmailAddress:   req.EmailAddress,
		EmailPassword:  req.EmailPassword,
		IMAPServer:     req.IMAPServer,
		AllowedSenders: req.AllowedSenders,
		MaxAgeDays:     req.MaxAgeDays,
		PollInterval:   req.PollInterval,
	}
	if err := h.Settings.Save(r.Context(), settings); err != nil {
		return fmt.Errorf("failed to save mail settings: %w", err)
	}
	webutil.RespondWithJSON(w, http.StatusOK, settings)
	return nil
}
