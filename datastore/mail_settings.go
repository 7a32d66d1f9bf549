package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/printflow/printflow/models"
)

// MailSettingsRepository manages the single mailbox-configuration row.
type MailSettingsRepository struct {
	db *sql.DB
}

// NewMailSettingsRepository creates a new MailSettingsRepository.
func NewMailSettingsRepository(db *sql.DB) *MailSettingsRepository {
	return &MailSettingsRepository{db: db}
}

// Get retrieves the current mail settings. Returns nil, nil when the system
// has never been configured.
func (r *MailSettingsRepository) Get(ctx context.Context) (*models.MailSettings, error) {
	query := `
		SELECT id, email_address, email_password, imap_server, allowed_senders,
		       max_age_days, poll_interval_seconds, last_updated
		FROM mail_settings
		ORDER BY last_updated DESC
		LIMIT 1
	`
	var settings models.MailSettings
	err := r.db.QueryRowContext(ctx, query).Scan(
		&settings.ID, &settings.EmailAddress, &settings.EmailPassword,
		&settings.IMAPServer, &settings.AllowedSenders, &settings.MaxAgeDays,
		&settings.PollInterval, &settings.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get mail settings: %w", err)
	}
	return &settings, nil
}

// Save upserts the mail settings row. An empty password in the update keeps
// the stored credential so the API never needs to echo it back.
func (r *MailSettingsRepository) Save(ctx context.Context, settings *models.MailSettings) error {
	if settings.EmailAddress == "" || settings.IMAPServer == "" {
		return fmt.Errorf("missing required fields for mail settings")
	}

	existing, err := r.Get(ctx)
	if err != nil {
		return err
	}

	settings.LastUpdated = time.Now().UTC()
	if existing == nil {
		settings.ID = uuid.NewString()
		query := `
			INSERT INTO mail_settings (
				id, email_address, email_password, imap_server, allowed_senders,
				max_age_days, poll_interval_seconds, last_updated
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		_, err := r.db.ExecContext(ctx, query,
			settings.ID, settings.EmailAddress, settings.EmailPassword,
			settings.IMAPServer, settings.AllowedSenders, settings.MaxAgeDays,
			settings.PollInterval, settings.LastUpdated,
		)
		if err != nil {
			return fmt.Errorf("failed to insert mail settings: %w", err)
		}
		return nil
	}

	settings.ID = existing.ID
	if settings.EmailPassword == "" {
		settings.EmailPassword = existing.EmailPassword
	}
	query := `
		UPDATE mail_settings
		SET email_address = $1, email_password = $2, imap_server = $3,
		    allowed_senders = $4, max_age_days = $5, poll_interval_seconds = $6,
		    last_updated = $7
		WHERE id = $8
	`
	_, err = r.db.ExecContext(ctx, query,
		settings.EmailAddress, settings.EmailPassword, settings.IMAPServer,
		settings.AllowedSenders, settings.MaxAgeDays, settings.PollInterval,
		settings.LastUpdated, settings.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mail settings: %w", err)
	}
	return nil
}
