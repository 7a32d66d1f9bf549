package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	defaultAttachmentsDir = "_attachments"
	defaultLogsDir        = "_logs"

	maxFolderNameLen = 50
)

// OrderStorage resolves and creates the on-disk locations for order files.
// Each order gets an exclusive folder named after its PO number and customer,
// so concurrent downloads for one order never contend with another order's.
type OrderStorage struct {
	attachmentsDir string
	logsDir        string
}

// NewOrderStorage creates an OrderStorage rooted at baseDir. If baseDir is
// empty the directories are created relative to the working directory.
func NewOrderStorage(baseDir string) (*OrderStorage, error) {
	s := &OrderStorage{
		attachmentsDir: filepath.Join(baseDir, defaultAttachmentsDir),
		logsDir:        filepath.Join(baseDir, defaultLogsDir),
	}
	for _, dir := range []string{s.attachmentsDir, s.logsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	log.Printf("INFO (OrderStorage): Storage directories ensured: %s, %s", s.attachmentsDir, s.logsDir)
	return s, nil
}

// LogsDir returns the directory for process log files.
func (s *OrderStorage) LogsDir() string {
	return s.logsDir
}

var invalidFolderChars = regexp.MustCompile(`[<>:"/\\|?*]`)
var repeatedSpaces = regexp.MustCompile(`\s+`)

// SanitizeFolderName strips characters that are invalid in folder names,
// collapses whitespace, and caps the length.
func SanitizeFolderName(name string) string {
	sanitized := invalidFolderChars.ReplaceAllString(name, "_")
	sanitized = strings.TrimSpace(repeatedSpaces.ReplaceAllString(sanitized, " "))
	if len(sanitized) > maxFolderNameLen {
		sanitized = sanitized[:maxFolderNameLen]
	}
	return sanitized
}

// OrderFolder creates (if needed) and returns the exclusive folder for one
// order's files: <attachments>/<po>_<sanitized customer name>.
func (s *OrderStorage) OrderFolder(poNumber, customerName string) (string, error) {
	if poNumber == "" {
		return "", fmt.Errorf("PO number cannot be empty for order folder")
	}
	name := SanitizeFolderName(poNumber)
	if customer := SanitizeFolderName(customerName); customer != "" {
		name = name + "_" + customer
	}
	folder := filepath.Join(s.attachmentsDir, name)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create order folder %s: %w", folder, err)
	}
	return folder, nil
}
