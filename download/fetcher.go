// Package download retrieves gang sheet files from the links embedded in
// order notification emails.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultTimeout bounds one link retrieval end to end.
	DefaultTimeout = 60 * time.Second

	// Some file hosts reject requests without a browser user agent.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	sniffLen = 3072
)

// FetchError reports a single failed link retrieval. One failed link never
// fails the order; callers log the error and move on.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads order files over HTTP.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher builds a fetcher whose requests time out after the given
// duration. Zero or negative means DefaultTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: browserUserAgent,
	}
}

// Fetch downloads one link into destDir and returns the path of the written
// file. The file name comes from the URL path when it carries an extension;
// otherwise defaultBase is used with an extension sniffed from the content.
// Name collisions inside destDir get a numeric suffix rather than
// overwriting an earlier sheet.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destDir, defaultBase string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	head = head[:n]

	fileName, ok := FileNameFromURL(rawURL)
	if !ok {
		fileName = defaultBase + sniffExtension(head)
	}
	destPath, out, err := createUnique(destDir, fileName)
	if err != nil {
		return "", &FetchError{URL: rawURL, Err: err}
	}
	if _, err := out.Write(head); err == nil {
		_, err = io.Copy(out, resp.Body)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Drop the partial file so a retry on a later message starts clean.
		if removeErr := os.Remove(destPath); removeErr != nil {
			log.Printf("WARN (Fetcher): Could not remove partial download %s: %v", destPath, removeErr)
		}
		return "", &FetchError{URL: rawURL, Err: err}
	}
	return destPath, nil
}

// FileNameFromURL extracts the base file name from the URL path. The second
// return value is false when the path yields no name with an extension.
func FileNameFromURL(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	unescaped, err := url.PathUnescape(parsed.Path)
	if err != nil {
		unescaped = parsed.Path
	}
	name := path.Base(unescaped)
	if name == "." || name == "/" || !strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// sniffExtension guesses a file extension from the leading bytes of the
// content. Gang sheets are images in practice, so the unknown case defaults
// to .png.
func sniffExtension(head []byte) string {
	if len(head) == 0 {
		return ".png"
	}
	mtype := mimetype.Detect(head)
	if ext := mtype.Extension(); ext != "" && mtype.String() != "application/octet-stream" {
		return ext
	}
	return ".png"
}

// createUnique opens dir/fileName for writing, suffixing the name with a
// counter when it is already taken. O_EXCL creation makes the name claim
// atomic, so concurrent downloads deriving the same name never truncate
// each other.
func createUnique(dir, fileName string) (string, *os.File, error) {
	destPath := filepath.Join(dir, fileName)
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	for counter := 1; ; counter++ {
		f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return destPath, f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", nil, err
		}
		destPath = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}
