package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestFetchWritesFileFromURLName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		_, _ = w.Write([]byte("sheet bytes"))
	}))
	defer server.Close()

	dir := t.TempDir()
	path, err := NewFetcher(0).Fetch(context.Background(), server.URL+"/sheets/design%201.png", dir, "dtf_glitter_sheet_1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "design 1.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("sheet bytes"), data)
}

func TestFetchSniffsExtensionWhenURLHasNone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	dir := t.TempDir()
	path, err := NewFetcher(0).Fetch(context.Background(), server.URL+"/file", dir, "dtf_textile_sheet_2")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "dtf_textile_sheet_2.png"), path)
}

func TestFetchDefaultsToPNGForUnknownContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	path, err := NewFetcher(0).Fetch(context.Background(), server.URL+"/file", dir, "spangle_sheet_1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "spangle_sheet_1.png"), path)
}

func TestFetchAvoidsNameCollisions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("second file"))
	}))
	defer server.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sheet.png"), []byte("first file"), 0o644))

	path, err := NewFetcher(0).Fetch(context.Background(), server.URL+"/sheet.png", dir, "dtf_sheet_1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "sheet_1.png"), path)

	original, err := os.ReadFile(filepath.Join(dir, "sheet.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("first file"), original)
}

func TestFetchConcurrentSameNameNeverOverwrites(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload " + r.URL.Query().Get("n")))
	}))
	defer server.Close()

	dir := t.TempDir()
	fetcher := NewFetcher(0)
	const workers = 8

	paths := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := fetcher.Fetch(context.Background(), fmt.Sprintf("%s/sheet.png?n=%d", server.URL, i), dir, "x")
			require.NoError(t, err)
			paths[i] = path
		}()
	}
	wg.Wait()

	// Every fetch claimed its own file and none truncated another.
	seen := make(map[string]bool, workers)
	contents := make(map[string]bool, workers)
	for _, path := range paths {
		require.False(t, seen[path], path)
		seen[path] = true
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		contents[string(data)] = true
	}
	require.Len(t, contents, workers)
}

func TestFetchReportsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dir := t.TempDir()
	_, err := NewFetcher(0).Fetch(context.Background(), server.URL+"/gone.png", dir, "x")

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Contains(t, fetchErr.URL, "/gone.png")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFetchTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := NewFetcher(100*time.Millisecond).Fetch(context.Background(), server.URL+"/slow.png", t.TempDir(), "x")
	elapsed := time.Since(start)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Less(t, elapsed, 2*time.Second)
}

func TestFileNameFromURL(t *testing.T) {
	cases := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://files.example.com/a/b/sheet.png", "sheet.png", true},
		{"https://files.example.com/a/design%20final.jpg", "design final.jpg", true},
		{"https://files.example.com/download", "", false},
		{"https://files.example.com/", "", false},
		{"https://files.example.com/download?id=7", "", false},
	}
	for _, tc := range cases {
		name, ok := FileNameFromURL(tc.url)
		require.Equal(t, tc.wantOK, ok, tc.url)
		require.Equal(t, tc.want, name, tc.url)
	}
}
