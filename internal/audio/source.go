package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// maxRemoteClip bounds how much of a remote clip is held in memory.
const maxRemoteClip = 16 << 20

var errEmptyURI = errors.New("audio: empty source uri")

// localPath reports the filesystem path for file:// URIs and bare paths.
func localPath(uri string) (string, bool) {
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return strings.TrimPrefix(uri, "file://"), true
		}
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path is common in hand-written configs
			return filepath.FromSlash(u.Host + u.Path), true
		}
		return filepath.FromSlash(u.Path), true
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return "", false
	}
	return uri, true
}

// extension returns the lower-cased file extension of a path or URL.
func extension(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme != "" && u.Path != "" {
		return strings.ToLower(path.Ext(u.Path))
	}
	return strings.ToLower(filepath.Ext(uri))
}

type memClip struct {
	*bytes.Reader
}

func (memClip) Close() error { return nil }

// openSource opens a clip for decoding. Remote clips are fully downloaded so
// that the decoder can seek.
func openSource(ctx context.Context, client *http.Client, uri string) (io.ReadSeekCloser, error) {
	if uri == "" {
		return nil, errEmptyURI
	}
	if p, ok := localPath(uri); ok {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open clip: %w", err)
		}
		return f, nil
	}

	data, err := fetch(ctx, client, uri)
	if err != nil {
		return nil, err
	}
	return memClip{bytes.NewReader(data)}, nil
}

func fetch(ctx context.Context, client *http.Client, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build clip request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch clip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch clip: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteClip+1))
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	if len(data) > maxRemoteClip {
		return nil, fmt.Errorf("clip %s exceeds %d bytes", uri, maxRemoteClip)
	}
	return data, nil
}

// checkSource verifies a clip is reachable without decoding it.
func checkSource(ctx context.Context, client *http.Client, uri string) error {
	if uri == "" {
		return errEmptyURI
	}
	if p, ok := localPath(uri); ok {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("stat clip: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("clip %s is a directory", p)
		}
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return fmt.Errorf("build clip request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe clip: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe clip: unexpected status %s", resp.Status)
	}
	return nil
}
