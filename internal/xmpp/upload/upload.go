// Package upload performs the HTTP half of XEP-0363: streaming a local
// file to a server-issued PUT URL.
package upload

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// Slot represents a validated HTTP upload slot.
type Slot struct {
	GetURL  string
	PutURL  string
	Headers map[string]string
}

// ErrInvalidSlot is returned when the slot response is missing or carries
// unusable URLs.
var ErrInvalidSlot = errors.New("upload: invalid slot")

// Validate checks that both slot URLs are present and well-formed https
// URLs.
func (s *Slot) Validate() error {
	if s == nil || s.PutURL == "" || s.GetURL == "" {
		return ErrInvalidSlot
	}
	for _, raw := range []string{s.PutURL, s.GetURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidSlot, raw)
		}
	}
	return nil
}

// Client uploads files to slot PUT URLs.
type Client struct {
	http *http.Client
}

// NewClient creates an upload client.
func NewClient() *Client {
	return &Client{http: &http.Client{}}
}

// Put streams the file at path to the slot and returns the GET URL on
// success.
func (c *Client) Put(ctx context.Context, path string, slot *Slot) (string, error) {
	if err := slot.Validate(); err != nil {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.PutURL, file)
	if err != nil {
		return "", err
	}
	req.ContentLength = stat.Size()
	req.Header.Set("Content-Type", MimeType(path))
	for k, v := range slot.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload failed with status: %d", resp.StatusCode)
	}

	return slot.GetURL, nil
}

// MimeType guesses a content type from the file extension.
func MimeType(path string) string {
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return mimeType
}
