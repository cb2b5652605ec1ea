package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"mammo-assist/pkg"
)

const maxRemoteImageBytes = 20 << 20

// ImageResolver finds the bytes to send for analysis: the in-memory upload
// first, then a data: preview URL, then a remote preview URL.
type ImageResolver struct {
	HTTP *http.Client
}

// NewImageResolver constructs a resolver that fetches remote previews with
// client.
func NewImageResolver(client *http.Client) *ImageResolver {
	return &ImageResolver{HTTP: client}
}

// Resolve returns the image bytes and MIME type for c.
func (r *ImageResolver) Resolve(ctx context.Context, c *pkg.PatientCase) ([]byte, string, error) {
	if len(c.ImageFile) > 0 {
		mime := c.ImageMIME
		if mime == "" {
			mime = http.DetectContentType(c.ImageFile)
		}
		return c.ImageFile, mime, nil
	}
	switch {
	case strings.HasPrefix(c.PreviewURL, "data:"):
		return DecodeDataURL(c.PreviewURL)
	case c.PreviewURL != "":
		return r.fetch(ctx, c.PreviewURL)
	default:
		return nil, "", ErrNoImage
	}
}

func (r *ImageResolver) fetch(ctx context.Context, url string) ([]byte, string, error) {
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: fetching image: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: fetching image: status %d", ErrUpstream, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading image: %v", ErrUpstream, err)
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

// EncodeDataURL builds the preview URL stored for fresh uploads.
func EncodeDataURL(data []byte, mime string) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URL into bytes and MIME type.  A missing
// MIME type defaults to image/jpeg.
func DecodeDataURL(url string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(url, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URL", ErrInvalidInput)
	}
	mime, _, _ := strings.Cut(header, ";")
	if mime == "" {
		mime = "image/jpeg"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decoding data URL: %v", ErrInvalidInput, err)
	}
	return data, mime, nil
}
