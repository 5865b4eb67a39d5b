package gphotos

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxUploadTokenBytes bounds how much of a staging response is read.
const maxUploadTokenBytes = 64 << 10

// StageUpload sends the raw bytes of one file and returns the upload token
// that BatchFinalize later turns into a library item. The token alone does
// not make the content durable. body is rewound on every retry attempt.
// A 409 response surfaces as ErrDuplicate.
func (c *Client) StageUpload(
	ctx context.Context, accessToken string, body io.ReadSeeker, size int64, filename string,
) (string, error) {
	name := FileNameHint(filename)

	c.logger.Debug("staging upload",
		slog.String("name", name),
		slog.Int64("size", size),
	)

	header := http.Header{}
	header.Set("Content-Type", "application/octet-stream")
	header.Set("X-Goog-Upload-Protocol", "raw")
	header.Set("X-Goog-Upload-File-Name", name)

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.uploadURL,
		accessToken: accessToken,
		header:      header,
		body:        body,
		size:        size,
	})
	if err != nil {
		return "", fmt.Errorf("gphotos: staging %s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadTokenBytes))
	if err != nil {
		return "", fmt.Errorf("gphotos: reading upload token for %s: %w", name, err)
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("gphotos: staging %s: empty upload token", name)
	}

	c.logger.Info("staged upload",
		slog.String("name", name),
		slog.Int64("size", size),
	)

	return token, nil
}

// FileNameHint returns the name the service stores for a local path: the
// NFC-normalized base name. macOS filesystems hand out NFD names and the
// service would otherwise show decomposed characters.
func FileNameHint(path string) string {
	return norm.NFC.String(filepath.Base(path))
}
