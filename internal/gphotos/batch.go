package gphotos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// MaxBatchSize is the most upload tokens one BatchFinalize call accepts.
const MaxBatchSize = 50

// NewMediaItem is one staged upload to turn into a library item.
type NewMediaItem struct {
	UploadToken string
	FileName    string
}

// ItemResult is the service's verdict on one finalized item.
type ItemResult struct {
	UploadToken string
	OK          bool
	Code        int
	Message     string
	MediaItemID string
}

type batchCreateRequest struct {
	NewMediaItems []newMediaItemJSON `json:"newMediaItems"`
}

type newMediaItemJSON struct {
	SimpleMediaItem simpleMediaItemJSON `json:"simpleMediaItem"`
}

type simpleMediaItemJSON struct {
	UploadToken string `json:"uploadToken"`
	FileName    string `json:"fileName,omitempty"`
}

type batchCreateResponse struct {
	NewMediaItemResults []itemResultJSON `json:"newMediaItemResults"`
}

type itemResultJSON struct {
	UploadToken string `json:"uploadToken"`
	Status      struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	MediaItem *struct {
		ID string `json:"id"`
	} `json:"mediaItem"`
}

// BatchFinalize creates library items for up to MaxBatchSize staged
// uploads. The returned slice is aligned with items: results[i] is the
// outcome for items[i]. Results are matched by upload token, falling back to
// response position; an item the service did not report on is a failure.
// An error return means the call as a whole failed and no item is known to
// have been accepted.
func (c *Client) BatchFinalize(ctx context.Context, accessToken string, items []NewMediaItem) ([]ItemResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if len(items) > MaxBatchSize {
		return nil, fmt.Errorf("gphotos: batch of %d exceeds limit of %d", len(items), MaxBatchSize)
	}

	reqBody := batchCreateRequest{NewMediaItems: make([]newMediaItemJSON, len(items))}
	for i, it := range items {
		reqBody.NewMediaItems[i] = newMediaItemJSON{
			SimpleMediaItem: simpleMediaItemJSON{UploadToken: it.UploadToken, FileName: it.FileName},
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("gphotos: encoding batch: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		url:         c.apiURL + "/mediaItems:batchCreate",
		accessToken: accessToken,
		header:      header,
		body:        bytes.NewReader(payload),
		size:        int64(len(payload)),
	})
	if err != nil {
		return nil, fmt.Errorf("gphotos: finalizing batch of %d: %w", len(items), err)
	}
	defer resp.Body.Close()

	var decoded batchCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("gphotos: decoding batch response: %w", err)
	}

	results := correlateResults(items, decoded.NewMediaItemResults)

	var ok int
	for _, r := range results {
		if r.OK {
			ok++
		}
	}

	c.logger.Info("finalized batch",
		slog.Int("items", len(items)),
		slog.Int("succeeded", ok),
		slog.Int("failed", len(items)-ok),
	)

	return results, nil
}

// correlateResults aligns response entries with request items.
func correlateResults(items []NewMediaItem, raw []itemResultJSON) []ItemResult {
	byToken := make(map[string]itemResultJSON, len(raw))
	for _, r := range raw {
		if r.UploadToken != "" {
			byToken[r.UploadToken] = r
		}
	}

	results := make([]ItemResult, len(items))

	for i, it := range items {
		r, found := byToken[it.UploadToken]
		if !found && i < len(raw) && raw[i].UploadToken == "" {
			r, found = raw[i], true
		}

		if !found {
			results[i] = ItemResult{
				UploadToken: it.UploadToken,
				Code:        -1,
				Message:     "no result returned for upload token",
			}

			continue
		}

		results[i] = ItemResult{
			UploadToken: it.UploadToken,
			OK:          r.Status.Code == 0,
			Code:        r.Status.Code,
			Message:     r.Status.Message,
		}

		if r.MediaItem != nil {
			results[i].MediaItemID = r.MediaItem.ID
		}
	}

	return results
}
