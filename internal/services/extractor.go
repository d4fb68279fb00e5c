package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/desertthunder/melodymind/internal/shared"
	"golang.org/x/time/rate"
)

// extractResponse is the sidecar's extraction result envelope. Failures come
// back as success=false with the platform's error text, which is the only
// signal available for classification.
type extractResponse struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	FilePath     string `json:"filePath"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Duration     int    `json:"duration"`
	FileSize     int64  `json:"fileSize"`
}

// SidecarExtractor talks to the local yt-dlp sidecar over HTTP. The sidecar
// owns platform access; this client owns retry, pacing and error
// classification.
type SidecarExtractor struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      shared.RetryPolicy
}

var _ MediaExtractor = (*SidecarExtractor)(nil)

// NewSidecarExtractor creates an extractor client for the sidecar at baseURL.
func NewSidecarExtractor(cfg shared.ExtractorConfig) *SidecarExtractor {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &SidecarExtractor{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Extractions block on the platform download; searches are quick
			// but share the client.
			Timeout: 5 * time.Minute,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		retry:   shared.RetryPolicy{Attempts: 2, BaseWait: 2 * time.Second, MaxWait: 10 * time.Second},
	}
}

// Extract downloads the audio for a URL or video id through the sidecar and
// returns the artifact path with its metadata. One bounded retry covers
// transient platform faults; classified failures are permanent.
func (e *SidecarExtractor) Extract(ctx context.Context, urlOrID string) (*Extraction, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result *Extraction
	err := e.retry.Do(ctx, func() error {
		payload, err := json.Marshal(map[string]string{"url": urlOrID})
		if err != nil {
			return shared.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(payload))
		if err != nil {
			return shared.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: sidecar status %d", shared.ErrUnavailable, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return shared.Permanent(fmt.Errorf("%w: sidecar status %d", shared.ErrUnclassified, resp.StatusCode))
		}

		var body extractResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return shared.Permanent(fmt.Errorf("failed to decode sidecar response: %w", err))
		}

		if !body.Success {
			mapped := classifyExtractionError(body.Error)
			if retryableExtraction(mapped) {
				return mapped
			}
			return shared.Permanent(mapped)
		}

		result = &Extraction{
			Title:     body.Title,
			Uploader:  body.Artist,
			Thumbnail: body.ThumbnailURL,
			Duration:  body.Duration,
			FilePath:  body.FilePath,
			SizeBytes: body.FileSize,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Search runs a platform search through the sidecar.
func (e *SidecarExtractor) Search(ctx context.Context, query string, maxResults int) ([]VideoResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&limit=%d", e.baseURL, url.QueryEscape(query), maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: sidecar status %d", shared.ErrUnavailable, resp.StatusCode)
	}

	var body struct {
		Results []VideoResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return body.Results, nil
}

// classifyExtractionError maps the platform's free-text failure reason onto
// the closed taxonomy. Unknown reasons classify as ErrUnclassified.
func classifyExtractionError(reason string) error {
	lowered := strings.ToLower(reason)
	switch {
	case strings.Contains(lowered, "unsupported url"):
		return fmt.Errorf("%w: %s", shared.ErrUnsupportedURL, reason)
	case strings.Contains(lowered, "private video"):
		return fmt.Errorf("%w: %s", shared.ErrVideoPrivate, reason)
	case strings.Contains(lowered, "premiere"):
		return fmt.Errorf("%w: %s", shared.ErrVideoPremiere, reason)
	case strings.Contains(lowered, "video unavailable"), strings.Contains(lowered, "not available"):
		return fmt.Errorf("%w: %s", shared.ErrUnavailable, reason)
	case strings.Contains(lowered, "429"), strings.Contains(lowered, "rate limit"), strings.Contains(lowered, "too many requests"):
		return fmt.Errorf("%w: %s", shared.ErrRateLimited, reason)
	default:
		return fmt.Errorf("%w: %s", shared.ErrUnclassified, reason)
	}
}

func retryableExtraction(err error) bool {
	return errors.Is(err, shared.ErrRateLimited) || errors.Is(err, shared.ErrTransientNetwork)
}
