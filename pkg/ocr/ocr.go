package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"imagetotext/pkg/apperr"
	"imagetotext/pkg/cache"
)

// NoTextFound is returned when the OCR service recognized nothing.
const NoTextFound = "No text found."

const textDetection = "TEXT_DETECTION"

// OCRConfig holds configuration for the Vision client
type OCRConfig struct {
	Endpoint string        // images:annotate URL
	APIKey   string        // sent as the key query parameter
	Timeout  time.Duration // per-request bound
}

// DefaultOCRConfig returns the public Google Vision endpoint with a 30s timeout
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		Endpoint: "https://vision.googleapis.com/v1/images:annotate",
		Timeout:  30 * time.Second,
	}
}

type annotateRequest struct {
	Requests []annotateRequestItem `json:"requests"`
}

type annotateRequestItem struct {
	Image    imageContent `json:"image"`
	Features []feature    `json:"features"`
}

type imageContent struct {
	Content string `json:"content"`
}

type feature struct {
	Type string `json:"type"`
}

type annotateResponse struct {
	Responses []imageResponse `json:"responses"`
}

type imageResponse struct {
	TextAnnotations []textAnnotation `json:"textAnnotations"`
	Error           *statusError     `json:"error,omitempty"`
}

type textAnnotation struct {
	Description *string `json:"description"`
}

type statusError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CacheRecorder is notified of cache lookups
type CacheRecorder interface {
	CacheHit()
	CacheMiss()
}

// Extractor sends base64 images to the Vision API for text detection.
type Extractor struct {
	client   *http.Client
	config   OCRConfig
	cache    cache.Cache
	recorder CacheRecorder
	logger   *slog.Logger
}

// NewExtractor creates an extractor sharing the given HTTP client.
// Unset config fields take their DefaultOCRConfig values and a nil store
// disables result caching.
func NewExtractor(client *http.Client, config OCRConfig, store cache.Cache, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultOCRConfig()
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Extractor{
		client: client,
		config: config,
		cache:  store,
		logger: logger,
	}
}

// SetCacheRecorder attaches a recorder for cache hits and misses
func (e *Extractor) SetCacheRecorder(r CacheRecorder) {
	e.recorder = r
}

// Extract returns the first text annotation of the image, or NoTextFound.
func (e *Extractor) Extract(ctx context.Context, base64Image string) (string, error) {
	var key string
	if e.cache != nil {
		key = cache.ContentKey(base64Image)
		text, found, err := e.cache.Get(ctx, key)
		if err != nil {
			e.logger.Warn("OCR cache lookup failed", "error", err)
		} else if found {
			e.logger.Debug("OCR cache hit", "key", key)
			e.record(true)
			return text, nil
		}
		e.record(false)
	}

	resp, err := e.annotate(ctx, base64Image)
	if err != nil {
		return "", err
	}
	text := firstDescription(resp, e.logger)

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, text); err != nil {
			e.logger.Warn("Failed to cache OCR result", "error", err)
		}
	}
	return text, nil
}

func (e *Extractor) record(hit bool) {
	if e.recorder == nil {
		return
	}
	if hit {
		e.recorder.CacheHit()
	} else {
		e.recorder.CacheMiss()
	}
}

func (e *Extractor) annotate(ctx context.Context, base64Image string) (*annotateResponse, error) {
	body, err := json.Marshal(annotateRequest{
		Requests: []annotateRequestItem{{
			Image:    imageContent{Content: base64Image},
			Features: []feature{{Type: textDetection}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal annotate request: %w", err)
	}

	endpoint, err := url.Parse(e.config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OCR endpoint %q: %w", e.config.Endpoint, err)
	}
	query := endpoint.Query()
	query.Set("key", e.config.APIKey)
	endpoint.RawQuery = query.Encode()

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Transport("vision annotate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Transport("vision annotate", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	var parsed annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperr.Transport("vision annotate", fmt.Errorf("decode response: %w", err))
	}
	return &parsed, nil
}

// firstDescription walks responses[0].textAnnotations[0].description and
// falls back to NoTextFound at the first missing step.
func firstDescription(resp *annotateResponse, logger *slog.Logger) string {
	if len(resp.Responses) == 0 {
		return NoTextFound
	}
	first := resp.Responses[0]
	if first.Error != nil {
		logger.Warn("Vision reported an image error", "code", first.Error.Code, "message", first.Error.Message)
	}
	if len(first.TextAnnotations) == 0 {
		return NoTextFound
	}
	description := first.TextAnnotations[0].Description
	if description == nil {
		return NoTextFound
	}
	return *description
}
