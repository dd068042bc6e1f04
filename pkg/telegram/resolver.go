// Package telegram resolves Telegram file identifiers to base64 image content.
package telegram

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"
	ta "github.com/mymmrac/telego/telegoapi"

	"imagetotext/pkg/apperr"
)

// Config holds the Bot API settings for the resolver
type Config struct {
	Token   string
	APIURL  string        // empty uses the public Bot API
	Timeout time.Duration // bound for each of the two calls
}

// Resolver turns a file_id into base64 image bytes with getFile plus a download.
type Resolver struct {
	bot     *telego.Bot
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewResolver creates a resolver sharing the given HTTP client for both calls.
func NewResolver(client *http.Client, cfg Config, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []telego.BotOption{
		telego.WithHTTPClient(botAPIClient(client)),
		telego.WithDiscardLogger(),
	}
	if cfg.APIURL != "" {
		opts = append(opts, telego.WithAPIServer(cfg.APIURL))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot client: %w", err)
	}

	return &Resolver{
		bot:     bot,
		client:  client,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Resolve downloads the file behind handle and returns it base64 encoded.
func (r *Resolver) Resolve(ctx context.Context, handle string) (string, error) {
	if handle == "" {
		return "", fmt.Errorf("%w: empty handle", apperr.ErrHandleNotFound)
	}

	filePath, err := r.filePath(ctx, handle)
	if err != nil {
		return "", err
	}
	r.logger.Debug("Resolved Telegram file", "file_id", handle, "file_path", filePath)

	data, err := r.download(ctx, filePath)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (r *Resolver) filePath(ctx context.Context, handle string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	file, err := r.bot.GetFile(ctx, &telego.GetFileParams{FileID: handle})
	if err != nil {
		if isNetworkError(err) {
			return "", apperr.Transport("telegram getFile", err)
		}
		return "", fmt.Errorf("%w: %s: %v", apperr.ErrHandleNotFound, handle, err)
	}
	if file == nil || file.FilePath == "" {
		return "", fmt.Errorf("%w: %s: no file_path in response", apperr.ErrHandleNotFound, handle)
	}
	return file.FilePath, nil
}

func (r *Resolver) download(ctx context.Context, filePath string) ([]byte, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.bot.FileDownloadURL(filePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.Transport("telegram download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.Transport("telegram download", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transport("telegram download", err)
	}
	return data, nil
}

// errBotAPIUnavailable marks a 5xx from the Bot API. The Bot API answers
// refusals with a JSON body and a 4xx status, so a 5xx is never about the handle.
var errBotAPIUnavailable = errors.New("bot api unavailable")

// serverErrorTransport fails 5xx round trips so they surface as *url.Error.
type serverErrorTransport struct {
	next http.RoundTripper
}

func (t serverErrorTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", errBotAPIUnavailable, resp.StatusCode)
	}
	return resp, nil
}

// botAPIClient shares client's connection pool for Bot API method calls.
func botAPIClient(client *http.Client) *http.Client {
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = serverErrorTransport{next: next}
	return &wrapped
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// isNetworkError separates connection, timeout and 5xx failures from API
// refusals and undecodable responses, which both mean the handle is unusable.
func isNetworkError(err error) bool {
	var apiErr *ta.Error
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, errBotAPIUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
