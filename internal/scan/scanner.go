// Package scan coordinates malware scans of stored attachment content.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	config "github.com/mwantia/goattach/internal/config/server"
	"github.com/mwantia/goattach/pkg/log"
)

// Verdict is the answer of the malware scanning service.
type Verdict struct {
	MalwareDetected          bool   `json:"malwareDetected"`
	EncryptedContentDetected bool   `json:"encryptedContentDetected"`
	ScanSize                 int64  `json:"scanSize"`
	MimeType                 string `json:"mimeType"`
	SHA256                   string `json:"SHA256"`
}

// Opener returns a fresh stream of the content to scan. It is called again
// for every attempt.
type Opener func() (io.ReadCloser, error)

// Scanner submits content to a malware scanning service.
type Scanner interface {
	Scan(ctx context.Context, open Opener) (Verdict, error)
}

// HTTPScanner talks to a malware scanning service over HTTP: content is
// posted to `<url>/scan` using basic authentication.
type HTTPScanner struct {
	endpoint   string
	username   string
	password   string
	client     *http.Client
	newBackoff func() backoff.BackOff
	log        log.LoggerService
}

func NewHTTPScanner(cfg config.ScanServerConfig, logger log.LoggerService) (*HTTPScanner, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("malware scanning service url is empty")
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		parsed, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid scan timeout '%s': %w", cfg.Timeout, err)
		}
		timeout = parsed
	}

	return &HTTPScanner{
		endpoint: strings.TrimSuffix(cfg.URL, "/") + "/scan",
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		log: log.OrDiscard(logger),
	}, nil
}

func (s *HTTPScanner) Scan(ctx context.Context, open Opener) (Verdict, error) {
	var verdict Verdict

	operation := func() error {
		body, err := open()
		if err != nil {
			return backoff.Permanent(err)
		}
		defer body.Close()

		result, err := s.post(ctx, body)
		if err != nil {
			return err
		}
		verdict = result
		return nil
	}
	notify := func(err error, delay time.Duration) {
		s.log.Warn("Malware scan failed, retrying in %s: %v", delay, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(s.newBackoff(), ctx), notify); err != nil {
		return Verdict{}, err
	}
	return verdict, nil
}

func (s *HTTPScanner) post(ctx context.Context, body io.Reader) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, body)
	if err != nil {
		return Verdict{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to reach malware scanning service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("malware scanning service answered %d: %s", resp.StatusCode, strings.TrimSpace(string(message)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return Verdict{}, backoff.Permanent(err)
		}
		return Verdict{}, err
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return Verdict{}, backoff.Permanent(fmt.Errorf("invalid verdict: %w", err))
	}
	return verdict, nil
}

var _ Scanner = (*HTTPScanner)(nil)
