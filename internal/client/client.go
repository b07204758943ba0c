// Package client talks to a running goattach agent over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const tenantHeader = "X-Tenant-ID"

// Attachment is the metadata of one attachment as returned by the agent.
type Attachment struct {
	ID             string         `json:"ID"`
	Filename       string         `json:"filename"`
	MimeType       string         `json:"mimeType"`
	Note           string         `json:"note,omitempty"`
	Hash           string         `json:"hash,omitempty"`
	Status         string         `json:"status"`
	LastScan       *time.Time     `json:"lastScan,omitempty"`
	UpKeys         map[string]any `json:"upKeys,omitempty"`
	IsActiveEntity bool           `json:"IsActiveEntity"`
	CreatedAt      time.Time      `json:"createdAt"`
	ModifiedAt     time.Time      `json:"modifiedAt"`
}

// APIError is a non successful response of the agent.
type APIError struct {
	Status  int
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type Client struct {
	base   string
	tenant string
	http   *http.Client
}

func New(address, tenant string) *Client {
	address = strings.TrimSuffix(address, "/")
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	return &Client{
		base:   address,
		tenant: tenant,
		http:   &http.Client{},
	}
}

// List returns the attachments of a collection path such as `Incidents(1)/attachments`.
func (c *Client) List(ctx context.Context, path string, draft bool) ([]Attachment, error) {
	var result struct {
		Value []Attachment `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, draft, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

func (c *Client) Stat(ctx context.Context, path string, draft bool) (*Attachment, error) {
	var attachment Attachment
	if err := c.doJSON(ctx, http.MethodGet, path, draft, &attachment); err != nil {
		return nil, err
	}
	return &attachment, nil
}

// Download copies the content of the attachment at path into w. Pending
// scans (202) and missing content (204) are reported as *APIError.
func (c *Client) Download(ctx context.Context, path string, draft bool, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, path+"/content", draft, nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Upload streams size bytes of r as the content of the attachment at path.
func (c *Client) Upload(ctx context.Context, path string, draft bool, r io.Reader, size int64, mimeType, filename string) error {
	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}

	resp, err := c.do(ctx, http.MethodPut, path+"/content", draft, query, func(req *http.Request) {
		req.Body = io.NopCloser(r)
		req.ContentLength = size
		req.Header.Set("Content-Type", mimeType)
		req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, path string, draft bool) error {
	resp, err := c.do(ctx, http.MethodDelete, path, draft, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return decodeError(resp)
	}
	return nil
}

// Rescan requests a new malware scan of the attachment at path.
func (c *Client) Rescan(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPost, path+"/rescan", false, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return decodeError(resp)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, draft bool, out any) error {
	resp, err := c.do(ctx, method, path, draft, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, draft bool, query url.Values, prepare func(*http.Request)) (*http.Response, error) {
	if query == nil {
		query = url.Values{}
	}
	if draft {
		query.Set("draft", "true")
	}

	target := c.base + "/odata/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.tenant != "" {
		req.Header.Set(tenantHeader, c.tenant)
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent at '%s': %w", c.base, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error *APIError `json:"error"`
	}
	body.Error = apiErr
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	apiErr.Status = resp.StatusCode
	return apiErr
}
