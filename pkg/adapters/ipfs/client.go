package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"go.uber.org/zap"
)

// Client talks to the IPFS Cluster HTTP API for pinning and to the IPFS
// HTTP API for content retrieval.
type Client struct {
	clusterURL string
	apiURL     string
	httpClient *http.Client
	logger     *zap.Logger
}

// AddResponse represents the response from adding content to IPFS
type AddResponse struct {
	Name string `json:"name"`
	Cid  string `json:"cid"`
	Size int64  `json:"size"`
}

// PinResponse represents the response from pinning a CID
type PinResponse struct {
	Cid  string `json:"cid"`
	Name string `json:"name"`
}

// NewClient creates a client. Empty URLs default to the local daemons.
func NewClient(clusterURL, apiURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if clusterURL == "" {
		clusterURL = "http://localhost:9094"
	}
	if apiURL == "" {
		apiURL = "http://localhost:5001"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		clusterURL: clusterURL,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// statusError maps a non-2xx answer onto the error taxonomy.
func statusError(op, subject string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s failed with status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NewNotFoundError("cid", subject)
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout:
		return errors.NewRejectedError("ipfs", msg, nil)
	default:
		return errors.NewServiceError("ipfs", msg, resp.StatusCode, nil)
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.FromBackend("ipfs", err)
	}
	return resp, nil
}

// Health checks if the IPFS Cluster API is healthy
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clusterURL+"/id", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("health check", "", resp)
	}
	return nil
}

// Add uploads data through the cluster and returns the resulting CID.
func (c *Client) Add(ctx context.Context, data []byte, name string) (*AddResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to copy data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clusterURL+"/add", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create add request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("add", name, resp)
	}

	// The cluster streams NDJSON; drain it so the pinning is not cancelled,
	// keeping the last object.
	dec := json.NewDecoder(resp.Body)
	var last AddResponse
	for {
		var chunk AddResponse
		if err := dec.Decode(&chunk); err != nil {
			if stderrors.Is(err, io.EOF) {
				break
			}
			return nil, errors.NewServiceError("ipfs", "failed to decode add response", 0, err)
		}
		last = chunk
	}
	if last.Cid == "" {
		return nil, errors.NewServiceError("ipfs", "add response missing CID", 0, nil)
	}

	last.Size = int64(len(data))
	if last.Name == "" {
		last.Name = name
	}
	return &last, nil
}

// Pin pins a CID. Pin options (including name) go in the query string.
// A replication factor of -1 pins on every cluster peer.
func (c *Client) Pin(ctx context.Context, cid, name string, replicationFactor int) (*PinResponse, error) {
	values := url.Values{}
	values.Set("replication-min", strconv.Itoa(replicationFactor))
	values.Set("replication-max", strconv.Itoa(replicationFactor))
	if name != "" {
		values.Set("name", name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clusterURL+"/pins/"+url.PathEscape(cid)+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create pin request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, statusError("pin", cid, resp)
	}

	var result PinResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewServiceError("ipfs", "failed to decode pin response", 0, err)
	}
	if result.Cid == "" {
		result.Cid = cid
	}
	if result.Name == "" {
		result.Name = name
	}
	return &result, nil
}

// Unpin removes a pin from a CID
func (c *Client) Unpin(ctx context.Context, cid string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.clusterURL+"/pins/"+url.PathEscape(cid), nil)
	if err != nil {
		return fmt.Errorf("failed to create unpin request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return statusError("unpin", cid, resp)
	}
	return nil
}

// Cat retrieves content by CID through the IPFS HTTP API (port 5001), not
// the Cluster API.
func (c *Client) Cat(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/v0/cat?arg="+url.QueryEscape(cid), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create get request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Kubo answers 500 with "not found" style messages for unknown blocks
	if resp.StatusCode == http.StatusInternalServerError {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if bytes.Contains(body, []byte("not found")) || bytes.Contains(body, []byte("invalid path")) {
			return nil, errors.NewNotFoundError("cid", cid)
		}
		return nil, errors.NewServiceError("ipfs", fmt.Sprintf("cat failed: %s", bytes.TrimSpace(body)), resp.StatusCode, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("cat", cid, resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.FromBackend("ipfs", err)
	}
	return data, nil
}
