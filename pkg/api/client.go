package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithAPIKey sends key as X-API-Key on every request.
func WithAPIKey(key string) Option {
	return func(cl *Client) {
		cl.apiKey = strings.TrimSpace(key)
	}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   ErrorResponse
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http %s %s: status %d", e.Method, e.Path, e.Status)
	if e.Body.Error != "" {
		msg += ": " + e.Body.Error
	}
	if e.Body.Reason != "" {
		msg += " (" + e.Body.Reason + ")"
	}
	return msg
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("baseURL must not be empty")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cl := &Client{
		baseURL: baseURL,
		http: &http.Client{
			// Mining requests can legitimately take a while.
			Timeout: 2 * time.Minute,
		},
	}
	for _, o := range opts {
		o(cl)
	}
	return cl, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var out VersionInfo
	if err := c.do(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return VersionInfo{}, err
	}
	return out, nil
}

func (c *Client) Status(ctx context.Context) (NodeStatus, error) {
	var out NodeStatus
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return NodeStatus{}, err
	}
	return out, nil
}

// Blocks returns the full chain, genesis first.
func (c *Client) Blocks(ctx context.Context) ([]blockchain.Block, error) {
	var out []blockchain.Block
	if err := c.do(ctx, http.MethodGet, "/blocks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LatestBlock(ctx context.Context) (blockchain.Block, error) {
	var out blockchain.Block
	if err := c.do(ctx, http.MethodGet, "/blocks/latest", nil, &out); err != nil {
		return blockchain.Block{}, err
	}
	return out, nil
}

func (c *Client) Block(ctx context.Context, index uint64) (blockchain.Block, error) {
	var out blockchain.Block
	if err := c.do(ctx, http.MethodGet, "/blocks/"+strconv.FormatUint(index, 10), nil, &out); err != nil {
		return blockchain.Block{}, err
	}
	return out, nil
}

// MineBlock asks the node to mine a block carrying data and returns it once
// accepted.
func (c *Client) MineBlock(ctx context.Context, data json.RawMessage) (blockchain.Block, error) {
	var out blockchain.Block
	if err := c.do(ctx, http.MethodPost, "/mineBlock", MineRequest{Data: data}, &out); err != nil {
		return blockchain.Block{}, err
	}
	return out, nil
}

// SubmitBlock hands an already mined block to the node.
func (c *Client) SubmitBlock(ctx context.Context, b blockchain.Block) (blockchain.Block, error) {
	var out blockchain.Block
	if err := c.do(ctx, http.MethodPost, "/blocks", b, &out); err != nil {
		return blockchain.Block{}, err
	}
	return out, nil
}

// Verify asks the node to re-validate its own chain.
func (c *Client) Verify(ctx context.Context) (VerifyResponse, error) {
	var out VerifyResponse
	if err := c.do(ctx, http.MethodGet, "/chain/verify", nil, &out); err != nil {
		return VerifyResponse{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&se.Body)
		return se
	}

	dec := json.NewDecoder(resp.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
