package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bodymonitor/internal/domain"
)

// Client is a domain.RecordStore reached over HTTP. Token, when set, is sent
// as a bearer credential and identifies the caller for writes.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

var _ domain.RecordStore = (*Client)(nil)

// NewClient creates a Client for the endpoint at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Token: token, HTTPClient: http.DefaultClient}
}

// RecordExists calls check_user.
func (c *Client) RecordExists(ctx context.Context, account string) (bool, error) {
	var exists bool
	err := c.call(ctx, MethodCheckUser, request{AccountID: account}, &exists)
	return exists, err
}

// FetchRecord calls get_user.
func (c *Client) FetchRecord(ctx context.Context, account string) (domain.Record, error) {
	var rec domain.Record
	err := c.call(ctx, MethodGetUser, request{AccountID: account}, &rec)
	return rec, err
}

// RegisterRecord calls register_user.
func (c *Client) RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error {
	return c.call(ctx, MethodRegisterUser, request{AccountID: account, Age: age, Height: height, Weight: weight}, nil)
}

// AppendWeight calls add_weight_to_user.
func (c *Client) AppendWeight(ctx context.Context, account string, weight float64) error {
	return c.call(ctx, MethodAddWeightToUser, request{AccountID: account, Weight: weight}, nil)
}

func (c *Client) call(ctx context.Context, method string, in request, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
			return fmt.Errorf("%s: unexpected status %d", method, resp.StatusCode)
		}
		return body.err()
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
