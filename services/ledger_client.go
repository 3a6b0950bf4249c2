package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"nft-reward-system/utils"
)

// HTTPLedgerClient talks to the ledger gateway over JSON/HTTP.
type HTTPLedgerClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPLedgerClient(baseURL, token string) *HTTPLedgerClient {
	return &HTTPLedgerClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: utils.HTTPClient,
	}
}

func (c *HTTPLedgerClient) Submit(ctx context.Context, intent TxIntent) (string, error) {
	var out struct {
		TxHash string `json:"tx_hash"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/v1/transactions", intent, &out); err != nil {
		return "", fmt.Errorf("ledger.Submit: %w", err)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("ledger.Submit: empty tx_hash in response")
	}
	return out.TxHash, nil
}

func (c *HTTPLedgerClient) GetConfirmationStatus(ctx context.Context, txHash string) (ConfirmationStatus, error) {
	var out struct {
		Status ConfirmationStatus `json:"status"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(txHash), nil, &out); err != nil {
		return "", fmt.Errorf("ledger.GetConfirmationStatus: %w", err)
	}
	return out.Status, nil
}

func (c *HTTPLedgerClient) FindByIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	params := url.Values{}
	params.Set("idempotency_key", key)

	var out struct {
		TxHash string `json:"tx_hash"`
	}
	err := c.doRequest(ctx, http.MethodGet, "/v1/transactions?"+params.Encode(), nil, &out)
	if err != nil {
		if IsLedgerStatus(err, http.StatusNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("ledger.FindByIdempotencyKey: %w", err)
	}
	return out.TxHash, out.TxHash != "", nil
}

func (c *HTTPLedgerClient) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if readErr != nil {
			return &LedgerHTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
		}
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &LedgerHTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &LedgerHTTPError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// IsLedgerStatus reports whether err wraps a LedgerHTTPError with code.
func IsLedgerStatus(err error, code int) bool {
	var httpErr *LedgerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
