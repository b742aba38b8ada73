package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/genpire/rfq-service/internal/port"
)

var (
	ErrNotConfigured  = errors.New("paypal client not configured")
	ErrMissingToken   = errors.New("paypal token response missing access_token")
	ErrMissingOrderID = errors.New("paypal response missing id")
)

// Client calls the PayPal REST API. Every operation fetches a fresh
// client-credentials token first; nothing is retried.
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	siteURL      string
	httpClient   *http.Client
}

type Options struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	SiteURL      string
	Timeout      time.Duration
}

// APIError represents a non-2xx PayPal response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		clientID:     strings.TrimSpace(opts.ClientID),
		clientSecret: strings.TrimSpace(opts.ClientSecret),
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		siteURL:      strings.TrimRight(strings.TrimSpace(opts.SiteURL), "/"),
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.clientID != "" && c.clientSecret != "" && c.baseURL != ""
}

func (c *Client) CreateOrder(ctx context.Context, req port.OrderRequest) (port.CheckoutOrder, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return port.CheckoutOrder{}, err
	}

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": map[string]string{
				"currency_code": req.Currency,
				"value":         req.Amount,
			},
			"description": req.Description,
			"custom_id":   req.CustomID,
		}},
		"application_context": map[string]string{
			"return_url": c.siteURL + "/checkout/success",
			"cancel_url": c.siteURL + "/checkout/cancel",
		},
	}

	var resp linkedResource
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", token, body, &resp); err != nil {
		return port.CheckoutOrder{}, err
	}
	if resp.ID == "" {
		return port.CheckoutOrder{}, ErrMissingOrderID
	}
	return port.CheckoutOrder{ID: resp.ID, ApproveURL: resp.link("approve")}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, planID, customID string) (port.Subscription, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return port.Subscription{}, err
	}

	body := map[string]any{
		"plan_id":   planID,
		"custom_id": customID,
		"application_context": map[string]string{
			"return_url": c.siteURL + "/subscription/success",
			"cancel_url": c.siteURL + "/subscription/cancel",
		},
	}

	var resp linkedResource
	if err := c.doJSON(ctx, http.MethodPost, "/v1/billing/subscriptions", token, body, &resp); err != nil {
		return port.Subscription{}, err
	}
	if resp.ID == "" {
		return port.Subscription{}, ErrMissingOrderID
	}
	return port.Subscription{ID: resp.ID, ApproveURL: resp.link("approve")}, nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	return c.doJSON(ctx, http.MethodPost, path, token, map[string]string{"reason": reason}, nil)
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", decodeAPIError(resp)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrMissingToken
	}
	return tok.AccessToken, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paypal response: %w", err)
	}
	return nil
}

type linkedResource struct {
	ID    string `json:"id"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (r linkedResource) link(rel string) string {
	for _, l := range r.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

// decodeAPIError reads PayPal's error body; token errors use
// error_description, REST errors use message.
func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Message
	if msg == "" {
		msg = errResp.ErrorDescription
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
