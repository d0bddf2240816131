package payment

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

// Client talks to a Stripe-compatible REST API with form-encoded bodies.
type Client struct {
	BaseURL   string
	SecretKey string
	HTTP      *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type intentResp struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

func (r intentResp) intent() Intent {
	return Intent{
		ID:           r.ID,
		AmountCents:  r.Amount,
		Currency:     r.Currency,
		Status:       normalizeStatus(r.Status),
		ClientSecret: r.ClientSecret,
		Metadata:     r.Metadata,
	}
}

func (c *Client) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", req.Currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.CustomerRef != "" {
		form.Set("metadata[buyer_id]", req.CustomerRef)
	}
	if req.PaymentMethod != "" {
		form.Set("payment_method", req.PaymentMethod)
		form.Set("confirm", "true")
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out intentResp
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &out); err != nil {
		return Intent{}, err
	}
	return out.intent(), nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	var out intentResp
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, "", &out); err != nil {
		return Intent{}, err
	}
	return out.intent(), nil
}

func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	return c.do(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", url.Values{}, "cancel-"+intentID, nil)
}

func (c *Client) Refund(ctx context.Context, intentID string, amountCents int64, idempotencyKey string) (Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", intentID)
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	var out struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, idempotencyKey, &out); err != nil {
		return Refund{}, err
	}
	return Refund{ID: out.ID, AmountCents: out.Amount, Status: out.Status}, nil
}

func (c *Client) Transfer(ctx context.Context, destination string, amountCents int64, idempotencyKey string, metadata map[string]string) (string, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	form.Set("destination", destination)
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", form, idempotencyKey, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, idemKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.SecretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("payment provider %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &Error{StatusCode: resp.StatusCode, Type: e.Error.Type, Message: e.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
