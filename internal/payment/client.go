package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logging"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

// TokenCache is satisfied by redisx.Cache.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Client is the HTTP gateway: POST /token/ for a bearer token, POST /collect/
// to start a cash-in on the payer's phone.
type Client struct {
	BaseURL  string
	Username string
	Password string
	Currency string
	HTTP     *http.Client
	Cache    TokenCache
	TokenTTL time.Duration
}

func NewClient(baseURL, username, password, currency string, cache TokenCache) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		Currency: currency,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Cache:    cache,
		TokenTTL: 50 * time.Minute,
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var out tokenResponse
	err := c.post(ctx, "token", "/token/", "", map[string]string{
		"username": c.Username,
		"password": c.Password,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("payment token: empty token in response")
	}
	ttl := c.TokenTTL
	if out.ExpiresIn > 60 {
		// refresh a minute before the provider expires it
		ttl = time.Duration(out.ExpiresIn-60) * time.Second
	}
	if c.Cache != nil {
		if err := c.Cache.Set(ctx, redisx.KeyPaymentToken, out.Token, ttl); err != nil {
			logging.Warn(logging.Fields{Step: "payment.token_cache"}, err)
		}
	}
	return out.Token, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.Cache != nil {
		if tok, ok, err := c.Cache.Get(ctx, redisx.KeyPaymentToken); err == nil && ok {
			return tok, nil
		}
	}
	return c.Authenticate(ctx)
}

type collectRequest struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	From              string `json:"from"`
	Description       string `json:"description"`
	ExternalReference string `json:"external_reference"`
	CallbackURL       string `json:"callback_url,omitempty"`
}

type collectResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// CreatePayment retries once with a fresh token when the cached one is rejected.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return PaymentResult{}, err
	}
	res, err := c.collect(ctx, tok, req)
	if errors.Is(err, ErrUnauthorized) {
		if c.Cache != nil {
			_ = c.Cache.Del(ctx, redisx.KeyPaymentToken)
		}
		if tok, err = c.Authenticate(ctx); err != nil {
			return PaymentResult{}, err
		}
		res, err = c.collect(ctx, tok, req)
	}
	return res, err
}

func (c *Client) collect(ctx context.Context, tok string, req PaymentRequest) (PaymentResult, error) {
	desc := req.Description
	if desc == "" {
		desc = "Order " + req.Reference
	}
	var out collectResponse
	err := c.post(ctx, "collect", "/collect/", tok, collectRequest{
		Amount:            req.Amount.String(),
		Currency:          c.Currency,
		From:              req.Phone,
		Description:       desc,
		ExternalReference: req.Reference,
		CallbackURL:       req.CallbackURL,
	}, &out)
	if err != nil {
		return PaymentResult{}, err
	}
	if out.Reference == "" {
		return PaymentResult{}, errors.New("payment collect: empty reference in response")
	}
	return PaymentResult{Reference: out.Reference, Status: out.Status}, nil
}

func (c *Client) post(ctx context.Context, op, path, tok string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Token "+tok)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("payment %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payment %s: read body: %w", op, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrUnauthorized, &StatusError{Op: op, Code: resp.StatusCode, Body: string(body)})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("payment %s: decode: %w", op, err)
	}
	return nil
}
