package creditclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mwork/credits-api/internal/domain/credit"
	"github.com/mwork/credits-api/internal/pkg/response"
)

// APIError is a non-2xx response from the credits API.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("credits api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Kind maps the error code back to the server-side error kind.
func (e *APIError) Kind() credit.Kind {
	switch e.Code {
	case response.CodeBadRequest, response.CodeValidation:
		return credit.KindInvalidInput
	case response.CodeNotFound:
		return credit.KindNotFound
	case response.CodePaymentRequired:
		return credit.KindInsufficientCredits
	case response.CodeAlreadyProcessed:
		return credit.KindAlreadyProcessed
	case response.CodeVerificationFailed:
		return credit.KindVerificationFailed
	case response.CodeConflict:
		return credit.KindConflict
	case response.CodeNotEligible:
		return credit.KindNotEligible
	default:
		return credit.KindInternal
	}
}

// Client calls the /credits routes on behalf of one user and feeds every
// result into its Store.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	store      *Store
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStore shares an existing store instead of creating one.
func WithStore(s *Store) Option {
	return func(c *Client) { c.store = s }
}

// New creates a client. baseURL is the API root that /credits is mounted
// under, e.g. https://api.example.com/api/v1.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewStore()
	}
	return c
}

// Store returns the client's state container.
func (c *Client) Store() *Store {
	return c.store
}

// Balance fetches GET /credits/balance.
func (c *Client) Balance(ctx context.Context) (credit.BalanceResponse, error) {
	var out credit.BalanceResponse
	if _, err := c.do(ctx, http.MethodGet, "/credits/balance", nil, &out); err != nil {
		return out, err
	}
	c.store.Dispatch(BalanceLoaded{Balance: out})
	return out, nil
}

// Transactions fetches one page of GET /credits/transactions.
func (c *Client) Transactions(ctx context.Context, limit, offset int) ([]credit.Transaction, int, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var out []credit.Transaction
	meta, err := c.do(ctx, http.MethodGet, "/credits/transactions?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, 0, err
	}
	total := len(out)
	if meta != nil {
		total = meta.Total
	}
	c.store.Dispatch(TransactionsLoaded{Transactions: out, Total: total})
	return out, total, nil
}

// DailyBonus fetches GET /credits/daily-bonus.
func (c *Client) DailyBonus(ctx context.Context) (credit.DailyBonusStatus, error) {
	var out credit.DailyBonusStatus
	if _, err := c.do(ctx, http.MethodGet, "/credits/daily-bonus", nil, &out); err != nil {
		return out, err
	}
	c.store.Dispatch(DailyBonusLoaded{Status: out})
	return out, nil
}

// Refresh loads balance, the first transaction page and the daily bonus
// status concurrently.
func (c *Client) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.Balance(ctx)
		return err
	})
	g.Go(func() error {
		_, _, err := c.Transactions(ctx, 20, 0)
		return err
	})
	g.Go(func() error {
		_, err := c.DailyBonus(ctx)
		return err
	})
	return g.Wait()
}

// ClaimDailyBonus calls POST /credits/daily-bonus/claim.
func (c *Client) ClaimDailyBonus(ctx context.Context) (credit.DailyBonusResult, error) {
	var out credit.DailyBonusResult
	if _, err := c.do(ctx, http.MethodPost, "/credits/daily-bonus/claim", nil, &out); err != nil {
		return out, err
	}
	c.store.Dispatch(BonusClaimed{Result: out})
	return out, nil
}

// Deduct calls POST /credits/deduct; the balance floors at zero.
func (c *Client) Deduct(ctx context.Context, amount int, reason string, metadata credit.Metadata) (credit.MutationResponse, error) {
	return c.debit(ctx, "/credits/deduct", amount, reason, metadata)
}

// Spend calls POST /credits/spend, which fails rather than overdraw.
func (c *Client) Spend(ctx context.Context, amount int, reason string, metadata credit.Metadata) (credit.MutationResponse, error) {
	return c.debit(ctx, "/credits/spend", amount, reason, metadata)
}

func (c *Client) debit(ctx context.Context, path string, amount int, reason string, metadata credit.Metadata) (credit.MutationResponse, error) {
	var out credit.MutationResponse
	body := credit.DeductRequest{Amount: amount, Reason: reason, Metadata: metadata}
	if _, err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return out, err
	}
	c.store.Dispatch(Debited{Result: out})
	return out, nil
}

// Products lists the active catalog for a platform.
func (c *Client) Products(ctx context.Context, platform credit.Platform) ([]credit.ProductResponse, error) {
	var out []credit.ProductResponse
	_, err := c.do(ctx, http.MethodGet, "/credits/products?platform="+url.QueryEscape(string(platform)), nil, &out)
	return out, err
}

// Purchase calls POST /credits/purchases.
func (c *Client) Purchase(ctx context.Context, body credit.PurchaseBody) (credit.PurchaseResult, error) {
	var out credit.PurchaseResult
	if _, err := c.do(ctx, http.MethodPost, "/credits/purchases", body, &out); err != nil {
		return out, err
	}
	c.store.Dispatch(PurchaseCompleted{Result: out})
	return out, nil
}

// ReferralCode fetches the caller's shareable code.
func (c *Client) ReferralCode(ctx context.Context) (credit.ReferralCode, error) {
	var out credit.ReferralCode
	_, err := c.do(ctx, http.MethodGet, "/credits/referral-code", nil, &out)
	return out, err
}

// ApplyReferral redeems a referral code as the referee.
func (c *Client) ApplyReferral(ctx context.Context, code string, referralType credit.ReferralType) (credit.ReferralResponse, error) {
	var out credit.ReferralResponse
	body := credit.ReferralBody{ReferralCode: code, ReferralType: string(referralType)}
	if _, err := c.do(ctx, http.MethodPost, "/credits/referrals", body, &out); err != nil {
		return out, err
	}
	c.store.Dispatch(ReferralApplied{Result: out})
	return out, nil
}

// Analytics fetches GET /credits/analytics.
func (c *Client) Analytics(ctx context.Context, from, to *time.Time, includeAdmin bool) (credit.CreditAnalytics, error) {
	q := url.Values{}
	if from != nil {
		q.Set("from", from.Format(time.RFC3339))
	}
	if to != nil {
		q.Set("to", to.Format(time.RFC3339))
	}
	if includeAdmin {
		q.Set("include_admin", "true")
	}
	var out credit.CreditAnalytics
	_, err := c.do(ctx, http.MethodGet, "/credits/analytics?"+q.Encode(), nil, &out)
	return out, err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *response.Meta  `json:"meta"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (*response.Meta, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(&APIError{Code: response.CodeInternal, Message: err.Error()}, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		return nil, c.fail(&APIError{Status: resp.StatusCode, Code: response.CodeInternal, Message: "malformed response"}, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := env.Error
		if apiErr == nil {
			apiErr = &APIError{Code: response.CodeInternal, Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.Status = resp.StatusCode
		return nil, c.fail(apiErr, nil)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, c.fail(&APIError{Status: resp.StatusCode, Code: response.CodeInternal, Message: "malformed response data"}, err)
		}
	}
	return env.Meta, nil
}

// fail records apiErr in the store and returns it, keeping cause in the
// chain when there is one.
func (c *Client) fail(apiErr *APIError, cause error) error {
	c.store.Dispatch(Failed{Err: apiErr})
	if cause == nil {
		return apiErr
	}
	return fmt.Errorf("%w: %w", apiErr, cause)
}
