// Package ynab implements the YNAB (You Need A Budget) source connector.
// Budgets become overview documents and transactions are grouped into
// monthly digest documents, so financial questions can be answered from
// retrieved text.
package ynab

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sagehq/sage/internal/source"
)

// DefaultAPIBase is the production YNAB API endpoint.
const DefaultAPIBase = "https://api.youneedabudget.com/v1"

// Client is a lightweight YNAB API client authenticated with a personal
// access token.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

// defaultPageTimeout bounds one API request when no timeout is configured.
const defaultPageTimeout = 30 * time.Second

// NewClient creates a YNAB API client. apiBase overrides the endpoint for
// tests; empty means DefaultAPIBase. A non-positive pageTimeout falls back
// to defaultPageTimeout.
func NewClient(token, apiBase string, pageTimeout time.Duration) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("ynab access token is required")
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if pageTimeout <= 0 {
		pageTimeout = defaultPageTimeout
	}

	return &Client{
		token:   token,
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: pageTimeout,
		},
	}, nil
}

// Budget is a YNAB budget summary.
type Budget struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FirstMonth string `json:"first_month"`
	LastMonth  string `json:"last_month"`
	CurrencyFormat struct {
		ISOCode string `json:"iso_code"`
	} `json:"currency_format"`
}

// Transaction is a single YNAB transaction. Amount is in milliunits; the
// API reports a -5000 milliunit amount for a 5.00 outflow.
type Transaction struct {
	ID           string `json:"id"`
	Date         string `json:"date"`
	Amount       int64  `json:"amount"`
	PayeeName    string `json:"payee_name"`
	CategoryName string `json:"category_name"`
	AccountName  string `json:"account_name"`
	Cleared      string `json:"cleared"`
	Memo         string `json:"memo"`
}

// Category is a budget category with its month-to-date figures, in
// milliunits.
type Category struct {
	Name      string `json:"name"`
	GroupName string `json:"-"`
	Budgeted  int64  `json:"budgeted"`
	Activity  int64  `json:"activity"`
	Balance   int64  `json:"balance"`
	Hidden    bool   `json:"hidden"`
}

// Me performs the lightest possible authenticated call, used for credential
// validation.
func (c *Client) Me(ctx context.Context) error {
	return c.makeRequest(ctx, c.apiBase+"/user", nil)
}

// Budgets returns all budgets visible to the token.
func (c *Client) Budgets(ctx context.Context) ([]Budget, error) {
	var resp struct {
		Data struct {
			Budgets []Budget `json:"budgets"`
		} `json:"data"`
	}
	if err := c.makeRequest(ctx, c.apiBase+"/budgets", &resp); err != nil {
		return nil, fmt.Errorf("listing budgets: %w", err)
	}
	return resp.Data.Budgets, nil
}

// Transactions returns a budget's transactions, optionally limited to those
// on or after since.
func (c *Client) Transactions(ctx context.Context, budgetID string, since time.Time) ([]Transaction, error) {
	u := fmt.Sprintf("%s/budgets/%s/transactions", c.apiBase, url.PathEscape(budgetID))
	if !since.IsZero() {
		u += "?since_date=" + since.Format("2006-01-02")
	}

	var resp struct {
		Data struct {
			Transactions []Transaction `json:"transactions"`
		} `json:"data"`
	}
	if err := c.makeRequest(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return resp.Data.Transactions, nil
}

// Categories returns a budget's categories flattened from their groups.
// Hidden categories and internal groups are dropped.
func (c *Client) Categories(ctx context.Context, budgetID string) ([]Category, error) {
	var resp struct {
		Data struct {
			CategoryGroups []struct {
				Name       string     `json:"name"`
				Hidden     bool       `json:"hidden"`
				Categories []Category `json:"categories"`
			} `json:"category_groups"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s/budgets/%s/categories", c.apiBase, url.PathEscape(budgetID))
	if err := c.makeRequest(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}

	var cats []Category
	for _, group := range resp.Data.CategoryGroups {
		if group.Hidden || group.Name == "Internal Master Category" {
			continue
		}
		for _, cat := range group.Categories {
			if cat.Hidden {
				continue
			}
			cat.GroupName = group.Name
			cats = append(cats, cat)
		}
	}
	return cats, nil
}

func (c *Client) makeRequest(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: ynab API status %d", source.ErrAuthentication, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ynab API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response: %w", err)
		}
	}

	return nil
}

// dollars formats a milliunit amount as a decimal currency string.
func dollars(milliunits int64) string {
	return fmt.Sprintf("%.2f", float64(milliunits)/1000.0)
}
