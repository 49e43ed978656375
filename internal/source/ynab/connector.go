package ynab

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sagehq/sage/internal/source"
)

// SourceType is the registry key for the YNAB connector.
const SourceType = "ynab"

// Connector streams YNAB budgets and transactions as documents.
type Connector struct {
	client *Client
	logger *slog.Logger
}

// Factory builds the registry factory for YNAB. Recognized credentials:
// "access_token" (required), "api_base" (test override). pageTimeout bounds
// each API request.
func Factory(logger *slog.Logger, pageTimeout time.Duration) source.Factory {
	return func(creds source.Credentials) (source.Connector, error) {
		client, err := NewClient(creds["access_token"], creds["api_base"], pageTimeout)
		if err != nil {
			return nil, fmt.Errorf("ynab connector: %w", err)
		}
		if logger == nil {
			logger = slog.Default()
		}
		return &Connector{client: client, logger: logger}, nil
	}
}

// Type returns the source type identifier.
func (c *Connector) Type() string { return SourceType }

// Validate checks the access token with a single lightweight call.
func (c *Connector) Validate(ctx context.Context) error {
	return c.client.Me(ctx)
}

// ListDocuments streams one overview document per budget plus one digest
// document per month of transactions. Budgets whose data cannot be fetched
// are counted and reported through a PartialSyncError; the stream continues
// with the remaining budgets.
func (c *Connector) ListDocuments(ctx context.Context, since time.Time) (<-chan source.Document, <-chan error) {
	docs := make(chan source.Document)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		budgets, err := c.client.Budgets(ctx)
		if err != nil {
			errs <- fmt.Errorf("listing ynab budgets: %w", err)
			return
		}

		unread := 0
		for _, budget := range budgets {
			budgetDocs, err := c.budgetDocuments(ctx, budget, since)
			if err != nil {
				c.logger.Warn("skipping unreadable ynab budget",
					"budget_id", budget.ID, "error", err)
				unread++
				continue
			}

			for _, doc := range budgetDocs {
				select {
				case docs <- doc:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}

		if unread > 0 {
			errs <- &source.PartialSyncError{Unread: unread}
		}
	}()

	return docs, errs
}

// budgetDocuments builds the document set for one budget. The overview
// document's UpdatedAt is the newest transaction date, so an unchanged
// budget is skipped on incremental syncs.
func (c *Connector) budgetDocuments(ctx context.Context, budget Budget, since time.Time) ([]source.Document, error) {
	txns, err := c.client.Transactions(ctx, budget.ID, since)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 && !since.IsZero() {
		return nil, nil // nothing changed since the last sync
	}

	byMonth := make(map[string][]Transaction)
	var newest time.Time
	for _, txn := range txns {
		date, err := time.Parse("2006-01-02", txn.Date)
		if err != nil {
			continue
		}
		if date.After(newest) {
			newest = date
		}
		month := date.Format("2006-01")
		byMonth[month] = append(byMonth[month], txn)
	}
	if newest.IsZero() {
		newest = time.Now().UTC()
	}

	cats, err := c.client.Categories(ctx, budget.ID)
	if err != nil {
		return nil, err
	}

	docs := []source.Document{{
		SourceType: SourceType,
		NativeID:   "budget/" + budget.ID,
		Title:      "Budget: " + budget.Name,
		Text:       overviewText(budget, cats),
		Tags:       []string{"budget"},
		UpdatedAt:  newest,
	}}

	months := make([]string, 0, len(byMonth))
	for month := range byMonth {
		months = append(months, month)
	}
	sort.Strings(months)

	for _, month := range months {
		docs = append(docs, source.Document{
			SourceType: SourceType,
			NativeID:   fmt.Sprintf("budget/%s/transactions/%s", budget.ID, month),
			Title:      fmt.Sprintf("%s transactions %s", budget.Name, month),
			Text:       transactionsText(budget, month, byMonth[month]),
			Tags:       []string{"transactions"},
			UpdatedAt:  monthUpdatedAt(byMonth[month]),
		})
	}

	return docs, nil
}

func monthUpdatedAt(txns []Transaction) time.Time {
	var newest time.Time
	for _, txn := range txns {
		if date, err := time.Parse("2006-01-02", txn.Date); err == nil && date.After(newest) {
			newest = date
		}
	}
	return newest
}

// overviewText renders a budget and its categories as readable lines.
func overviewText(budget Budget, cats []Category) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Budget: %s\n\n", budget.Name)
	if budget.CurrencyFormat.ISOCode != "" {
		fmt.Fprintf(&b, "Currency: %s\n", budget.CurrencyFormat.ISOCode)
	}
	if budget.FirstMonth != "" {
		fmt.Fprintf(&b, "Covers %s through %s\n", budget.FirstMonth, budget.LastMonth)
	}

	group := ""
	for _, cat := range cats {
		if cat.GroupName != group {
			group = cat.GroupName
			fmt.Fprintf(&b, "\n## %s\n", group)
		}
		fmt.Fprintf(&b, "- %s: budgeted %s, activity %s, balance %s\n",
			cat.Name, dollars(cat.Budgeted), dollars(cat.Activity), dollars(cat.Balance))
	}

	return strings.TrimSpace(b.String())
}

// transactionsText renders one month of transactions as readable lines.
// Outflows are negative milliunit amounts in the API; the text keeps the
// sign so spending and income stay distinguishable.
func transactionsText(budget Budget, month string, txns []Transaction) string {
	sort.Slice(txns, func(i, j int) bool { return txns[i].Date < txns[j].Date })

	var b strings.Builder
	fmt.Fprintf(&b, "# %s transactions for %s\n\n", budget.Name, month)

	var total int64
	for _, txn := range txns {
		payee := txn.PayeeName
		if payee == "" {
			payee = "Unknown payee"
		}
		category := txn.CategoryName
		if category == "" {
			category = "Uncategorized"
		}
		fmt.Fprintf(&b, "- %s: %s, %s, %s (%s)", txn.Date, payee, dollars(txn.Amount), category, txn.AccountName)
		if txn.Memo != "" {
			fmt.Fprintf(&b, " memo: %s", txn.Memo)
		}
		b.WriteString("\n")
		if txn.Amount < 0 {
			total += -txn.Amount
		}
	}

	fmt.Fprintf(&b, "\nTotal spending: %s across %d transactions\n", dollars(total), len(txns))
	return strings.TrimSpace(b.String())
}
