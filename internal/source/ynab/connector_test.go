package ynab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sagehq/sage/internal/log"
	"github.com/sagehq/sage/internal/source"
)

// fakeYNAB serves a minimal slice of the YNAB API: two budgets, one of
// which can be made to fail its transactions call.
func fakeYNAB(t *testing.T, failTxnsFor string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":{"user":{"id":"u-1"}}}`)
	})
	mux.HandleFunc("/budgets", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": map[string]any{
				"budgets": []map[string]any{
					{
						"id": "b-1", "name": "Household",
						"first_month": "2025-01-01", "last_month": "2025-06-01",
						"currency_format": map[string]any{"iso_code": "USD"},
					},
					{
						"id": "b-2", "name": "Side Business",
						"currency_format": map[string]any{"iso_code": "USD"},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/budgets/b-1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if failTxnsFor == "b-1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		txns := []map[string]any{
			{
				"id": "t-1", "date": "2025-05-03", "amount": -42500,
				"payee_name": "Green Grocer", "category_name": "Groceries",
				"account_name": "Checking", "cleared": "cleared",
			},
			{
				"id": "t-2", "date": "2025-06-10", "amount": -120000,
				"payee_name": "City Power", "category_name": "Utilities",
				"account_name": "Checking", "cleared": "cleared", "memo": "June bill",
			},
			{
				"id": "t-3", "date": "2025-06-01", "amount": 3500000,
				"payee_name": "Employer", "category_name": "",
				"account_name": "Checking", "cleared": "cleared",
			},
		}
		if r.URL.Query().Get("since_date") != "" {
			since, _ := time.Parse("2006-01-02", r.URL.Query().Get("since_date"))
			var kept []map[string]any
			for _, txn := range txns {
				date, _ := time.Parse("2006-01-02", txn["date"].(string))
				if !date.Before(since) {
					kept = append(kept, txn)
				}
			}
			txns = kept
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"transactions": txns},
		})
	})
	mux.HandleFunc("/budgets/b-1/categories", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"data": map[string]any{
				"category_groups": []map[string]any{
					{
						"id": "g-1", "name": "Immediate Obligations",
						"categories": []map[string]any{
							{"name": "Groceries", "budgeted": 500000, "activity": -42500, "balance": 457500},
							{"name": "Hidden One", "budgeted": 0, "activity": 0, "balance": 0, "hidden": true},
						},
					},
					{
						"id": "g-2", "name": "Internal Master Category",
						"categories": []map[string]any{
							{"name": "Inflow: Ready to Assign", "budgeted": 0, "activity": 0, "balance": 0},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/budgets/b-2/transactions", func(w http.ResponseWriter, r *http.Request) {
		if failTxnsFor == "b-2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"transactions": []map[string]any{
				{
					"id": "t-9", "date": "2025-04-20", "amount": -9990,
					"payee_name": "Hosting Co", "category_name": "Infrastructure",
					"account_name": "Business Checking", "cleared": "cleared",
				},
			}},
		})
	})
	mux.HandleFunc("/budgets/b-2/categories", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"category_groups": []map[string]any{}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestConnector(t *testing.T, srv *httptest.Server, token string) source.Connector {
	t.Helper()
	conn, err := Factory(log.NewNop(), 0)(source.Credentials{
		"access_token": token,
		"api_base":     srv.URL,
	})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	return conn
}

// collect drains both channels and returns the documents plus the final
// error, if any.
func collect(t *testing.T, docs <-chan source.Document, errs <-chan error) ([]source.Document, error) {
	t.Helper()
	var out []source.Document
	for doc := range docs {
		out = append(out, doc)
	}
	var last error
	for err := range errs {
		last = err
	}
	return out, last
}

func TestValidate(t *testing.T) {
	srv := fakeYNAB(t, "")

	conn := newTestConnector(t, srv, "good-token")
	if err := conn.Validate(context.Background()); err != nil {
		t.Errorf("Validate() with good token = %v, want nil", err)
	}

	conn = newTestConnector(t, srv, "bad-token")
	err := conn.Validate(context.Background())
	if !errors.Is(err, source.ErrAuthentication) {
		t.Errorf("Validate() with bad token = %v, want ErrAuthentication", err)
	}
}

func TestFactoryPageTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	conn, err := Factory(log.NewNop(), 50*time.Millisecond)(source.Credentials{
		"access_token": "good-token",
		"api_base":     srv.URL,
	})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}

	start := time.Now()
	if err := conn.Validate(context.Background()); err == nil {
		t.Fatal("Validate() against a stalled server = nil, want timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Validate() blocked for %v despite the page timeout", elapsed)
	}
}

func TestFactoryRequiresToken(t *testing.T) {
	if _, err := Factory(log.NewNop(), 0)(source.Credentials{}); err == nil {
		t.Error("Factory() without access_token succeeded, want error")
	}
}

func TestListDocuments(t *testing.T) {
	srv := fakeYNAB(t, "")
	conn := newTestConnector(t, srv, "good-token")

	docCh, errCh := conn.ListDocuments(context.Background(), time.Time{})
	docs, err := collect(t, docCh, errCh)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}

	// Household: overview + 2025-05 + 2025-06. Side Business: overview + 2025-04.
	if len(docs) != 5 {
		t.Fatalf("got %d documents, want 5", len(docs))
	}

	byID := make(map[string]source.Document, len(docs))
	for _, doc := range docs {
		if doc.SourceType != SourceType {
			t.Errorf("document %q has SourceType %q, want %q", doc.NativeID, doc.SourceType, SourceType)
		}
		byID[doc.NativeID] = doc
	}

	overview, ok := byID["budget/b-1"]
	if !ok {
		t.Fatal("missing overview document for budget b-1")
	}
	if overview.Title != "Budget: Household" {
		t.Errorf("overview title = %q", overview.Title)
	}
	if !strings.Contains(overview.Text, "Groceries: budgeted 500.00") {
		t.Errorf("overview text missing category line:\n%s", overview.Text)
	}
	if strings.Contains(overview.Text, "Hidden One") || strings.Contains(overview.Text, "Ready to Assign") {
		t.Errorf("overview text contains hidden or internal category:\n%s", overview.Text)
	}
	wantUpdated := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	if !overview.UpdatedAt.Equal(wantUpdated) {
		t.Errorf("overview UpdatedAt = %v, want %v", overview.UpdatedAt, wantUpdated)
	}

	june, ok := byID["budget/b-1/transactions/2025-06"]
	if !ok {
		t.Fatal("missing June digest document")
	}
	if !strings.Contains(june.Text, "City Power, -120.00, Utilities") {
		t.Errorf("June digest missing transaction line:\n%s", june.Text)
	}
	if !strings.Contains(june.Text, "memo: June bill") {
		t.Errorf("June digest missing memo:\n%s", june.Text)
	}
	if !strings.Contains(june.Text, "Employer, 3500.00, Uncategorized") {
		t.Errorf("June digest missing inflow line:\n%s", june.Text)
	}
	if !strings.Contains(june.Text, "Total spending: 120.00") {
		t.Errorf("June digest total counts inflows:\n%s", june.Text)
	}
}

func TestListDocumentsSince(t *testing.T) {
	srv := fakeYNAB(t, "")
	conn := newTestConnector(t, srv, "good-token")

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	docCh, errCh := conn.ListDocuments(context.Background(), since)
	docs, err := collect(t, docCh, errCh)
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}

	// Side Business has nothing after June and is skipped entirely.
	// Household keeps its overview plus the June digest.
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	for _, doc := range docs {
		if strings.HasPrefix(doc.NativeID, "budget/b-2") {
			t.Errorf("unchanged budget b-2 produced document %q", doc.NativeID)
		}
		if doc.NativeID == "budget/b-1/transactions/2025-05" {
			t.Error("May digest yielded despite since filter")
		}
	}
}

func TestListDocumentsPartialFailure(t *testing.T) {
	srv := fakeYNAB(t, "b-2")
	conn := newTestConnector(t, srv, "good-token")

	docCh, errCh := conn.ListDocuments(context.Background(), time.Time{})
	docs, err := collect(t, docCh, errCh)

	var partial *source.PartialSyncError
	if !errors.As(err, &partial) {
		t.Fatalf("error = %v, want PartialSyncError", err)
	}
	if partial.Unread != 1 {
		t.Errorf("Unread = %d, want 1", partial.Unread)
	}

	// The healthy budget still streams all of its documents.
	if len(docs) != 3 {
		t.Errorf("got %d documents, want 3 from the healthy budget", len(docs))
	}
}
