package config

import (
	"errors"
	"strings"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config invalid: %v", err)
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	if cfg.DefaultTopK != 10 {
		t.Errorf("DefaultTopK = %d, want 10", cfg.DefaultTopK)
	}
	if cfg.ChunkSize != 2000 || cfg.ChunkOverlap != 300 {
		t.Errorf("chunking = (%d, %d), want (2000, 300)", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.MaxChunksPerDoc != 2 {
		t.Errorf("MaxChunksPerDoc = %d, want 2", cfg.MaxChunksPerDoc)
	}
	if len(cfg.SimpleProviders) == 0 || len(cfg.ComplexProviders) == 0 {
		t.Fatal("default provider tiers must not be empty")
	}
	if cfg.SimpleTimeout >= cfg.ComplexTimeout {
		t.Errorf("simple timeout %v should be shorter than complex %v",
			cfg.SimpleTimeout, cfg.ComplexTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: nil,
		},
		{
			name:    "overlap >= chunk size",
			mutate:  func(c *Config) { c.ChunkOverlap = c.ChunkSize },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "negative chunk size",
			mutate:  func(c *Config) { c.ChunkSize = -1 },
			wantErr: ErrInvalidChunking,
		},
		{
			name:    "threshold above one",
			mutate:  func(c *Config) { c.SimilarityThreshold = 1.5 },
			wantErr: ErrInvalidThreshold,
		},
		{
			name:    "zero top-k",
			mutate:  func(c *Config) { c.DefaultTopK = 0 },
			wantErr: ErrInvalidTopK,
		},
		{
			name:    "zero embed batch",
			mutate:  func(c *Config) { c.EmbedBatchSize = 0 },
			wantErr: ErrInvalidBatchSize,
		},
		{
			name:    "empty simple tier",
			mutate:  func(c *Config) { c.SimpleProviders = nil },
			wantErr: ErrNoProviders,
		},
		{
			name:    "empty complex tier",
			mutate:  func(c *Config) { c.ComplexProviders = nil },
			wantErr: ErrNoProviders,
		},
		{
			name:    "missing postgres host",
			mutate:  func(c *Config) { c.PostgresHost = "" },
			wantErr: ErrInvalidPostgres,
		},
		{
			name:    "postgres port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgres,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Fatalf("Validate() on nil = %v, want ErrConfigNil", err)
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.PostgresHost = "db.internal"
	cfg.PostgresPort = 5433
	cfg.PostgresUser = "u"
	cfg.PostgresPassword = "p"
	cfg.PostgresDBName = "sage"
	cfg.PostgresSSLMode = "require"

	got := cfg.DatabaseURL()
	want := "postgres://u:p@db.internal:5433/sage?sslmode=require"
	if got != want {
		t.Errorf("DatabaseURL() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, "postgres://") {
		t.Errorf("DatabaseURL() missing scheme: %q", got)
	}
}
