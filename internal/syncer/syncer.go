package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/sagehq/sage/internal/chunk"
	"github.com/sagehq/sage/internal/embed"
	"github.com/sagehq/sage/internal/index"
	"github.com/sagehq/sage/internal/source"
)

const (
	// DefaultBatchSize is the number of documents ingested per pipeline
	// batch. Cancellation is observed between batches.
	DefaultBatchSize = 16

	// DefaultWorkers bounds SyncAll's concurrency.
	DefaultWorkers = 4
)

// Report summarizes one sync run.
type Report struct {
	SourceType string

	// Synced is the number of documents ingested or refreshed.
	Synced int

	// Skipped is the number of documents left untouched because the
	// source reported no change since the last sync.
	Skipped int

	// Failed is the number of documents that could not be ingested.
	Failed int

	Duration time.Duration
}

// Syncer runs the ingestion pipeline.
//
// Syncer is safe for concurrent use; overlapping syncs of the same
// (user, source) pair are rejected with ErrSyncInProgress.
type Syncer struct {
	registry    *source.Registry
	connections ConnectionStore
	idx         index.Index
	gateway     *embed.Gateway
	chunker     *chunk.Chunker
	logger      *slog.Logger

	batchSize int
	workers   int

	mu       sync.Mutex
	inFlight map[pairKey]struct{}
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithBatchSize sets the documents-per-batch count.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithWorkers sets SyncAll's worker pool size.
func WithWorkers(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New creates a Syncer.
func New(registry *source.Registry, connections ConnectionStore, idx index.Index,
	gateway *embed.Gateway, chunker *chunk.Chunker, logger *slog.Logger, opts ...Option) (*Syncer, error) {
	if registry == nil || connections == nil || idx == nil || gateway == nil || chunker == nil {
		return nil, fmt.Errorf("registry, connections, index, gateway and chunker are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Syncer{
		registry:    registry,
		connections: connections,
		idx:         idx,
		gateway:     gateway,
		chunker:     chunker,
		logger:      logger,
		batchSize:   DefaultBatchSize,
		workers:     DefaultWorkers,
		inFlight:    make(map[pairKey]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect validates credentials against the source platform and stores the
// connection. Validation failure is fast-fail: nothing is stored.
func (s *Syncer) Connect(ctx context.Context, userID, sourceType string, creds source.Credentials) error {
	if userID == "" {
		return index.ErrUserIDRequired
	}

	connector, err := s.registry.Connector(sourceType, creds)
	if err != nil {
		return err
	}
	if err := connector.Validate(ctx); err != nil {
		return fmt.Errorf("validating %s credentials: %w", sourceType, err)
	}

	return s.connections.Put(ctx, Connection{
		UserID:      userID,
		SourceType:  sourceType,
		Credentials: creds,
		Status:      StatusConnected,
	})
}

// Disconnect removes the connection and cascade-deletes the user's indexed
// content for that source. Retrieval never sees a disconnected source.
func (s *Syncer) Disconnect(ctx context.Context, userID, sourceType string) error {
	if _, err := s.connections.Get(ctx, userID, sourceType); err != nil {
		return err
	}

	if err := s.idx.Delete(ctx, index.Filter{UserID: userID, SourceType: sourceType}); err != nil {
		return fmt.Errorf("deleting indexed content: %w", err)
	}
	return s.connections.Delete(ctx, userID, sourceType)
}

// Status returns the user's connections with their sync bookkeeping.
func (s *Syncer) Status(ctx context.Context, userID string) ([]Connection, error) {
	return s.connections.List(ctx, userID)
}

// Sync ingests one source for one user. A concurrent sync of the same pair
// returns ErrSyncInProgress immediately. The run's outcome is recorded on
// the connection whether it succeeds or fails.
func (s *Syncer) Sync(ctx context.Context, userID, sourceType string) (Report, error) {
	conn, err := s.connections.Get(ctx, userID, sourceType)
	if err != nil {
		return Report{}, err
	}

	key := pairKey{userID, sourceType}
	if !s.tryLock(key) {
		return Report{}, fmt.Errorf("%w: %s", ErrSyncInProgress, sourceType)
	}
	defer s.unlock(key)

	start := time.Now()
	report, runErr := s.run(ctx, conn)
	report.SourceType = sourceType
	report.Duration = time.Since(start)

	// Bookkeeping survives failures: the attempt time and failure detail
	// are always visible to Status.
	conn.LastSyncedAt = start.UTC()
	conn.FailedCount = report.Failed
	if runErr != nil {
		conn.Status = StatusError
		conn.LastError = runErr.Error()
	} else {
		conn.Status = StatusConnected
		conn.LastError = ""
	}
	if putErr := s.connections.Put(ctx, conn); putErr != nil {
		s.logger.Error("recording sync outcome failed",
			"user_id", userID, "source_type", sourceType, "error", putErr)
	}

	if runErr != nil {
		return report, runErr
	}
	return report, nil
}

func (s *Syncer) run(ctx context.Context, conn Connection) (Report, error) {
	var report Report

	connector, err := s.registry.Connector(conn.SourceType, conn.Credentials)
	if err != nil {
		return report, err
	}

	revisions, err := s.idx.Revisions(ctx, conn.UserID, conn.SourceType)
	if err != nil {
		return report, fmt.Errorf("loading revisions: %w", err)
	}

	s.logger.Info("sync started",
		"user_id", conn.UserID, "source_type", conn.SourceType,
		"since", conn.LastSyncedAt)

	docs, errs := connector.ListDocuments(ctx, conn.LastSyncedAt)

	batch := make([]source.Document, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.ingestBatch(ctx, conn, batch, &report)
		batch = batch[:0]
		return nil
	}

	for doc := range docs {
		if rev, ok := revisions[doc.NativeID]; ok && !doc.UpdatedAt.After(rev) {
			report.Skipped++
			continue
		}
		batch = append(batch, doc)
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				go drain(docs, errs)
				return report, err
			}
		}
	}
	if err := flush(); err != nil {
		go drain(docs, errs)
		return report, err
	}

	var streamErr error
	for err := range errs {
		streamErr = err
	}
	var partial *source.PartialSyncError
	if errors.As(streamErr, &partial) {
		report.Failed += partial.Unread
		streamErr = nil
	}
	if streamErr != nil {
		return report, fmt.Errorf("streaming %s documents: %w", conn.SourceType, streamErr)
	}

	s.logger.Info("sync finished",
		"user_id", conn.UserID, "source_type", conn.SourceType,
		"synced", report.Synced, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// ingestBatch chunks and embeds one batch, then upserts per document.
// Failures mark the affected documents and the batch's neighbors are
// unaffected; previously indexed content stays untouched either way.
func (s *Syncer) ingestBatch(ctx context.Context, conn Connection, batch []source.Document, report *Report) {
	type docChunks struct {
		doc    source.Document
		chunks []chunk.Chunk
	}

	prepared := make([]docChunks, 0, len(batch))
	var texts []string
	for _, doc := range batch {
		docID := documentID(conn.UserID, conn.SourceType, doc.NativeID)
		chunks := s.chunker.Split(docID, doc.Text)
		prepared = append(prepared, docChunks{doc: doc, chunks: chunks})
		for _, c := range chunks {
			texts = append(texts, c.Text)
		}
	}

	vectors, err := s.gateway.Embed(ctx, texts)
	if err != nil {
		s.logger.Warn("embedding batch failed",
			"source_type", conn.SourceType, "documents", len(batch), "error", err)
		report.Failed += len(batch)
		return
	}

	vi := 0
	for _, dc := range prepared {
		indexed := make([]index.Chunk, len(dc.chunks))
		for i, c := range dc.chunks {
			indexed[i] = index.Chunk{
				ID:         c.ID,
				DocumentID: dc.doc.NativeID,
				UserID:     conn.UserID,
				SourceType: conn.SourceType,
				Title:      dc.doc.Title,
				Content:    c.Text,
				Embedding:  vectors[vi],
				UpdatedAt:  dc.doc.UpdatedAt,
			}
			vi++
		}

		doc := index.Document{
			UserID:     conn.UserID,
			SourceType: conn.SourceType,
			NativeID:   dc.doc.NativeID,
			Title:      dc.doc.Title,
			Tags:       dc.doc.Tags,
			UpdatedAt:  dc.doc.UpdatedAt,
		}
		if err := s.idx.Upsert(ctx, doc, indexed); err != nil {
			s.logger.Warn("upserting document failed",
				"source_type", conn.SourceType, "native_id", dc.doc.NativeID, "error", err)
			report.Failed++
			continue
		}
		report.Synced++
	}
}

// SyncAll syncs every connected source for the user over a bounded worker
// pool. Per-source failures are joined into the returned error; a partially
// failed SyncAll still returns the successful reports.
func (s *Syncer) SyncAll(ctx context.Context, userID string) ([]Report, error) {
	conns, err := s.connections.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, nil
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		reports []Report
		errs    []error
		wg      sync.WaitGroup
	)
	for _, conn := range conns {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			report, err := s.Sync(ctx, conn.UserID, conn.SourceType)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", conn.SourceType, err))
				return
			}
			reports = append(reports, report)
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", conn.SourceType, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()

	return reports, errors.Join(errs...)
}

func (s *Syncer) tryLock(key pairKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.inFlight[key]; held {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Syncer) unlock(key pairKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// documentID is the chunker namespace for a document. The user is part of
// the namespace: chunk IDs are a global key in the index, and two users
// holding the same native ID (a shared Notion page, the same vault file
// name) must never produce colliding chunks.
func documentID(userID, sourceType, nativeID string) string {
	return userID + "/" + sourceType + "/" + nativeID
}

// drain empties abandoned connector channels so their goroutine can exit.
func drain(docs <-chan source.Document, errs <-chan error) {
	for range docs {
	}
	for range errs {
	}
}
