package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/fingerprint"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/vector"
)

// maxInParams keeps IN lists below SQLite's host parameter limit.
const maxInParams = 500

const busyTimeoutMillis = 5000

var articleColumns = []string{
	"id", "source", "url", "title", "published_at", "raw_text", "fetched_at",
	"category", "confidence", "category_note", "classification_failed",
	"summary", "embedding", "embedding_version", "enrichment_version",
	"pending_enrichment", "enrichment_error", "featured", "featured_at", "topic_cluster_id", "updated_at",
}

// columnMigrations add columns to databases created before the column existed.
var columnMigrations = []struct {
	column string
	ddl    string
}{
	{"revision", `ALTER TABLE articles ADD COLUMN revision INTEGER NOT NULL DEFAULT 0`},
	{"topic_cluster_id", `ALTER TABLE articles ADD COLUMN topic_cluster_id TEXT`},
}

// SQLiteStore implements Store using SQLite for metadata and vectors, with an
// in-memory index of the active model version's vectors for similarity search.
//
// Every write that can change the index bumps a revision counter in the database and
// stamps the written rows with it. Reads of the index first replay rows written since
// the index's checkpoint, so writes made by other processes become searchable.
type SQLiteStore struct {
	db           *sql.DB
	index        *vector.MemoryIndex
	snapshotPath string
	logger       *zap.Logger
	writeMu      sync.Mutex
	syncMu       sync.Mutex
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithSnapshot sets a file used to persist the vector index between runs.
func WithSnapshot(path string) Option {
	return func(s *SQLiteStore) { s.snapshotPath = path }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. version and dimensions describe the
// active embedding model; only its vectors are searchable.
func NewSQLiteStore(dbPath, version string, dimensions int, opts ...Option) (*SQLiteStore, error) {
	if version == "" {
		return nil, fmt.Errorf("active embedding version is required")
	}
	index, err := vector.NewMemoryIndex(version, dimensions)
	if err != nil {
		return nil, err
	}

	memory := dbPath == ":memory:"
	if !memory {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=%d&_foreign_keys=on", dbPath, busyTimeoutMillis))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, index: index, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.hydrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	categories := []string{"'" + string(models.CategoryUncategorized) + "'"}
	for _, c := range models.Categories {
		categories = append(categories, "'"+string(c)+"'")
	}
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		url TEXT NOT NULL,
		url_key TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		published_at INTEGER NOT NULL,
		raw_text TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		category TEXT NOT NULL DEFAULT 'uncategorized' CHECK (category IN (` + strings.Join(categories, ", ") + `)),
		confidence REAL NOT NULL DEFAULT 0,
		category_note TEXT NOT NULL DEFAULT '',
		classification_failed INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		embedding_version TEXT NOT NULL DEFAULT '',
		enrichment_version TEXT NOT NULL DEFAULT '',
		pending_enrichment INTEGER NOT NULL DEFAULT 0,
		enrichment_error TEXT NOT NULL DEFAULT '',
		featured INTEGER NOT NULL DEFAULT 0,
		featured_rank INTEGER NOT NULL DEFAULT 0,
		featured_at INTEGER,
		topic_cluster_id TEXT,
		revision INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS store_revision (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL,
		lineage TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_articles_category_published ON articles(category, published_at DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
	CREATE INDEX IF NOT EXISTS idx_articles_fetched ON articles(fetched_at);
	CREATE INDEX IF NOT EXISTS idx_articles_url_key ON articles(url_key);
	CREATE INDEX IF NOT EXISTS idx_articles_embedding_version ON articles(embedding_version);
	`
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	if err := migrateColumns(db); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_articles_revision ON articles(revision)`); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT OR IGNORE INTO store_revision (id, value, lineage) VALUES (1, 0, ?)`, uuid.NewString())
	return err
}

func migrateColumns(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA table_info(articles)`)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return err
	}
	for _, m := range columnMigrations {
		if have[m.column] {
			continue
		}
		if _, err := db.Exec(m.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", m.column, err)
		}
	}
	return nil
}

// hydrate loads the vector snapshot, if any, and replays the writes made since it was saved.
func (s *SQLiteStore) hydrate(ctx context.Context) error {
	if s.snapshotPath != "" {
		if err := s.index.Load(s.snapshotPath); err != nil {
			s.logger.Warn("Ignoring vector snapshot", zap.String("path", s.snapshotPath), zap.Error(err))
		} else {
			s.logger.Debug("Loaded vector snapshot", zap.Int("vectors", s.index.Size()))
		}
	}
	return s.syncIndex(ctx)
}

// head returns the database's current checkpoint.
func (s *SQLiteStore) head(ctx context.Context) (vector.Checkpoint, error) {
	var cp vector.Checkpoint
	if err := s.db.QueryRowContext(ctx, `SELECT lineage, value FROM store_revision WHERE id = 1`).
		Scan(&cp.Lineage, &cp.Revision); err != nil {
		return cp, fmt.Errorf("read store revision: %w", err)
	}
	return cp, nil
}

// bumpRevision advances the revision counter inside tx and returns the new value.
func bumpRevision(ctx context.Context, tx *sql.Tx) (int64, error) {
	query, args, err := sq.Update("store_revision").Set("value", sq.Expr("value + 1")).Where(sq.Eq{"id": 1}).ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("bump store revision: %w", err)
	}
	var rev int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM store_revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read store revision: %w", err)
	}
	return rev, nil
}

// syncIndex brings the vector index up to the database's current revision. Rows written
// after the index checkpoint are replayed; when the index still disagrees with the number
// of searchable rows, as after a purge, or the checkpoint belongs to another database, the
// index is rebuilt from the table.
func (s *SQLiteStore) syncIndex(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	head, err := s.head(ctx)
	if err != nil {
		return err
	}
	cp := s.index.Checkpoint()
	if cp == head {
		return nil
	}
	if cp.Lineage != head.Lineage || cp.Revision > head.Revision {
		return s.rebuildLocked(ctx, head)
	}

	query, args, err := sq.Select("id", "category", "published_at", "embedding", "embedding_version").
		From("articles").
		Where(sq.Gt{"revision": cp.Revision}).
		ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load changed vectors: %w", err)
	}
	var (
		upserts []vector.Entry
		removes []string
	)
	for rows.Next() {
		var (
			id, category, embVersion string
			published                int64
			blob                     []byte
		)
		if err := rows.Scan(&id, &category, &published, &blob, &embVersion); err != nil {
			rows.Close()
			return err
		}
		vec := decodeVector(blob)
		if embVersion != s.index.Version() || len(vec) == 0 || len(vec) != s.index.Dimensions() {
			removes = append(removes, id)
			continue
		}
		upserts = append(upserts, vector.Entry{ID: id, Vector: vec, Attrs: vector.Attributes{Category: category, PublishedAt: fromNanos(published)}})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, upserts); err != nil {
		return err
	}
	if err := s.index.Remove(ctx, removes); err != nil {
		return err
	}

	active, err := s.countActive(ctx)
	if err != nil {
		return err
	}
	if int64(s.index.Size()) != active {
		return s.rebuildLocked(ctx, head)
	}
	s.index.SetCheckpoint(head)
	if len(upserts)+len(removes) > 0 {
		s.logger.Debug("Synced vector index",
			zap.Int64("revision", head.Revision),
			zap.Int("upserted", len(upserts)),
			zap.Int("removed", len(removes)))
	}
	return nil
}

// rebuildLocked replaces the index contents with every active-version vector in the table.
func (s *SQLiteStore) rebuildLocked(ctx context.Context, head vector.Checkpoint) error {
	query, args, err := sq.Select("id", "category", "published_at", "embedding").
		From("articles").
		Where(sq.NotEq{"embedding": nil}).
		Where(sq.Eq{"embedding_version": s.index.Version()}).
		ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}
	defer rows.Close()

	var batch []vector.Entry
	for rows.Next() {
		var (
			id, category string
			published    int64
			blob         []byte
		)
		if err := rows.Scan(&id, &category, &published, &blob); err != nil {
			return err
		}
		vec := decodeVector(blob)
		if len(vec) != s.index.Dimensions() {
			s.logger.Warn("Skipping vector with wrong dimensions", zap.String("article_id", id), zap.Int("dimensions", len(vec)))
			continue
		}
		batch = append(batch, vector.Entry{ID: id, Vector: vec, Attrs: vector.Attributes{Category: category, PublishedAt: fromNanos(published)}})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := s.index.Replace(ctx, batch); err != nil {
		return err
	}
	s.index.SetCheckpoint(head)
	s.logger.Info("Rebuilt vector index from database", zap.Int("vectors", len(batch)), zap.Int64("revision", head.Revision))
	return nil
}

func (s *SQLiteStore) countActive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE embedding IS NOT NULL AND embedding_version = ?`,
		s.index.Version()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active vectors: %w", err)
	}
	return n, nil
}

// ActiveVersion returns the embedding model version whose vectors are searchable.
func (s *SQLiteStore) ActiveVersion() string {
	return s.index.Version()
}

// Upsert inserts a or updates its enrichment fields. The article's own fields are
// immutable once stored, so re-ingesting the same id never rewrites them.
func (s *SQLiteStore) Upsert(ctx context.Context, a *models.EnrichedArticle) error {
	if !a.Category.Valid() {
		return fmt.Errorf("upsert %s: invalid category %q", a.ID, a.Category)
	}
	var (
		blob       interface{}
		embVersion string
	)
	if a.Embedding != nil && len(a.Embedding.Vector) > 0 {
		blob = encodeVector(a.Embedding.Vector)
		embVersion = a.Embedding.Version
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", a.ID, err)
	}
	defer func() { _ = tx.Rollback() }()
	rev, err := bumpRevision(ctx, tx)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", a.ID, err)
	}

	query, args, err := sq.Insert("articles").
		Columns("id", "source", "url", "url_key", "title", "published_at", "raw_text", "fetched_at",
			"category", "confidence", "category_note", "classification_failed",
			"summary", "embedding", "embedding_version", "enrichment_version",
			"pending_enrichment", "enrichment_error", "revision", "updated_at").
		Values(a.ID, a.Source, a.URL, fingerprint.URLKey(a.URL), a.Title, toNanos(a.PublishedAt), a.RawText, toNanos(a.FetchedAt),
			string(a.Category), a.Confidence, a.CategoryNote, a.ClassificationFailed,
			a.Summary, blob, embVersion, a.EnrichmentVersion,
			a.PendingEnrichment, a.EnrichmentError, rev, toNanos(updated)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			category = excluded.category,
			confidence = excluded.confidence,
			category_note = excluded.category_note,
			classification_failed = excluded.classification_failed,
			summary = excluded.summary,
			embedding = excluded.embedding,
			embedding_version = excluded.embedding_version,
			enrichment_version = excluded.enrichment_version,
			pending_enrichment = excluded.pending_enrichment,
			enrichment_error = excluded.enrichment_error,
			revision = excluded.revision,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", a.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert %s: %w", a.ID, err)
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if a.Embedding.Compatible(s.index.Version(), s.index.Dimensions()) {
		err = s.index.Upsert(ctx, []vector.Entry{{
			ID:     a.ID,
			Vector: a.Embedding.Vector,
			Attrs:  vector.Attributes{Category: string(a.Category), PublishedAt: a.PublishedAt},
		}})
	} else {
		err = s.index.Remove(ctx, []string{a.ID})
	}
	if err != nil {
		return err
	}
	s.advanceLocked(rev)
	return nil
}

// advanceLocked moves the index checkpoint past a write of this store at rev when no
// other write landed since the last sync.
func (s *SQLiteStore) advanceLocked(rev int64) {
	if cp := s.index.Checkpoint(); cp.Revision == rev-1 {
		cp.Revision = rev
		s.index.SetCheckpoint(cp)
	}
}

// Get returns an article by ID, or models.ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.EnrichedArticle, error) {
	query, args, err := sq.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetMany returns the stored articles among ids, keyed by ID.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) (map[string]*models.EnrichedArticle, error) {
	out := make(map[string]*models.EnrichedArticle, len(ids))
	for _, chunk := range chunks(ids) {
		articles, err := s.queryArticles(ctx, sq.Select(articleColumns...).From("articles").Where(sq.Eq{"id": chunk}))
		if err != nil {
			return nil, err
		}
		for _, a := range articles {
			out[a.ID] = a
		}
	}
	return out, nil
}

// Exists reports whether an article with id is stored.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	found, err := s.ExistingIDs(ctx, []string{id})
	if err != nil {
		return false, err
	}
	return found[id], nil
}

// ExistingIDs returns the subset of ids already stored.
func (s *SQLiteStore) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, chunk := range chunks(ids) {
		query, args, err := sq.Select("id").From("articles").Where(sq.Eq{"id": chunk}).ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ExistingURLs maps each stored URL key among keys to the ID of the article holding it.
func (s *SQLiteStore) ExistingURLs(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, chunk := range chunks(keys) {
		query, args, err := sq.Select("url_key", "id").From("articles").Where(sq.Eq{"url_key": chunk}).ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("lookup urls: %w", err)
		}
		for rows.Next() {
			var key, id string
			if err := rows.Scan(&key, &id); err != nil {
				rows.Close()
				return nil, err
			}
			if _, seen := out[key]; !seen {
				out[key] = id
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListByCategory lists articles newest first. An empty category lists all of them.
func (s *SQLiteStore) ListByCategory(ctx context.Context, c models.Category, r models.DateRange, p models.Page) ([]*models.EnrichedArticle, error) {
	b := withRange(sq.Select(articleColumns...).From("articles"), r)
	if c != "" {
		b = b.Where(sq.Eq{"category": string(c)})
	}
	b = b.OrderBy("published_at DESC", "id ASC")
	if p.Limit > 0 {
		b = b.Limit(uint64(p.Limit))
	}
	if p.Offset > 0 {
		if p.Limit <= 0 {
			b = b.Limit(math.MaxInt32)
		}
		b = b.Offset(uint64(p.Offset))
	}
	return s.queryArticles(ctx, b)
}

// SimilaritySearch returns the top-k articles closest to q, filtered by category and date.
// q must come from the active model version. When no active-version vectors exist but
// stale ones do, it returns a degraded result with a *models.ModelVersionMismatchError.
func (s *SQLiteStore) SimilaritySearch(ctx context.Context, q models.Embedding, k int, f models.SearchFilters) (*models.SearchResult, error) {
	active := s.index.Version()
	if q.Version != active {
		return nil, &models.ModelVersionMismatchError{Active: active, Got: q.Version}
	}
	if err := s.syncIndex(ctx); err != nil {
		return nil, err
	}
	res := &models.SearchResult{ActiveVersion: active}

	if s.index.Size() == 0 {
		stale, err := s.countStale(ctx)
		if err != nil {
			return nil, err
		}
		if stale > 0 {
			res.Degraded = true
			res.StaleCount = int(stale)
			return res, &models.ModelVersionMismatchError{Active: active, Stale: int(stale)}
		}
		return res, nil
	}

	var filter vector.Filter
	if f.Category != "" || !f.Range.From.IsZero() || !f.Range.To.IsZero() {
		filter = func(a vector.Attributes) bool {
			if f.Category != "" && a.Category != string(f.Category) {
				return false
			}
			return f.Range.Contains(a.PublishedAt)
		}
	}
	results, err := s.index.Search(ctx, q.Vector, k, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(results) == 0 {
		return res, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	articles, err := s.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		a, ok := articles[r.ID]
		if !ok {
			continue
		}
		res.Hits = append(res.Hits, &models.ScoredArticle{
			Article:       a,
			Score:         r.Score,
			SemanticScore: r.Score,
			Rank:          len(res.Hits) + 1,
		})
	}
	return res, nil
}

// CategoryVectors returns the active-version vectors of a category published within r.
func (s *SQLiteStore) CategoryVectors(ctx context.Context, c models.Category, r models.DateRange) ([]vector.Entry, error) {
	if err := s.syncIndex(ctx); err != nil {
		return nil, err
	}
	entries := s.index.Vectors(func(a vector.Attributes) bool {
		return a.Category == string(c) && r.Contains(a.PublishedAt)
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// Recent returns articles fetched at or after since, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, since time.Time) ([]*models.Article, error) {
	query, args, err := sq.Select("id", "source", "url", "title", "published_at", "raw_text", "fetched_at").
		From("articles").
		Where(sq.GtOrEq{"fetched_at": toNanos(since)}).
		OrderBy("fetched_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	var out []*models.Article
	for rows.Next() {
		var (
			a                  models.Article
			published, fetched int64
		)
		if err := rows.Scan(&a.ID, &a.Source, &a.URL, &a.Title, &published, &a.RawText, &fetched); err != nil {
			return nil, err
		}
		a.PublishedAt, a.FetchedAt = fromNanos(published), fromNanos(fetched)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ListForReprocess returns articles that are pending enrichment, failed classification,
// or whose embedding is missing or from another model version, oldest first.
func (s *SQLiteStore) ListForReprocess(ctx context.Context, limit int) ([]*models.EnrichedArticle, error) {
	b := sq.Select(articleColumns...).From("articles").
		Where(sq.Or{
			sq.Eq{"pending_enrichment": true},
			sq.Eq{"embedding": nil},
			sq.NotEq{"embedding_version": s.index.Version()},
			sq.Eq{"summary": ""},
			sq.Eq{"classification_failed": true},
		}).
		OrderBy("fetched_at ASC", "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.queryArticles(ctx, b)
}

// SetFeatured marks ids, in rank order, as the featured articles of category c and
// unmarks every other article of c.
func (s *SQLiteStore) SetFeatured(ctx context.Context, c models.Category, ids []string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sq.Update("articles").
		Set("featured", false).
		Set("featured_rank", 0).
		Set("featured_at", nil).
		Where(sq.Eq{"category": string(c), "featured": true}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear featured: %w", err)
	}
	for rank, id := range ids {
		query, args, err := sq.Update("articles").
			Set("featured", true).
			Set("featured_rank", rank+1).
			Set("featured_at", toNanos(at)).
			Where(sq.Eq{"id": id, "category": string(c)}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("mark featured %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SetTopicClusters assigns topic cluster IDs to articles of category c. Articles of c
// published within r and missing from clusters have their cluster cleared.
func (s *SQLiteStore) SetTopicClusters(ctx context.Context, c models.Category, r models.DateRange, clusters map[string]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	reset := sq.Update("articles").
		Set("topic_cluster_id", nil).
		Where(sq.Eq{"category": string(c)}).
		Where(sq.NotEq{"topic_cluster_id": nil})
	if !r.From.IsZero() {
		reset = reset.Where(sq.GtOrEq{"published_at": toNanos(r.From)})
	}
	if !r.To.IsZero() {
		reset = reset.Where(sq.Lt{"published_at": toNanos(r.To)})
	}
	query, args, err := reset.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear topic clusters: %w", err)
	}
	ids := make([]string, 0, len(clusters))
	for id := range clusters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		query, args, err := sq.Update("articles").
			Set("topic_cluster_id", clusters[id]).
			Where(sq.Eq{"id": id, "category": string(c)}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("set topic cluster %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// TopicClusters returns the article IDs of each topic cluster of c, newest first.
func (s *SQLiteStore) TopicClusters(ctx context.Context, c models.Category) (map[string][]string, error) {
	query, args, err := sq.Select("topic_cluster_id", "id").From("articles").
		Where(sq.Eq{"category": string(c)}).
		Where(sq.NotEq{"topic_cluster_id": nil}).
		OrderBy("topic_cluster_id ASC", "published_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list topic clusters: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var cluster, id string
		if err := rows.Scan(&cluster, &id); err != nil {
			return nil, err
		}
		out[cluster] = append(out[cluster], id)
	}
	return out, rows.Err()
}

// Featured returns the featured articles of c in rank order.
func (s *SQLiteStore) Featured(ctx context.Context, c models.Category) ([]*models.EnrichedArticle, error) {
	return s.queryArticles(ctx, sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"category": string(c), "featured": true}).
		OrderBy("featured_rank ASC"))
}

// Stats returns counts for status reporting.
func (s *SQLiteStore) Stats(ctx context.Context) (*models.StoreStats, error) {
	if err := s.syncIndex(ctx); err != nil {
		return nil, err
	}
	stats := &models.StoreStats{
		ByCategory:    make(map[models.Category]int64),
		ActiveVersion: s.index.Version(),
		IndexSize:     s.index.Size(),
	}
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM articles GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	for rows.Next() {
		var (
			c string
			n int64
		)
		if err := rows.Scan(&c, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByCategory[models.Category(c)] = n
		stats.Articles += n
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN embedding IS NOT NULL AND embedding_version = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pending_enrichment = 1 THEN 1 ELSE 0 END), 0)
		 FROM articles`, s.index.Version()).Scan(&stats.Searchable, &stats.Pending); err != nil {
		return nil, fmt.Errorf("count enrichment: %w", err)
	}
	stale, err := s.countStale(ctx)
	if err != nil {
		return nil, err
	}
	stats.Stale = stale
	return stats, nil
}

func (s *SQLiteStore) countStale(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE embedding IS NOT NULL AND embedding_version != ?`,
		s.index.Version()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stale vectors: %w", err)
	}
	return n, nil
}

// Purge deletes articles published before the cutoff and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	// Write first so the transaction holds the write lock before it reads.
	rev, err := bumpRevision(ctx, tx)
	if err != nil {
		return 0, err
	}

	query, args, err := sq.Select("id").From("articles").Where(sq.Lt{"published_at": toNanos(before)}).ToSql()
	if err != nil {
		return 0, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("select purge: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err = sq.Delete("articles").Where(sq.Lt{"published_at": toNanos(before)}).ToSql()
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	n, _ := result.RowsAffected()

	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if err := s.index.Remove(ctx, ids); err != nil {
		return n, err
	}
	s.advanceLocked(rev)
	return n, nil
}

// Close persists the vector snapshot, if configured, and closes the database. The snapshot
// records the revision it reflects, so a later open replays only newer writes.
func (s *SQLiteStore) Close() error {
	if s.snapshotPath != "" {
		if err := s.syncIndex(context.Background()); err != nil {
			s.logger.Warn("Failed to sync vector index before saving", zap.Error(err))
		}
		if err := s.index.Save(s.snapshotPath); err != nil {
			s.logger.Warn("Failed to save vector snapshot", zap.String("path", s.snapshotPath), zap.Error(err))
		}
	}
	return s.db.Close()
}

func (s *SQLiteStore) queryArticles(ctx context.Context, b sq.SelectBuilder) ([]*models.EnrichedArticle, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()
	var out []*models.EnrichedArticle
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*models.EnrichedArticle, error) {
	var (
		a                           models.EnrichedArticle
		category, embVersion        string
		published, fetched, updated int64
		featuredAt                  sql.NullInt64
		topicCluster                sql.NullString
		blob                        []byte
	)
	err := row.Scan(&a.ID, &a.Source, &a.URL, &a.Title, &published, &a.RawText, &fetched,
		&category, &a.Confidence, &a.CategoryNote, &a.ClassificationFailed,
		&a.Summary, &blob, &embVersion, &a.EnrichmentVersion,
		&a.PendingEnrichment, &a.EnrichmentError, &a.Featured, &featuredAt, &topicCluster, &updated)
	if err != nil {
		return nil, err
	}
	a.Category = models.Category(category)
	a.PublishedAt, a.FetchedAt, a.UpdatedAt = fromNanos(published), fromNanos(fetched), fromNanos(updated)
	if featuredAt.Valid {
		t := fromNanos(featuredAt.Int64)
		a.FeaturedAt = &t
	}
	a.TopicClusterID = topicCluster.String
	if len(blob) > 0 {
		a.Embedding = &models.Embedding{Version: embVersion, Vector: decodeVector(blob)}
	}
	return &a, nil
}

func withRange(b sq.SelectBuilder, r models.DateRange) sq.SelectBuilder {
	if !r.From.IsZero() {
		b = b.Where(sq.GtOrEq{"published_at": toNanos(r.From)})
	}
	if !r.To.IsZero() {
		b = b.Where(sq.Lt{"published_at": toNanos(r.To)})
	}
	return b
}

func chunks(ids []string) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := len(ids)
		if n > maxInParams {
			n = maxInParams
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
