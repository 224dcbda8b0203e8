package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store backed by SQLite. Embedding vectors are
// stored as little-endian float32 BLOBs and ranked in Go.
type SQLiteStore struct {
	db            *sql.DB
	minSimilarity float64
}

// NewSQLiteStore opens (or creates) a SQLite database and applies the
// schema migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var options Opts
	for _, opt := range opts {
		opt(&options)
	}
	if options.SQLiteDSN == "" {
		return nil, errors.New("SQLite DSN is required")
	}
	if options.CacheMinSimilarity == 0 {
		options.CacheMinSimilarity = DefaultCacheMinSimilarity
	}

	db, err := sql.Open("sqlite3", options.SQLiteDSN+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		slog.Error("SQLiteStore.New: failed to open database", "error", err, "dsn", options.SQLiteDSN)
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("SQLiteStore.New: failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		slog.Error("SQLiteStore.New: failed to apply migrations", "error", err)
		return nil, fmt.Errorf("failed to apply SQLite migrations: %w", err)
	}
	slog.Debug("SQLiteStore.New: store ready", "dsn", options.SQLiteDSN)
	return &SQLiteStore{db: db, minSimilarity: options.CacheMinSimilarity}, nil
}

func (s *SQLiteStore) GetCustomer(phone string) (*models.Customer, error) {
	row := s.db.QueryRow(
		`SELECT phone, name, stage, ai_enabled, budget, zone, metadata, created_at, updated_at
		 FROM customers WHERE phone = ?`, phone)

	var c models.Customer
	var stage, metaJSON string
	err := row.Scan(&c.Phone, &c.Name, &stage, &c.AIEnabled, &c.Budget, &c.Zone, &metaJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.GetCustomer: query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c.Stage = models.JourneyStage(stage)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			slog.Warn("SQLiteStore.GetCustomer: invalid metadata, ignoring", "error", err, "phone", phone)
			c.Metadata = nil
		}
	}
	return &c, nil
}

func (s *SQLiteStore) SaveCustomer(c models.Customer) error {
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode customer metadata: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO customers (phone, name, stage, ai_enabled, budget, zone, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(phone) DO UPDATE SET
		   name = excluded.name,
		   stage = excluded.stage,
		   ai_enabled = excluded.ai_enabled,
		   budget = excluded.budget,
		   zone = excluded.zone,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
		c.Phone, c.Name, c.Stage, c.AIEnabled, c.Budget, c.Zone, string(metaJSON), now, now)
	if err != nil {
		slog.Error("SQLiteStore.SaveCustomer: upsert failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to save customer: %w", err)
	}
	slog.Debug("SQLiteStore.SaveCustomer: saved", "phone", c.Phone, "stage", c.Stage)
	return nil
}

func (s *SQLiteStore) AppendMessages(phone string, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO messages (phone, role, content, delivery_id, media_url, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.Exec(phone, m.Role, m.Content, m.DeliveryID, m.MediaURL, ts); err != nil {
			slog.Error("SQLiteStore.AppendMessages: insert failed", "error", err, "phone", phone)
			return fmt.Errorf("failed to append message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	slog.Debug("SQLiteStore.AppendMessages: appended", "phone", phone, "count", len(msgs))
	return nil
}

func (s *SQLiteStore) GetMessages(phone string, limit int) ([]models.Message, error) {
	query := `SELECT role, content, delivery_id, media_url, sent_at FROM messages WHERE phone = ? ORDER BY id DESC`
	args := []any{phone}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore.GetMessages: query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.DeliveryID, &m.MediaURL, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.MessageRole(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	// Rows come back newest-first; callers expect chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) StaleCustomers(cutoff time.Time) ([]models.Customer, error) {
	rows, err := s.db.Query(
		`SELECT phone, name, stage, ai_enabled, budget, zone, metadata, created_at, updated_at
		 FROM customers
		 WHERE stage = ? AND ai_enabled = 1 AND updated_at < ?
		 ORDER BY updated_at`, string(models.StageActive), cutoff)
	if err != nil {
		slog.Error("SQLiteStore.StaleCustomers: query failed", "error", err)
		return nil, fmt.Errorf("failed to list stale customers: %w", err)
	}
	defer rows.Close()

	var stale []models.Customer
	for rows.Next() {
		var c models.Customer
		var stage, metaJSON string
		if err := rows.Scan(&c.Phone, &c.Name, &stage, &c.AIEnabled, &c.Budget, &c.Zone, &metaJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stale customer: %w", err)
		}
		c.Stage = models.JourneyStage(stage)
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
				c.Metadata = nil
			}
		}
		stale = append(stale, c)
	}
	return stale, rows.Err()
}

func (s *SQLiteStore) AddProperty(p models.Property, embedding []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO properties (id, title, description, zone, price, bedrooms, size_sqm, url, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title = excluded.title,
		   description = excluded.description,
		   zone = excluded.zone,
		   price = excluded.price,
		   bedrooms = excluded.bedrooms,
		   size_sqm = excluded.size_sqm,
		   url = excluded.url,
		   embedding = excluded.embedding`,
		p.ID, p.Title, p.Description, p.Zone, p.Price, p.Bedrooms, p.SizeSqm, p.URL, float32ToBytes(embedding))
	if err != nil {
		slog.Error("SQLiteStore.AddProperty: upsert failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to add property: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SearchProperties(query string, embedding []float32, filters models.PropertyFilters) ([]models.PropertyMatch, error) {
	sqlQuery := `SELECT id, title, description, zone, price, bedrooms, size_sqm, url, embedding FROM properties WHERE 1=1`
	var args []any
	if filters.MaxPrice > 0 {
		sqlQuery += ` AND price <= ?`
		args = append(args, filters.MaxPrice)
	}
	if filters.Zone != "" {
		sqlQuery += ` AND zone = ?`
		args = append(args, filters.Zone)
	}
	if filters.Bedrooms > 0 {
		sqlQuery += ` AND bedrooms >= ?`
		args = append(args, filters.Bedrooms)
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		slog.Error("SQLiteStore.SearchProperties: query failed", "error", err)
		return nil, fmt.Errorf("failed to search properties: %w", err)
	}
	defer rows.Close()

	var matches []models.PropertyMatch
	for rows.Next() {
		var p models.Property
		var blob []byte
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Zone, &p.Price, &p.Bedrooms, &p.SizeSqm, &p.URL, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		var sim float64
		if len(embedding) > 0 && len(blob) > 0 {
			sim = cosineSimilarity(embedding, bytesToFloat32(blob))
		}
		matches = append(matches, models.PropertyMatch{Property: p, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}
	sortMatches(matches)
	if len(matches) > DefaultSearchLimit {
		matches = matches[:DefaultSearchLimit]
	}
	return matches, nil
}

func (s *SQLiteStore) CachedResponse(embedding []float32) (string, error) {
	rows, err := s.db.Query(`SELECT embedding, response FROM semantic_cache`)
	if err != nil {
		slog.Error("SQLiteStore.CachedResponse: query failed", "error", err)
		return "", fmt.Errorf("failed to read semantic cache: %w", err)
	}
	defer rows.Close()

	best := ""
	bestScore := 0.0
	for rows.Next() {
		var blob []byte
		var response string
		if err := rows.Scan(&blob, &response); err != nil {
			return "", fmt.Errorf("failed to scan cache entry: %w", err)
		}
		sim := cosineSimilarity(embedding, bytesToFloat32(blob))
		if sim >= s.minSimilarity && sim > bestScore {
			best = response
			bestScore = sim
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to read cache entries: %w", err)
	}
	return best, nil
}

func (s *SQLiteStore) SaveCachedResponse(query string, embedding []float32, response string) error {
	_, err := s.db.Exec(
		`INSERT INTO semantic_cache (query, embedding, response) VALUES (?, ?, ?)`,
		query, float32ToBytes(embedding), response)
	if err != nil {
		slog.Error("SQLiteStore.SaveCachedResponse: insert failed", "error", err)
		return fmt.Errorf("failed to save cached response: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ComparablePrices(zone string) (models.MarketStats, error) {
	stats := models.MarketStats{Zone: zone}
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(AVG(price), 0),
		        COALESCE(AVG(CASE WHEN size_sqm > 0 THEN price / size_sqm END), 0)
		 FROM properties WHERE zone = ?`, zone)
	if err := row.Scan(&stats.SampleSize, &stats.AvgPrice, &stats.AvgPricePerSqm); err != nil {
		slog.Error("SQLiteStore.ComparablePrices: query failed", "error", err, "zone", zone)
		return models.MarketStats{}, fmt.Errorf("failed to compute comparable prices: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
