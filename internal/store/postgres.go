package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Connection pool settings for PostgreSQL.
const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db            *sql.DB
	minSimilarity float64
}

// NewPostgresStore connects to PostgreSQL and applies the schema
// migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var options Opts
	for _, opt := range opts {
		opt(&options)
	}
	if options.PostgresDSN == "" {
		return nil, errors.New("PostgreSQL DSN is required")
	}
	if options.CacheMinSimilarity == 0 {
		options.CacheMinSimilarity = DefaultCacheMinSimilarity
	}

	db, err := sql.Open("postgres", options.PostgresDSN)
	if err != nil {
		slog.Error("PostgresStore.New: failed to open database", "error", err)
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		slog.Error("PostgresStore.New: failed to ping database", "error", err)
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		slog.Error("PostgresStore.New: failed to apply migrations", "error", err)
		return nil, fmt.Errorf("failed to apply PostgreSQL migrations: %w", err)
	}
	slog.Debug("PostgresStore.New: store ready")
	return &PostgresStore{db: db, minSimilarity: options.CacheMinSimilarity}, nil
}

func (s *PostgresStore) GetCustomer(phone string) (*models.Customer, error) {
	row := s.db.QueryRow(
		`SELECT phone, name, stage, ai_enabled, budget, zone, metadata, created_at, updated_at
		 FROM customers WHERE phone = $1`, phone)

	var c models.Customer
	var stage, metaJSON string
	err := row.Scan(&c.Phone, &c.Name, &stage, &c.AIEnabled, &c.Budget, &c.Zone, &metaJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.GetCustomer: query failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	c.Stage = models.JourneyStage(stage)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.Metadata); err != nil {
			slog.Warn("PostgresStore.GetCustomer: invalid metadata, ignoring", "error", err, "phone", phone)
			c.Metadata = nil
		}
	}
	return &c, nil
}

func (s *PostgresStore) SaveCustomer(c models.Customer) error {
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode customer metadata: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO customers (phone, name, stage, ai_enabled, budget, zone, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (phone) DO UPDATE SET
		   name = EXCLUDED.name,
		   stage = EXCLUDED.stage,
		   ai_enabled = EXCLUDED.ai_enabled,
		   budget = EXCLUDED.budget,
		   zone = EXCLUDED.zone,
		   metadata = EXCLUDED.metadata,
		   updated_at = EXCLUDED.updated_at`,
		c.Phone, c.Name, c.Stage, c.AIEnabled, c.Budget, c.Zone, string(metaJSON), now, now)
	if err != nil {
		slog.Error("PostgresStore.SaveCustomer: upsert failed", "error", err, "phone", c.Phone)
		return fmt.Errorf("failed to save customer: %w", err)
	}
	slog.Debug("PostgresStore.SaveCustomer: saved", "phone", c.Phone, "stage", c.Stage)
	return nil
}

func (s *PostgresStore) AppendMessages(phone string, msgs []models.Message) error {
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
		 VALUES ($1, $2, $3, $4, $5, $6)`)
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
			slog.Error("PostgresStore.AppendMessages: insert failed", "error", err, "phone", phone)
			return fmt.Errorf("failed to append message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	slog.Debug("PostgresStore.AppendMessages: appended", "phone", phone, "count", len(msgs))
	return nil
}

func (s *PostgresStore) GetMessages(phone string, limit int) ([]models.Message, error) {
	query := `SELECT role, content, delivery_id, media_url, sent_at FROM messages WHERE phone = $1 ORDER BY id DESC`
	args := []any{phone}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore.GetMessages: query failed", "error", err, "phone", phone)
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
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStore) StaleCustomers(cutoff time.Time) ([]models.Customer, error) {
	rows, err := s.db.Query(
		`SELECT phone, name, stage, ai_enabled, budget, zone, metadata, created_at, updated_at
		 FROM customers
		 WHERE stage = $1 AND ai_enabled = TRUE AND updated_at < $2
		 ORDER BY updated_at`, string(models.StageActive), cutoff)
	if err != nil {
		slog.Error("PostgresStore.StaleCustomers: query failed", "error", err)
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

func (s *PostgresStore) AddProperty(p models.Property, embedding []float32) error {
	_, err := s.db.Exec(
		`INSERT INTO properties (id, title, description, zone, price, bedrooms, size_sqm, url, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   description = EXCLUDED.description,
		   zone = EXCLUDED.zone,
		   price = EXCLUDED.price,
		   bedrooms = EXCLUDED.bedrooms,
		   size_sqm = EXCLUDED.size_sqm,
		   url = EXCLUDED.url,
		   embedding = EXCLUDED.embedding`,
		p.ID, p.Title, p.Description, p.Zone, p.Price, p.Bedrooms, p.SizeSqm, p.URL, float32ToBytes(embedding))
	if err != nil {
		slog.Error("PostgresStore.AddProperty: upsert failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to add property: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchProperties(query string, embedding []float32, filters models.PropertyFilters) ([]models.PropertyMatch, error) {
	sqlQuery := `SELECT id, title, description, zone, price, bedrooms, size_sqm, url, embedding FROM properties WHERE 1=1`
	var args []any
	if filters.MaxPrice > 0 {
		args = append(args, filters.MaxPrice)
		sqlQuery += fmt.Sprintf(` AND price <= $%d`, len(args))
	}
	if filters.Zone != "" {
		args = append(args, filters.Zone)
		sqlQuery += fmt.Sprintf(` AND zone = $%d`, len(args))
	}
	if filters.Bedrooms > 0 {
		args = append(args, filters.Bedrooms)
		sqlQuery += fmt.Sprintf(` AND bedrooms >= $%d`, len(args))
	}

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		slog.Error("PostgresStore.SearchProperties: query failed", "error", err)
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

func (s *PostgresStore) CachedResponse(embedding []float32) (string, error) {
	rows, err := s.db.Query(`SELECT embedding, response FROM semantic_cache`)
	if err != nil {
		slog.Error("PostgresStore.CachedResponse: query failed", "error", err)
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

func (s *PostgresStore) SaveCachedResponse(query string, embedding []float32, response string) error {
	_, err := s.db.Exec(
		`INSERT INTO semantic_cache (query, embedding, response) VALUES ($1, $2, $3)`,
		query, float32ToBytes(embedding), response)
	if err != nil {
		slog.Error("PostgresStore.SaveCachedResponse: insert failed", "error", err)
		return fmt.Errorf("failed to save cached response: %w", err)
	}
	return nil
}

func (s *PostgresStore) ComparablePrices(zone string) (models.MarketStats, error) {
	stats := models.MarketStats{Zone: zone}
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(AVG(price), 0),
		        COALESCE(AVG(CASE WHEN size_sqm > 0 THEN price / size_sqm END), 0)
		 FROM properties WHERE zone = $1`, zone)
	if err := row.Scan(&stats.SampleSize, &stats.AvgPrice, &stats.AvgPricePerSqm); err != nil {
		slog.Error("PostgresStore.ComparablePrices: query failed", "error", err, "zone", zone)
		return models.MarketStats{}, fmt.Errorf("failed to compute comparable prices: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
