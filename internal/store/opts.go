package store

import "strings"

// Opts holds configuration options for store backends.
type Opts struct {
	// SQLiteDSN is the SQLite database path or DSN.
	SQLiteDSN string
	// PostgresDSN is the PostgreSQL connection string.
	PostgresDSN string
	// CacheMinSimilarity overrides the semantic cache hit threshold.
	CacheMinSimilarity float64
}

// Option configures store options.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite DSN for the store.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL DSN for the store.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// WithCacheMinSimilarity sets the minimum cosine similarity for a
// semantic cache hit.
func WithCacheMinSimilarity(threshold float64) Option {
	return func(o *Opts) { o.CacheMinSimilarity = threshold }
}

// DetectDSNType inspects a DSN and reports "postgres" or "sqlite3".
// Anything that does not look like a PostgreSQL connection string is
// treated as a SQLite path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}
