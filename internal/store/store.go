// Package store provides storage backends for the sales agent.
//
// It holds the customer conversation records, the property catalog with
// embedding vectors, and the semantic response cache. SQLite and
// PostgreSQL backends are provided, plus an in-memory store for tests.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/alberto591/ai-automation-agency-sub000/internal/models"
)

// Store is the knowledge-store contract consumed by the pipeline.
type Store interface {
	// GetCustomer retrieves a customer record by phone. Returns nil
	// (and no error) when the record does not exist.
	GetCustomer(phone string) (*models.Customer, error)

	// SaveCustomer upserts a customer record keyed by phone.
	SaveCustomer(c models.Customer) error

	// AppendMessages appends messages to a customer's history. History
	// is insert-only; existing entries are never updated.
	AppendMessages(phone string, msgs []models.Message) error

	// GetMessages returns the most recent limit messages in
	// chronological order. limit <= 0 returns the full history.
	GetMessages(phone string, limit int) ([]models.Message, error)

	// StaleCustomers returns active, AI-enabled customers whose last
	// update is older than cutoff. Feeds the follow-up job.
	StaleCustomers(cutoff time.Time) ([]models.Customer, error)

	// AddProperty inserts a catalog property with its embedding.
	AddProperty(p models.Property, embedding []float32) error

	// SearchProperties ranks catalog properties against the query
	// embedding (cosine similarity) after applying filters.
	SearchProperties(query string, embedding []float32, filters models.PropertyFilters) ([]models.PropertyMatch, error)

	// CachedResponse returns the cached reply whose stored embedding is
	// closest to the given one, or "" when nothing is close enough.
	CachedResponse(embedding []float32) (string, error)

	// SaveCachedResponse stores a (query, embedding, reply) triple.
	SaveCachedResponse(query string, embedding []float32, response string) error

	// ComparablePrices summarizes catalog pricing for a zone. An empty
	// MarketStats (SampleSize 0) means no comparable data, not an error.
	ComparablePrices(zone string) (models.MarketStats, error)

	// Close releases underlying resources.
	Close() error
}

// DefaultCacheMinSimilarity is the embedding proximity required for a
// semantic cache hit.
const DefaultCacheMinSimilarity = 0.92

// DefaultSearchLimit bounds the candidate set returned by a property search.
const DefaultSearchLimit = 10

type cacheEntry struct {
	query     string
	embedding []float32
	response  string
	createdAt time.Time
}

type propertyEntry struct {
	property  models.Property
	embedding []float32
}

// InMemoryStore is a mutex-guarded Store used in tests and as a
// fallback when no DSN is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	customers     map[string]models.Customer
	messages      map[string][]models.Message
	properties    []propertyEntry
	cache         []cacheEntry
	minSimilarity float64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		customers:     make(map[string]models.Customer),
		messages:      make(map[string][]models.Message),
		minSimilarity: DefaultCacheMinSimilarity,
	}
}

func (s *InMemoryStore) GetCustomer(phone string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[phone]
	if !ok {
		return nil, nil
	}
	cp := c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp, nil
}

func (s *InMemoryStore) SaveCustomer(c models.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.Phone] = c
	return nil
}

func (s *InMemoryStore) AppendMessages(phone string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[phone] = append(s.messages[phone], msgs...)
	return nil
}

func (s *InMemoryStore) GetMessages(phone string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[phone]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	out := make([]models.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *InMemoryStore) StaleCustomers(cutoff time.Time) ([]models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []models.Customer
	for _, c := range s.customers {
		if c.Stage != models.StageActive || !c.AIEnabled {
			continue
		}
		if c.UpdatedAt.IsZero() || !c.UpdatedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, c)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	return stale, nil
}

func (s *InMemoryStore) AddProperty(p models.Property, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.properties = append(s.properties, propertyEntry{property: p, embedding: embedding})
	return nil
}

func (s *InMemoryStore) SearchProperties(query string, embedding []float32, filters models.PropertyFilters) ([]models.PropertyMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.PropertyMatch
	for _, entry := range s.properties {
		if !matchesFilters(entry.property, filters) {
			continue
		}
		var sim float64
		if len(embedding) > 0 && len(entry.embedding) > 0 {
			sim = cosineSimilarity(embedding, entry.embedding)
		}
		matches = append(matches, models.PropertyMatch{Property: entry.property, Similarity: sim})
	}
	sortMatches(matches)
	if len(matches) > DefaultSearchLimit {
		matches = matches[:DefaultSearchLimit]
	}
	return matches, nil
}

func (s *InMemoryStore) CachedResponse(embedding []float32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := ""
	bestScore := 0.0
	for _, entry := range s.cache {
		sim := cosineSimilarity(embedding, entry.embedding)
		if sim >= s.minSimilarity && sim > bestScore {
			best = entry.response
			bestScore = sim
		}
	}
	return best, nil
}

func (s *InMemoryStore) SaveCachedResponse(query string, embedding []float32, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = append(s.cache, cacheEntry{
		query:     query,
		embedding: embedding,
		response:  response,
		createdAt: time.Now(),
	})
	return nil
}

func (s *InMemoryStore) ComparablePrices(zone string) (models.MarketStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.MarketStats{Zone: zone}
	var totalPrice, totalPerSqm float64
	var perSqmCount int
	for _, entry := range s.properties {
		if entry.property.Zone != zone {
			continue
		}
		stats.SampleSize++
		totalPrice += entry.property.Price
		if entry.property.SizeSqm > 0 {
			totalPerSqm += entry.property.Price / entry.property.SizeSqm
			perSqmCount++
		}
	}
	if stats.SampleSize > 0 {
		stats.AvgPrice = totalPrice / float64(stats.SampleSize)
	}
	if perSqmCount > 0 {
		stats.AvgPricePerSqm = totalPerSqm / float64(perSqmCount)
	}
	return stats, nil
}

func (s *InMemoryStore) Close() error { return nil }

// CacheSize returns the number of semantic cache entries (for tests).
func (s *InMemoryStore) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// matchesFilters applies price, zone, and bedroom filters to a property.
func matchesFilters(p models.Property, f models.PropertyFilters) bool {
	if f.MaxPrice > 0 && p.Price > f.MaxPrice {
		return false
	}
	if f.Zone != "" && p.Zone != f.Zone {
		return false
	}
	if f.Bedrooms > 0 && p.Bedrooms < f.Bedrooms {
		return false
	}
	return true
}

// sortMatches orders matches by similarity descending.
func sortMatches(matches []models.PropertyMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
}
