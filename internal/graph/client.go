// Package graph is the typed adapter over the labeled property graph. Every
// write runs inside a single managed transaction, is idempotent by UUID, and
// no Cypher leaks past this package.
package graph

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/journal-graph-kernel/internal/errkind"
)

// Config holds the graph store connection settings.
type Config struct {
	URI      string
	User     string
	Password string
	Database string

	// MaxRetries bounds transient-failure retries per operation.
	MaxRetries int
	// RetryCap bounds the backoff interval between retries.
	RetryCap time.Duration
}

// Client wraps the driver with retry policy and schema bootstrap.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	cfg      *Config
	logger   *zap.Logger
}

// NewClient connects to the graph store and verifies connectivity.
func NewClient(ctx context.Context, cfg *Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil || cfg.URI == "" {
		return nil, errkind.Newf(errkind.Config, "graph.new", "graph URI is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryCap == 0 {
		cfg.RetryCap = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, errkind.New(errkind.Config, "graph.new", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errkind.New(errkind.Config, "graph.new", err)
	}
	return &Client{
		driver:   driver,
		database: cfg.Database,
		cfg:      cfg,
		logger:   logger.Named("graph"),
	}, nil
}

// Close releases the underlying driver.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// schemaStatements bootstrap uniqueness constraints and the vector indexes.
// Best-effort per statement; restricted users may lack schema privileges.
var schemaStatements = []string{
	`CREATE CONSTRAINT person_uuid IF NOT EXISTS FOR (n:Person) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT place_uuid IF NOT EXISTS FOR (n:Place) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT concept_uuid IF NOT EXISTS FOR (n:Concept) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT content_uuid IF NOT EXISTS FOR (n:Content) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT consumable_uuid IF NOT EXISTS FOR (n:Consumable) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT event_uuid IF NOT EXISTS FOR (n:Event) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT project_uuid IF NOT EXISTS FOR (n:Project) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT emotion_uuid IF NOT EXISTS FOR (n:Emotion) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT feeling_emotion_uuid IF NOT EXISTS FOR (n:FeelingEmotion) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT feeling_concept_uuid IF NOT EXISTS FOR (n:FeelingConcept) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT relation_uuid IF NOT EXISTS FOR (n:Relation) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT journal_uuid IF NOT EXISTS FOR (n:JournalEntry) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT chunk_uuid IF NOT EXISTS FOR (n:Chunk) REQUIRE n.uuid IS UNIQUE`,
	`CREATE CONSTRAINT day_date IF NOT EXISTS FOR (n:Day) REQUIRE n.date IS UNIQUE`,
	`CREATE VECTOR INDEX concept_embeddings_index IF NOT EXISTS
	 FOR (n:Concept) ON (n.embedding)
	 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1536, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
	`CREATE VECTOR INDEX quote_embeddings_index IF NOT EXISTS
	 FOR (n:Quote) ON (n.embedding)
	 OPTIONS {indexConfig: {` + "`vector.dimensions`" + `: 1536, ` + "`vector.similarity_function`" + `: 'cosine'}}`,
}

// InitSchema applies constraints and vector indexes.
func (c *Client) InitSchema(ctx context.Context) error {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			c.logger.Warn("schema statement failed, continuing", zap.Error(err))
			continue
		}
		if _, err := res.Consume(ctx); err != nil {
			c.logger.Warn("schema statement failed, continuing", zap.Error(err))
		}
	}
	return nil
}

// write runs fn in one write transaction, retrying transient failures.
func (c *Client) write(ctx context.Context, op string, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	return c.run(ctx, op, neo4j.AccessModeWrite, fn)
}

// read runs fn in one read transaction, retrying transient failures.
func (c *Client) read(ctx context.Context, op string, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	return c.run(ctx, op, neo4j.AccessModeRead, fn)
}

func (c *Client) run(ctx context.Context, op string, mode neo4j.AccessMode, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = c.cfg.RetryCap
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)

	var out any
	err := backoff.Retry(func() error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{
			AccessMode:   mode,
			DatabaseName: c.database,
		})
		defer session.Close(ctx)

		var err error
		if mode == neo4j.AccessModeWrite {
			out, err = session.ExecuteWrite(ctx, fn)
		} else {
			out, err = session.ExecuteRead(ctx, fn)
		}
		if err == nil {
			return nil
		}
		kind := errkind.KindOf(err)
		if !kind.Retryable() {
			return backoff.Permanent(err)
		}
		c.logger.Warn("graph operation retrying",
			zap.String("op", op), zap.Error(err))
		return err
	}, policy)
	if err != nil {
		kind := errkind.KindOf(err)
		return nil, errkind.New(kind, op, err)
	}
	return out, nil
}
