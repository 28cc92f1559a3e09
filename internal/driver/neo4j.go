package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"

	cfg "github.com/agenthands/mnemo/internal/config"
	"github.com/agenthands/mnemo/pkg/logger"
)

type Neo4jDriver struct {
	Driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

func NewNeo4jDriver(c cfg.Neo4jConfig) (*Neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(
		c.URI,
		neo4j.BasicAuth(c.User, c.Password, ""),
		func(conf *config.Config) {
			conf.MaxConnectionPoolSize = c.MaxPoolSize
			conf.ConnectionAcquisitionTimeout = time.Duration(c.AcquisitionTimeoutSecs) * time.Second
			conf.MaxConnectionLifetime = time.Duration(c.ConnectionLifetimeMins) * time.Minute
		},
	)
	if err != nil {
		return nil, err
	}

	return &Neo4jDriver{
		Driver:   driver,
		database: c.Database,
		logger:   logger.Get(),
	}, nil
}

func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *Neo4jDriver) VerifyConnectivity(ctx context.Context) error {
	return d.Driver.VerifyConnectivity(ctx)
}

func (d *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(d.database))
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

func (d *Neo4jDriver) BuildIndices(ctx context.Context) error {
	queries := []string{
		"CREATE INDEX node_name IF NOT EXISTS FOR (n:Entity) ON (n.name);",
		"CREATE INDEX character_name IF NOT EXISTS FOR (n:Character) ON (n.name);",
		"CREATE INDEX location_name IF NOT EXISTS FOR (n:Location) ON (n.name);",
		"CREATE INDEX time_name IF NOT EXISTS FOR (n:Time) ON (n.name);",
		"CREATE INDEX time_text IF NOT EXISTS FOR (n:Time) ON (n.time);",
	}

	for _, q := range queries {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			// Index may already exist on older server versions without IF NOT EXISTS.
			d.logger.Warn("failed to create index", zap.String("query", q), zap.Error(err))
		}
	}

	return nil
}
