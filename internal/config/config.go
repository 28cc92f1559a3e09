package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type Neo4jConfig struct {
	URI                    string `toml:"uri"`
	User                   string `toml:"user"`
	Password               string `toml:"password"`
	Database               string `toml:"database"`
	MaxPoolSize            int    `toml:"max_pool_size"`
	AcquisitionTimeoutSecs int    `toml:"acquisition_timeout_secs"`
	ConnectionLifetimeMins int    `toml:"connection_lifetime_mins"`
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type GraphConfig struct {
	DefaultContext      string  `toml:"default_context"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	ExpansionRounds     int     `toml:"expansion_rounds"`
	MaxResults          int     `toml:"max_results"`
}

type SnapshotConfig struct {
	Path string `toml:"path"`
}

type ConcurrencyConfig struct {
	BulkIngest int `toml:"bulk_ingest"`
}

type Config struct {
	Neo4j       Neo4jConfig       `toml:"neo4j"`
	LLM         LLMConfig         `toml:"llm"`
	Graph       GraphConfig       `toml:"graph"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg, nil
}

// Default returns a config usable without a config file on disk.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Neo4j.URI == "" {
		c.Neo4j.URI = "bolt://localhost:7687"
	}
	if c.Neo4j.MaxPoolSize == 0 {
		c.Neo4j.MaxPoolSize = 50
	}
	if c.Neo4j.AcquisitionTimeoutSecs == 0 {
		c.Neo4j.AcquisitionTimeoutSecs = 30
	}
	if c.Neo4j.ConnectionLifetimeMins == 0 {
		c.Neo4j.ConnectionLifetimeMins = 30
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.Graph.DefaultContext == "" {
		c.Graph.DefaultContext = "reality"
	}
	if c.Graph.SimilarityThreshold == 0 {
		c.Graph.SimilarityThreshold = 0.6
	}
	if c.Graph.ExpansionRounds == 0 {
		c.Graph.ExpansionRounds = 3
	}
	if c.Graph.MaxResults == 0 {
		c.Graph.MaxResults = 20
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = "data/memory_graph.json"
	}
	if c.Concurrency.BulkIngest == 0 {
		c.Concurrency.BulkIngest = 4
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		c.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		c.Neo4j.User = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Neo4j.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		c.Neo4j.Database = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		c.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		c.Snapshot.Path = v
	}
	if v := os.Getenv("BULK_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Concurrency.BulkIngest = n
		}
	}
}
