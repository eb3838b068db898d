package ledgersync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// configSchema validates the on-disk configuration before it is decoded.
// pageSize is capped at the feed's hard page limit.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["feedBaseUrl", "ingestQuery", "completionQuery", "ledgerDsn"],
  "additionalProperties": false,
  "properties": {
    "feedBaseUrl": {"type": "string", "minLength": 1},
    "ingestQuery": {"type": "string", "minLength": 1},
    "completionQuery": {"type": "string", "minLength": 1},
    "ledgerDsn": {"type": "string", "minLength": 1},
    "ledgerHasHeader": {"type": "boolean"},
    "pageSize": {"type": "integer", "minimum": 1, "maximum": 100},
    "chunkSize": {"type": "integer", "minimum": 1},
    "maxEvents": {"type": "integer", "minimum": 1},
    "completionMarker": {"type": "string", "minLength": 1}
  }
}`

type Config struct {
	FeedBaseURL     string `json:"feedBaseUrl"`
	IngestQuery     string `json:"ingestQuery"`
	CompletionQuery string `json:"completionQuery"`
	LedgerDSN       string `json:"ledgerDsn"`
	LedgerHasHeader bool   `json:"ledgerHasHeader"`
	PageSize        int    `json:"pageSize"`
	ChunkSize       int    `json:"chunkSize"`
	MaxEvents       int    `json:"maxEvents"`
	Marker          string `json:"completionMarker"`
}

// LoadConfig reads, validates and decodes a JSON configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := ValidateConfig(data); err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ValidateConfig checks raw configuration bytes against the schema.
func ValidateConfig(data []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(configSchema))
	if err != nil {
		return fmt.Errorf("parse config schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ledgersync-config.json", schemaDoc); err != nil {
		return fmt.Errorf("register config schema: %w", err)
	}
	schema, err := compiler.Compile("ledgersync-config.json")
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = defaultMaxEvents
	}
	if c.Marker == "" {
		c.Marker = DefaultCompletionMarker
	}
}
