// Package config holds the file-backed configuration for the ingest
// commands. Defaults carry the realtor corpus knowledge (noise keys,
// collapse rules, the minimal column list); a config file overlays the
// sections it names and inherits the rest.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"jsonsql/internal/normalize"
	"jsonsql/internal/sqlgen"
	"jsonsql/internal/storage"
	"jsonsql/internal/tables"
)

// Config is the full configuration surface of cmd/jsonsql.
type Config struct {
	Normalize NormalizeConfig `json:"normalize"`
	Schema    SchemaConfig    `json:"schema"`
	Minimal   MinimalConfig   `json:"minimal"`
	Storage   StorageConfig   `json:"storage"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// NormalizeConfig shapes documents before profiling.
type NormalizeConfig struct {
	// NoiseKeys are removed wherever they appear, at any depth.
	NoiseKeys []string `json:"noise_keys"`

	// CollapseLimit is the longest scalar list collapsed into one
	// delimited string. <= 0 means the built-in default.
	CollapseLimit int `json:"collapse_limit"`

	// Delimiter joins collapsed list elements. Empty means ",".
	Delimiter string `json:"delimiter"`

	// CollapsePaths force-collapse specific lists regardless of length.
	CollapsePaths []normalize.CollapseRule `json:"collapse_paths"`

	// WrapPaths rewrite object values into single-element lists.
	WrapPaths []string `json:"wrap_paths"`
}

// SchemaConfig shapes the inferred table plan.
type SchemaConfig struct {
	// RootTable names the table the document root maps to.
	RootTable string `json:"root_table"`

	// LinkMode is "embedded" (id lists on the parent row) or "fk"
	// (REFERENCES column on each child). Empty means "embedded".
	LinkMode string `json:"link_mode"`

	// InferTypes widens column types from observed values instead of
	// declaring everything TEXT.
	InferTypes bool `json:"infer_types"`

	// TimestampColumn, when set, is appended to the root table and filled
	// with each raw document's capture time.
	TimestampColumn string `json:"timestamp_column"`
}

// MinimalConfig applies only when a run asks for minimal mode.
type MinimalConfig struct {
	// Columns kept on the root table (its primary key and the timestamp
	// column survive regardless).
	Columns []string `json:"columns"`

	// Tables lists child tables that still emit DDL and rows. Empty keeps
	// only the root.
	Tables []string `json:"tables"`
}

// StorageConfig selects the output backend.
type StorageConfig struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// RuntimeConfig controls pipeline execution behavior.
type RuntimeConfig struct {
	// Workers is the per-phase worker count. 0 means one per CPU.
	Workers int `json:"workers"`

	// BatchSize caps how many rows ride in one insert call.
	BatchSize int `json:"batch_size"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is "none" (or empty) or "datadog".
	Backend string `json:"backend"`

	// Tags are extra backend tags as CSV, e.g. "env:prod,team:data".
	Tags string `json:"tags"`
}

// Default returns the configuration the commands start from. The values
// encode what several seasons of realtor snapshots taught: which keys carry
// no data, which lists are only ever short enumerations, and which columns a
// spreadsheet-bound export actually needs.
func Default() Config {
	return Config{
		Normalize: NormalizeConfig{
			NoiseKeys:     []string{"Distance", "DisseminationArea", "OwnershipTypeGroupIds"},
			CollapseLimit: 3,
			Delimiter:     ",",
			CollapsePaths: []normalize.CollapseRule{
				{Path: "$.Property.Parking", Field: "Name"},
				{Path: "$.Individual.[].Websites", Field: "Website"},
				{Path: "$.Individual.[].Emails", Field: "ContactId"},
				{Path: "$.Individual.[].Organization.[].Websites", Field: "Website"},
				{Path: "$.Individual.[].Organization.[].Emails", Field: "ContactId"},
			},
			WrapPaths: []string{"$.Individual.[].Organization"},
		},
		Schema: SchemaConfig{
			RootTable:       "Listings",
			LinkMode:        string(tables.LinkEmbedded),
			TimestampColumn: "ComputedLastUpdated",
		},
		Minimal: MinimalConfig{
			Columns: []string{
				"AlternateURL_DetailsLink",
				"AlternateURL_VideoLink",
				"Building_BathroomTotal",
				"Building_Bedrooms",
				"Building_SizeExterior",
				"Building_SizeInterior",
				"Building_StoriesTotal",
				"Building_Type",
				"Building_UnitTotal",
				"Id",
				"InsertedDateUTC",
				"Land_SizeFrontage",
				"Land_SizeTotal",
				"MlsNumber",
				"PostalCode",
				"PriceChangeDateUTC",
				"Property_Address_AddressText",
				"Property_Address_Latitude",
				"Property_Address_Longitude",
				"Property_AmmenitiesNearBy",
				"Property_OwnershipType",
				"Property_Parking",
				"Property_ParkingSpaceTotal",
				"Property_Photo_HighResPath",
				"Property_PriceUnformattedValue",
				"Property_ZoningType",
				"Property_Type",
				"PublicRemarks",
				"RelativeDetailsURL",
			},
		},
		Storage: StorageConfig{Kind: "sqlite"},
		Runtime: RuntimeConfig{BatchSize: 500},
	}
}

// Load overlays the JSON file at path onto Default(). Sections absent from
// the file keep their defaults; sections present replace them wholesale.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Severity classifies a validation issue.
type Severity string

const (
	// SeverityError aborts the run before any processing starts.
	SeverityError Severity = "error"

	// SeverityWarn is logged and the run continues.
	SeverityWarn Severity = "warn"
)

// Issue is one validation finding.
type Issue struct {
	Severity Severity
	Field    string
	Message  string
}

// Validate checks cross-field consistency. It returns every finding rather
// than stopping at the first, so a bad config file is fixed in one pass.
func Validate(c Config) []Issue {
	var issues []Issue

	addErr := func(field, msg string) {
		issues = append(issues, Issue{Severity: SeverityError, Field: field, Message: msg})
	}
	addWarn := func(field, msg string) {
		issues = append(issues, Issue{Severity: SeverityWarn, Field: field, Message: msg})
	}

	if strings.TrimSpace(c.Schema.RootTable) == "" {
		addErr("schema.root_table", "must not be empty")
	}
	switch c.Schema.LinkMode {
	case "", string(tables.LinkEmbedded), string(tables.LinkForeignKey):
	default:
		addErr("schema.link_mode", fmt.Sprintf("unknown mode %q (want %q or %q)",
			c.Schema.LinkMode, tables.LinkEmbedded, tables.LinkForeignKey))
	}

	if c.Normalize.CollapseLimit < 0 {
		addErr("normalize.collapse_limit", "must not be negative")
	}
	for i, r := range c.Normalize.CollapsePaths {
		if !strings.HasPrefix(r.Path, "$") {
			addErr(fmt.Sprintf("normalize.collapse_paths[%d]", i),
				fmt.Sprintf("path %q must start at the document root ($)", r.Path))
		}
	}
	for i, p := range c.Normalize.WrapPaths {
		if !strings.HasPrefix(p, "$") {
			addErr(fmt.Sprintf("normalize.wrap_paths[%d]", i),
				fmt.Sprintf("path %q must start at the document root ($)", p))
		}
	}

	if strings.TrimSpace(c.Storage.Kind) == "" {
		addErr("storage.kind", "must not be empty")
	}

	if c.Runtime.Workers < 0 {
		addErr("runtime.workers", "must not be negative")
	}
	if c.Runtime.BatchSize <= 0 {
		addErr("runtime.batch_size", "must be positive")
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		addWarn("metrics.backend", fmt.Sprintf("unknown backend %q; metrics will be disabled", c.Metrics.Backend))
	}

	return issues
}

// ToNormalizeOptions maps the normalize section onto the normalizer.
func (c Config) ToNormalizeOptions() normalize.Options {
	return normalize.Options{
		NoiseKeys:     c.Normalize.NoiseKeys,
		CollapseLimit: c.Normalize.CollapseLimit,
		Delimiter:     c.Normalize.Delimiter,
		CollapseRules: c.Normalize.CollapsePaths,
		WrapPaths:     c.Normalize.WrapPaths,
		RootName:      c.Schema.RootTable,
	}
}

// ToTableOptions maps the schema section onto the planner. The minimal
// section applies only when the run asked for minimal mode.
func (c Config) ToTableOptions(minimal bool) tables.Options {
	o := tables.Options{
		RootName:        c.Schema.RootTable,
		Link:            tables.LinkMode(c.Schema.LinkMode),
		TimestampColumn: c.Schema.TimestampColumn,
	}
	if minimal {
		o.Columns = c.Minimal.Columns
		o.Tables = c.Minimal.Tables
	}
	return o
}

// ToSQLOptions maps the schema section onto SQL generation.
func (c Config) ToSQLOptions() sqlgen.Options {
	return sqlgen.Options{InferTypes: c.Schema.InferTypes}
}

// ToStorageConfig maps the storage section onto the backend registry.
func (c Config) ToStorageConfig() storage.Config {
	return storage.Config{Kind: c.Storage.Kind, DSN: c.Storage.DSN}
}
