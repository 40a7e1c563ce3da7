package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/etlcore/pkg/etl/support/util/exception"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig
	EnvFilePath    string `name:"envFilePath" optional:"true"`
}

// NewConfigProvider is an Fx provider that loads, validates and provides *Config.
// It also applies the logging section to the global logger.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	logger.SetLogLevel(cfg.ETL.System.Logging.Level)
	logger.SetFormat(cfg.ETL.System.Logging.Format)
	logger.Infof("Log level set to: %s", cfg.ETL.System.Logging.Level)
	return cfg, nil
}

// LoadConfig loads configuration in four layers: defaults from NewConfig, the
// YAML document (after ${VAR} expansion), then ETL_<SECTION>_<FIELD> environment
// overrides. The result is validated before it is returned.
func LoadConfig(envFilePath string, embedded EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()
	expanded := os.ExpandEnv(string(embedded))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "failed to unmarshal config", err)
	}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "failed to load config from environment variables", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads path and loads it with LoadConfig.
func LoadConfigFile(envFilePath, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, exception.New(exception.ConfigError, moduleName, "failed to read "+path, err)
	}
	return LoadConfig(envFilePath, data)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	e := c.ETL

	switch e.Database.Type {
	case "memory", "sqlite", "postgres", "mysql":
	default:
		result = multierror.Append(result, fmt.Errorf("database.type %q is not one of memory, sqlite, postgres, mysql", e.Database.Type))
	}
	if e.Database.MigrationMode != "migrate" && e.Database.MigrationMode != "gorm" {
		result = multierror.Append(result, fmt.Errorf("database.migrationMode %q is not one of migrate, gorm", e.Database.MigrationMode))
	}

	if len(e.Scheduler.Queues) == 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.queues must define at least one queue"))
	}
	seen := make(map[string]bool)
	for _, q := range e.Scheduler.Queues {
		if q.Name == "" {
			result = multierror.Append(result, fmt.Errorf("scheduler.queues: queue without a name"))
			continue
		}
		if seen[q.Name] {
			result = multierror.Append(result, fmt.Errorf("scheduler.queues: duplicate queue %q", q.Name))
		}
		seen[q.Name] = true
		if q.Concurrency < 1 {
			result = multierror.Append(result, fmt.Errorf("scheduler.queues[%s].concurrency must be >= 1", q.Name))
		}
		if q.SoftTimeLimit > 0 && q.HardTimeLimit > 0 && q.SoftTimeLimit > q.HardTimeLimit {
			result = multierror.Append(result, fmt.Errorf("scheduler.queues[%s]: softTimeLimit exceeds hardTimeLimit", q.Name))
		}
	}
	if !seen[e.Scheduler.DefaultQueue] {
		result = multierror.Append(result, fmt.Errorf("scheduler.defaultQueue %q is not a configured queue", e.Scheduler.DefaultQueue))
	}
	if e.Scheduler.RecoverStaleAfter < 0 {
		result = multierror.Append(result, fmt.Errorf("scheduler.recoverStaleAfter must be >= 0"))
	}
	for jobType, q := range e.Scheduler.Routes {
		if !seen[q] {
			result = multierror.Append(result, fmt.Errorf("scheduler.routes[%s] names unknown queue %q", jobType, q))
		}
	}

	if e.Engine.BatchSize < 1 {
		result = multierror.Append(result, fmt.Errorf("engine.batchSize must be >= 1"))
	}
	if e.Engine.TransformWorkers < 1 {
		result = multierror.Append(result, fmt.Errorf("engine.transformWorkers must be >= 1"))
	}
	if e.Engine.QualityAlertThreshold < 0 || e.Engine.QualityAlertThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("engine.qualityAlertThreshold must be within [0,1]"))
	}
	if e.Matcher.DuplicateThreshold <= 0 || e.Matcher.DuplicateThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("matcher.duplicateThreshold must be within (0,1]"))
	}
	if e.Matcher.BlockingPrefixLength < 1 {
		result = multierror.Append(result, fmt.Errorf("matcher.blockingPrefixLength must be >= 1"))
	}

	switch e.Metrics.Backend {
	case "prometheus", "otlp", "none":
	default:
		result = multierror.Append(result, fmt.Errorf("metrics.backend %q is not one of prometheus, otlp, none", e.Metrics.Backend))
	}
	switch e.Tracing.Exporter {
	case "otlp-grpc", "otlp-http", "none":
	default:
		result = multierror.Append(result, fmt.Errorf("tracing.exporter %q is not one of otlp-grpc, otlp-http, none", e.Tracing.Exporter))
	}

	for name, s := range e.Storage {
		switch s.Type {
		case "local":
		case "gcs":
			if s.Bucket == "" {
				result = multierror.Append(result, fmt.Errorf("storage[%s]: gcs requires a bucket", name))
			}
		default:
			result = multierror.Append(result, fmt.Errorf("storage[%s].type %q is not one of local, gcs", name, s.Type))
		}
	}
	if e.Export.Storage != "" {
		if _, ok := e.Storage[e.Export.Storage]; !ok {
			result = multierror.Append(result, fmt.Errorf("export.storage names unknown storage %q", e.Export.Storage))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return exception.NewFatal(exception.ConfigError, moduleName, "invalid configuration", err)
	}
	return nil
}

// loadStructFromEnv overrides fields from environment variables named after the
// upper-cased yaml tag path, e.g. ETL_ENGINE_BATCHSIZE.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads map[string]struct fields, inferring the map key
// from the variable name: ETL_STORAGE_RAW_BUCKET sets Bucket of key "raw".
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(env, prefix), "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := parts[0]
		sep := strings.Index(keyAndField, "_")
		if sep <= 0 {
			continue
		}
		mapKey := strings.ToLower(keyAndField[:sep])
		fieldName := keyAndField[sep+1:]

		elem := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(reflect.ValueOf(mapKey)); existing.IsValid() {
			elem.Set(existing)
		}
		for i := 0; i < elemType.NumField(); i++ {
			tag := strings.Split(elemType.Field(i).Tag.Get("yaml"), ",")[0]
			if strings.EqualFold(tag, fieldName) {
				if err := setField(elem.Field(i), parts[1]); err != nil {
					return fmt.Errorf("failed to set %s%s: %w", prefix, keyAndField, err)
				}
			}
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), elem)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		items := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), 0, len(items))
		for _, it := range items {
			slice = reflect.Append(slice, reflect.ValueOf(strings.TrimSpace(it)))
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
