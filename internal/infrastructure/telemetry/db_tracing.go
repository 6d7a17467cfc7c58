package telemetry

import (
	"errors"
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig controls the gorm tracing plugin
type DBTracingConfig struct {
	Enabled bool
	// DBSystem is reported as db.system. Default: "postgresql"
	DBSystem string
	// WithQueryVariables includes bound values in db.statement. Off outside
	// development since values include invoice references.
	WithQueryVariables bool
}

// RegisterDBTracing installs otelgorm on db so that every repository query
// becomes a child span of the verification or run that issued it.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		logger.Debug("Database tracing disabled")
		return nil
	}
	system := cfg.DBSystem
	if system == "" {
		system = "postgresql"
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(system)}
	if !cfg.WithQueryVariables {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("failed to register otelgorm: %w", err)
	}

	if err := db.Callback().Query().After("gorm:query").Register("recon:rows_returned", annotateRows); err != nil {
		return fmt.Errorf("failed to register rows callback: %w", err)
	}
	if err := db.Callback().Update().After("gorm:update").Register("recon:rows_updated", annotateRows); err != nil {
		return fmt.Errorf("failed to register rows callback: %w", err)
	}

	logger.Info("Database tracing enabled",
		zap.String("db_system", system),
		zap.Bool("query_variables", cfg.WithQueryVariables),
	)
	return nil
}

func annotateRows(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
	}
}
