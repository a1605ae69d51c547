package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
)

// ColumnType is the dialect-neutral type of an evolved column.
type ColumnType int

const (
	ColumnBool ColumnType = iota
	ColumnText
	ColumnTimestamp
)

// Column declares a column that must exist on Table. Default is nil, a bool
// or a string literal.
type Column struct {
	Table   string
	Name    string
	Type    ColumnType
	Default any
}

// TenantColumns lists the columns added to the base schema over time.
var TenantColumns = []Column{
	{Table: "tenants", Name: "predictive", Type: ColumnBool, Default: true},
	{Table: "tenants", Name: "enterprise", Type: ColumnBool, Default: false},
	{Table: "tenants", Name: "prime", Type: ColumnBool, Default: false},
	{Table: "tenants", Name: "parent_tenant_id", Type: ColumnText},
	{Table: "tenants", Name: "logo_url", Type: ColumnText},
	{Table: "tenants", Name: "primary_color", Type: ColumnText, Default: "#FF0080"},
	{Table: "tenants", Name: "stripe_customer_id", Type: ColumnText},
	{Table: "tenants", Name: "stripe_subscription_id", Type: ColumnText},
	{Table: "tenant_api_keys", Name: "created_at", Type: ColumnTimestamp},
}

// EvolutionReport tells which columns an evolution run added, which were
// already present and which could not be added.
type EvolutionReport struct {
	Added   []string
	Present []string
	Failed  map[string]error
}

// OK reports whether every column now exists.
func (r *EvolutionReport) OK() bool {
	return len(r.Failed) == 0
}

func (c Column) key() string {
	return c.Table + "." + c.Name
}

func (c Column) definition(d Dialect) string {
	var b strings.Builder
	b.WriteString(pq.QuoteIdentifier(c.Name))
	switch c.Type {
	case ColumnBool:
		if d == Postgres {
			b.WriteString(" BOOLEAN")
		} else {
			b.WriteString(" INTEGER")
		}
	case ColumnText:
		b.WriteString(" TEXT")
	case ColumnTimestamp:
		if d == Postgres {
			b.WriteString(" TIMESTAMPTZ")
		} else {
			b.WriteString(" TIMESTAMP")
		}
	}

	if c.Default != nil {
		b.WriteString(" DEFAULT ")
		b.WriteString(c.literal(d))
	}
	return b.String()
}

// literal renders Default as an SQL literal, NULL when unset.
func (c Column) literal(d Dialect) string {
	switch v := c.Default.(type) {
	case bool:
		switch {
		case d == Postgres && v:
			return "TRUE"
		case d == Postgres:
			return "FALSE"
		case v:
			return "1"
		default:
			return "0"
		}
	case string:
		return pq.QuoteLiteral(v)
	}
	return "NULL"
}

// declaredDefault returns the literal standing in for an evolved column that
// is missing from its table.
func declaredDefault(table, name string, d Dialect) string {
	for _, c := range TenantColumns {
		if c.Table == table && c.Name == name {
			return c.literal(d)
		}
	}
	return "NULL"
}

// EvolveSchema makes sure every declared column exists, adding the missing
// ones. It is idempotent and never fails the caller: a column that cannot be
// added is logged and reported in Failed.
func EvolveSchema(ctx context.Context, db *DB, columns []Column) *EvolutionReport {
	start := time.Now()
	c := newConn(db)
	report := &EvolutionReport{Failed: map[string]error{}}

	existing := map[string]map[string]bool{}
	listed := map[string]bool{}
	for _, col := range columns {
		if _, ok := existing[col.Table]; ok {
			continue
		}
		names, err := tableColumns(ctx, c, col.Table)
		if err != nil {
			log.Warn().Err(err).Str("table", col.Table).Msg("could not list columns, attempting every addition")
			names = map[string]bool{}
		} else {
			listed[col.Table] = true
		}
		existing[col.Table] = names
	}

	for _, col := range columns {
		if existing[col.Table][col.Name] {
			report.Present = append(report.Present, col.key())
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", pq.QuoteIdentifier(col.Table), col.definition(db.Dialect))
		if _, err := c.exec(ctx, "add column "+col.key(), stmt); err != nil {
			if isDuplicateColumn(err) {
				report.Present = append(report.Present, col.key())
				existing[col.Table][col.Name] = true
				continue
			}
			log.Warn().Err(err).Str("column", col.key()).Msg("schema evolution could not add column")
			report.Failed[col.key()] = err
			continue
		}

		log.Info().Str("column", col.key()).Msg("column added")
		report.Added = append(report.Added, col.key())
		existing[col.Table][col.Name] = true
	}

	// queries fall back to declared defaults for whatever is still missing
	for table := range listed {
		db.recordColumns(table, existing[table])
	}

	monitoring.SchemaColumns.WithLabelValues("added").Add(float64(len(report.Added)))
	monitoring.SchemaColumns.WithLabelValues("present").Add(float64(len(report.Present)))
	monitoring.SchemaColumns.WithLabelValues("failed").Add(float64(len(report.Failed)))
	log.Info().
		Int("added", len(report.Added)).
		Int("present", len(report.Present)).
		Int("failed", len(report.Failed)).
		Dur("took", time.Since(start)).
		Msg("schema evolution finished")
	return report
}

func tableColumns(ctx context.Context, c conn, table string) (map[string]bool, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	var query string
	switch c.db.Dialect {
	case Postgres:
		query = `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?`
	default:
		query = `SELECT name FROM pragma_table_info(?)`
	}

	rows, err := c.q.QueryContext(ctx, c.rebind(query), table)
	if err != nil {
		return nil, mapError(ctx, "list columns", err)
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(ctx, "list columns", err)
		}
		names[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, "list columns", err)
	}
	return names, nil
}
