package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
)

// tenantFields is the scan order of a tenant row.
var tenantFields = []string{
	"id", "name", "email", "active", "created_at",
	"predictive", "enterprise", "prime",
	"parent_tenant_id", "logo_url", "primary_color",
	"stripe_customer_id", "stripe_subscription_id",
}

// tenantSelect renders the tenant select list. Evolved columns the table
// lacks are replaced by their declared default.
func tenantSelect(db *DB, qualifier string) string {
	cols := make([]string, len(tenantFields))
	for i, name := range tenantFields {
		if db.HasColumn("tenants", name) {
			cols[i] = qualifier + name
			continue
		}
		cols[i] = declaredDefault("tenants", name, db.Dialect) + " AS " + name
	}
	return strings.Join(cols, ", ")
}

// tenantValues lines up with tenantFields.
func tenantValues(t *model.Tenant) []any {
	return []any{
		t.ID, t.Name, nullable(t.Email), t.Active, t.CreatedAt,
		t.Predictive, t.Enterprise, t.Prime,
		t.ParentTenantID, t.LogoURL, t.PrimaryColor,
		t.StripeCustomerID, t.StripeSubscriptionID,
	}
}

// writableFields drops the columns table does not have, together with their
// values.
func writableFields(db *DB, table string, names []string, values []any) ([]string, []any) {
	var cols []string
	var args []any
	for i, name := range names {
		if !db.HasColumn(table, name) {
			continue
		}
		cols = append(cols, name)
		args = append(args, values[i])
	}
	return cols, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func tenantDest(t *model.Tenant, email *sql.NullString, extra ...any) []any {
	dest := []any{
		&t.ID, &t.Name, email, &t.Active, &t.CreatedAt,
		&t.Predictive, &t.Enterprise, &t.Prime,
		&t.ParentTenantID, &t.LogoURL, &t.PrimaryColor,
		&t.StripeCustomerID, &t.StripeSubscriptionID,
	}
	return append(dest, extra...)
}

func scanTenant(row rowScanner, extra ...any) (*model.Tenant, error) {
	t := &model.Tenant{}
	var email sql.NullString
	if err := row.Scan(tenantDest(t, &email, extra...)...); err != nil {
		return nil, err
	}
	t.Email = email.String
	return t, nil
}

func scanTenants(rows *sql.Rows) ([]*model.Tenant, error) {
	var tenants []*model.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// nullable turns empty strings into SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
