package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/model"
)

// TenantRepository persists tenants and their API key records.
type TenantRepository struct {
	c conn
}

func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{c: newConn(db)}
}

// WithTx runs fn against a repository bound to a single transaction. The
// transaction commits only when fn returns nil.
func (r *TenantRepository) WithTx(ctx context.Context, fn func(tx *TenantRepository) error) error {
	return r.c.withTx(ctx, func(tc conn) error {
		return fn(&TenantRepository{c: tc})
	})
}

// CreateTenant inserts t, assigning an ID and creation time when unset.
func (r *TenantRepository) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}

	cols, args := writableFields(r.c.db, "tenants", tenantFields, tenantValues(t))
	query := `INSERT INTO tenants (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders(len(cols)) + `)`
	if _, err := r.c.exec(ctx, "create tenant", query, args...); err != nil {
		return err
	}

	log.Debug().Str("tenant_id", t.ID.String()).Str("email", t.Email).Msg("tenant created")
	return nil
}

// GetTenant returns the tenant with the given id or ErrNotFound.
func (r *TenantRepository) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return r.getOne(ctx, "get tenant", `SELECT `+tenantSelect(r.c.db, "")+` FROM tenants WHERE id = ?`, id)
}

// GetTenantByEmail returns the tenant registered under email or ErrNotFound.
func (r *TenantRepository) GetTenantByEmail(ctx context.Context, email string) (*model.Tenant, error) {
	return r.getOne(ctx, "get tenant by email",
		`SELECT `+tenantSelect(r.c.db, "")+` FROM tenants WHERE email = ? ORDER BY created_at LIMIT 1`, email)
}

func (r *TenantRepository) getOne(ctx context.Context, op, query string, args ...any) (*model.Tenant, error) {
	ctx, cancel := r.c.opContext(ctx)
	defer cancel()

	t, err := scanTenant(r.c.q.QueryRowContext(ctx, r.c.rebind(query), args...))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, mapError(ctx, op, err)
	}
	return t, nil
}

// ListTenants returns every tenant, newest first.
func (r *TenantRepository) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	ctx, cancel := r.c.opContext(ctx)
	defer cancel()

	rows, err := r.c.q.QueryContext(ctx, `SELECT `+tenantSelect(r.c.db, "")+` FROM tenants ORDER BY created_at DESC, name`)
	if err != nil {
		return nil, mapError(ctx, "list tenants", err)
	}
	defer rows.Close()

	tenants, err := scanTenants(rows)
	if err != nil {
		return nil, mapError(ctx, "list tenants", err)
	}
	return tenants, nil
}

// DeleteTenantByEmail removes every tenant registered under email together
// with its key records and returns the removed IDs.
func (r *TenantRepository) DeleteTenantByEmail(ctx context.Context, email string) ([]uuid.UUID, error) {
	var removed []uuid.UUID
	err := r.c.withTx(ctx, func(tc conn) error {
		ids, err := tenantIDsByEmail(ctx, tc, email)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tc.exec(ctx, "delete api keys", `DELETE FROM tenant_api_keys WHERE tenant_id = ?`, id); err != nil {
				return err
			}
			if _, err := tc.exec(ctx, "delete tenant", `DELETE FROM tenants WHERE id = ?`, id); err != nil {
				return err
			}
		}
		removed = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func tenantIDsByEmail(ctx context.Context, c conn, email string) ([]uuid.UUID, error) {
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	rows, err := c.q.QueryContext(ctx, c.rebind(`SELECT id FROM tenants WHERE email = ?`), email)
	if err != nil {
		return nil, mapError(ctx, "find tenants by email", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(ctx, "find tenants by email", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, "find tenants by email", err)
	}
	return ids, nil
}

// UpdateTenant overwrites the mutable columns of t.
func (r *TenantRepository) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	cols, args := writableFields(r.c.db, "tenants",
		[]string{
			"name", "active", "predictive", "enterprise", "prime",
			"parent_tenant_id", "logo_url", "primary_color",
			"stripe_customer_id", "stripe_subscription_id",
		},
		[]any{
			t.Name, t.Active, t.Predictive, t.Enterprise, t.Prime,
			t.ParentTenantID, t.LogoURL, t.PrimaryColor,
			t.StripeCustomerID, t.StripeSubscriptionID,
		},
	)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	query := `UPDATE tenants SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, t.ID)
	res, err := r.c.exec(ctx, "update tenant", query, args...)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetActive flips the active flag of a tenant.
func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.c.exec(ctx, "set tenant active", `UPDATE tenants SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// SetFlag sets one of the feature flag columns of a tenant.
func (r *TenantRepository) SetFlag(ctx context.Context, id uuid.UUID, flag model.Flag, value bool) error {
	if !flag.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFlag, flag)
	}
	if !r.c.db.HasColumn("tenants", string(flag)) {
		return fmt.Errorf("%w: set tenant flag: column %s is missing", ErrStorageUnavailable, flag)
	}
	// flag is one of a fixed set of column names
	query := fmt.Sprintf(`UPDATE tenants SET %s = ? WHERE id = ?`, string(flag))
	res, err := r.c.exec(ctx, "set tenant flag", query, value, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// AddAPIKey stores a key record. Only the fingerprint and hash are persisted.
func (r *TenantRepository) AddAPIKey(ctx context.Context, rec *model.APIKeyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
	}
	cols, args := writableFields(r.c.db, "tenant_api_keys",
		[]string{"tenant_id", "key_fingerprint", "key_hash", "created_at"},
		[]any{rec.TenantID, rec.KeyFingerprint, rec.KeyHash, rec.CreatedAt},
	)
	query := `INSERT INTO tenant_api_keys (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders(len(cols)) + `)`
	_, err := r.c.exec(ctx, "add api key", query, args...)
	return err
}

// DeleteAPIKeys removes every key record of a tenant and returns how many
// were removed.
func (r *TenantRepository) DeleteAPIKeys(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	res, err := r.c.exec(ctx, "delete api keys", `DELETE FROM tenant_api_keys WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FindByFingerprint returns every key record with the given fingerprint,
// joined with its owning tenant. Several tenants may share a fingerprint.
func (r *TenantRepository) FindByFingerprint(ctx context.Context, fingerprint string) ([]model.KeyCandidate, error) {
	ctx, cancel := r.c.opContext(ctx)
	defer cancel()

	query := `SELECT ` + tenantSelect(r.c.db, "t.") + `, k.key_hash
		FROM tenant_api_keys k JOIN tenants t ON t.id = k.tenant_id
		WHERE k.key_fingerprint = ?`
	rows, err := r.c.q.QueryContext(ctx, r.c.rebind(query), fingerprint)
	if err != nil {
		return nil, mapError(ctx, "find by fingerprint", err)
	}
	defer rows.Close()

	var candidates []model.KeyCandidate
	for rows.Next() {
		var hash string
		t, err := scanTenant(rows, &hash)
		if err != nil {
			return nil, mapError(ctx, "find by fingerprint", err)
		}
		candidates = append(candidates, model.KeyCandidate{Tenant: t, KeyHash: hash})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, "find by fingerprint", err)
	}
	return candidates, nil
}

// ListAPIKeys returns the key records of a tenant, oldest first.
func (r *TenantRepository) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]model.APIKeyRecord, error) {
	ctx, cancel := r.c.opContext(ctx)
	defer cancel()

	created, order := "created_at", "created_at"
	if !r.c.db.HasColumn("tenant_api_keys", "created_at") {
		created, order = "NULL AS created_at", "key_fingerprint"
	}
	rows, err := r.c.q.QueryContext(ctx, r.c.rebind(
		`SELECT tenant_id, key_fingerprint, key_hash, `+created+` FROM tenant_api_keys
		WHERE tenant_id = ? ORDER BY `+order), tenantID)
	if err != nil {
		return nil, mapError(ctx, "list api keys", err)
	}
	defer rows.Close()

	var keys []model.APIKeyRecord
	for rows.Next() {
		var rec model.APIKeyRecord
		var created sql.NullTime
		if err := rows.Scan(&rec.TenantID, &rec.KeyFingerprint, &rec.KeyHash, &created); err != nil {
			return nil, mapError(ctx, "list api keys", err)
		}
		rec.CreatedAt = created.Time
		keys = append(keys, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, "list api keys", err)
	}
	return keys, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
