package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

const recordColumns = `id::text, stored_filename, original_filename, storage_path, public_url,
	mime_type, size_bytes, tenant_id, uploaded_by, metadata, content_restrictions,
	is_active, created_at, deleted_at`

// Postgres is a Store backed by the files table.
type Postgres struct {
	db DBTX
}

// NewPostgres creates a Postgres store.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) FindByID(ctx context.Context, id, tenantScope string) (*Record, error) {
	if uuid.Validate(id) != nil {
		return nil, ErrNotFound
	}
	row := p.db.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM files
		WHERE id = $1::uuid AND is_active AND ($2 = '' OR tenant_id = $2)`,
		id, tenantScope,
	)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Join(ErrQuery, err)
	}
	return r, nil
}

func (p *Postgres) ExistsByPath(ctx context.Context, storagePath, tenantID string) (bool, error) {
	var exists bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE tenant_id = $1 AND storage_path = $2)`,
		tenantID, storagePath,
	).Scan(&exists)
	if err != nil {
		return false, errors.Join(ErrQuery, err)
	}
	return exists, nil
}

func (p *Postgres) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	var createdAt *time.Time
	if !r.CreatedAt.IsZero() {
		createdAt = &r.CreatedAt
	}

	err := p.db.QueryRow(ctx, `
		INSERT INTO files (
			id, stored_filename, original_filename, storage_path, public_url,
			mime_type, size_bytes, tenant_id, uploaded_by, metadata,
			content_restrictions, created_at
		) VALUES (
			$1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now())
		)
		RETURNING created_at`,
		r.ID, r.StoredFilename, r.OriginalFilename, r.StoragePath, r.PublicURL,
		r.MimeType, r.SizeBytes, r.TenantID, r.UploadedBy, nullJSON(r.Metadata),
		nullJSON(r.ContentRestrictions), createdAt,
	).Scan(&r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return errors.Join(ErrQuery, err)
	}

	r.IsActive = true
	r.DeletedAt = nil
	return nil
}

func (p *Postgres) Delete(ctx context.Context, id, tenantID string) (bool, error) {
	if uuid.Validate(id) != nil {
		return false, nil
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE files
		SET is_active = false, deleted_at = now()
		WHERE id = $1::uuid AND tenant_id = $2 AND is_active`,
		id, tenantID,
	)
	if err != nil {
		return false, errors.Join(ErrQuery, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) FindByTenant(ctx context.Context, tenantID string, params ListParams) (*Page[Record], error) {
	params = params.Normalize()

	const filter = `
		FROM files
		WHERE tenant_id = $1 AND is_active
			AND ($2 = '' OR starts_with(mime_type, $2))
			AND ($3 = '' OR uploaded_by = $3)`

	page := &Page[Record]{Items: []Record{}, Limit: params.Limit, Offset: params.Offset}
	if err := p.db.QueryRow(ctx, `SELECT count(*) `+filter,
		tenantID, params.MimePrefix, params.UploadedBy,
	).Scan(&page.Total); err != nil {
		return nil, errors.Join(ErrQuery, err)
	}

	rows, err := p.db.Query(ctx, `SELECT `+recordColumns+filter+`
		ORDER BY created_at DESC, id DESC
		LIMIT $4 OFFSET $5`,
		tenantID, params.MimePrefix, params.UploadedBy, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		r, err := scanRecord(row)
		if err != nil {
			return Record{}, err
		}
		return *r, nil
	})
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	page.Items = append(page.Items, items...)
	return page, nil
}

func (p *Postgres) PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	rows, err := p.db.Query(ctx, `
		SELECT `+recordColumns+`
		FROM files
		WHERE NOT is_active AND deleted_at < $1
		ORDER BY deleted_at
		LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		r, err := scanRecord(row)
		if err != nil {
			return Record{}, err
		}
		return *r, nil
	})
	if err != nil {
		return nil, errors.Join(ErrQuery, err)
	}
	return out, nil
}

func (p *Postgres) Purge(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return ErrNotFound
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM files WHERE id = $1::uuid AND NOT is_active`, id)
	if err != nil {
		return errors.Join(ErrQuery, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r            Record
		metadata     []byte
		restrictions []byte
	)
	err := row.Scan(
		&r.ID, &r.StoredFilename, &r.OriginalFilename, &r.StoragePath, &r.PublicURL,
		&r.MimeType, &r.SizeBytes, &r.TenantID, &r.UploadedBy, &metadata, &restrictions,
		&r.IsActive, &r.CreatedAt, &r.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Metadata = metadata
	r.ContentRestrictions = restrictions
	return &r, nil
}

// nullJSON stores empty documents as SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Store = (*Postgres)(nil)
