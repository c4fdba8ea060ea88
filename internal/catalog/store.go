// Package catalog implements pipeline.Store: the persistent entry catalog
// GET_INFO_DB and DB_APPLY read from and write to (spec.md §6.3). The
// reference implementation is a single "entries" table in PostgreSQL,
// queried directly through pgx/v5 rather than through a generated ORM client
// (see DESIGN.md for why entgo.io/ent was dropped).
package catalog

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cea-hpc/entryproc/internal/pipeline"
)

// PostgresStore implements pipeline.Store over a pgxpool.Pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	dbName string

	commitMu  sync.Mutex
	committed bool
}

// New opens a pgxpool.Pool against cfg, applies pending migrations and
// returns a ready PostgresStore. It is the only place in this package that
// touches database/sql (golang-migrate needs it); all query paths run
// through the pool.
func New(ctx context.Context, cfg Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	if err := runMigrations(dsn, cfg.Database); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}

	return &PostgresStore{pool: pool, dbName: cfg.Database, committed: true}, nil
}

// Close releases the pool. Not part of pipeline.Store; called directly by
// the owning cmd/entryprocd during shutdown.
func (s *PostgresStore) Close() { s.pool.Close() }

const selectColumns = `known_mask, full_path, name, parent_seq, parent_oid, depth, entry_type,
	owner, usr_group, size, last_access, last_mod, creation_time, md_update, path_update,
	status, stripe_count, stripe_size, pool_name, stripe_items,
	last_archive, last_restore, archive_class, release_class, arch_cl_update, rel_cl_update`

func scanAttrs(row pgx.Row) (pipeline.AttrSet, error) {
	var (
		a                                        pipeline.AttrSet
		mask                                     int64
		status                                   int
		lastAccess, lastMod, creation            stdsql.NullTime
		mdUpdate, pathUpdate                     stdsql.NullTime
		archClUpdate, relClUpdate                stdsql.NullTime
		stripeItems                              []string
	)
	err := row.Scan(
		&mask, &a.FullPath, &a.Name, &a.ParentID.Seq, &a.ParentID.Oid, &a.Depth, &a.Type,
		&a.Owner, &a.Group, &a.Size, &lastAccess, &lastMod, &creation, &mdUpdate, &pathUpdate,
		&status, &a.StripeInfo.StripeCount, &a.StripeInfo.StripeSize, &a.StripeInfo.PoolName, &stripeItems,
		&a.LastArchive, &a.LastRestore, &a.ArchiveClass, &a.ReleaseClass, &archClUpdate, &relClUpdate,
	)
	if err != nil {
		return pipeline.AttrSet{}, err
	}
	a.Mask = pipeline.AttrMask(mask)
	a.Status = pipeline.EntryStatus(status)
	a.StripeItems = stripeItems
	if lastAccess.Valid {
		a.LastAccess = lastAccess.Time
	}
	if lastMod.Valid {
		a.LastMod = lastMod.Time
	}
	if creation.Valid {
		a.CreationTime = creation.Time
	}
	if mdUpdate.Valid {
		a.MDUpdate = mdUpdate.Time
	}
	if pathUpdate.Valid {
		a.PathUpdate = pathUpdate.Time
	}
	if archClUpdate.Valid {
		a.ArchClUpdate = archClUpdate.Time
	}
	if relClUpdate.Valid {
		a.RelClUpdate = relClUpdate.Time
	}
	return a, nil
}

func nullTime(t time.Time) stdsql.NullTime {
	if t.IsZero() {
		return stdsql.NullTime{}
	}
	return stdsql.NullTime{Time: t, Valid: true}
}

func other(err error) pipeline.StoreResult {
	return pipeline.StoreResult{Code: pipeline.StoreOther, Err: err}
}

func success() pipeline.StoreResult { return pipeline.StoreResult{Code: pipeline.StoreSuccess} }

func (s *PostgresStore) Get(id pipeline.EntryId, need pipeline.AttrMask) (bool, pipeline.AttrSet, pipeline.StoreResult) {
	ctx := context.Background()
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM entries WHERE id_seq=$1 AND id_oid=$2 AND NOT soft_removed`, id.Seq, id.Oid)
	a, err := scanAttrs(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, pipeline.AttrSet{}, pipeline.StoreResult{Code: pipeline.StoreNotExists}
		}
		return false, pipeline.AttrSet{}, other(err)
	}
	a.Mask &= need
	return true, a, success()
}

func (s *PostgresStore) Exists(id pipeline.EntryId) (bool, pipeline.StoreResult) {
	ctx := context.Background()
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM entries WHERE id_seq=$1 AND id_oid=$2 AND NOT soft_removed)`, id.Seq, id.Oid).Scan(&exists)
	if err != nil {
		return false, other(err)
	}
	return exists, success()
}

func (s *PostgresStore) CheckStripe(id pipeline.EntryId, want pipeline.StripeInfo) (bool, pipeline.StoreResult) {
	ctx := context.Background()
	var count int
	var size int64
	err := s.pool.QueryRow(ctx, `SELECT stripe_count, stripe_size FROM entries WHERE id_seq=$1 AND id_oid=$2`, id.Seq, id.Oid).Scan(&count, &size)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, pipeline.StoreResult{Code: pipeline.StoreNotExists}
		}
		return false, other(err)
	}
	return count == want.StripeCount && size == want.StripeSize, success()
}

func (s *PostgresStore) Insert(id pipeline.EntryId, attrs pipeline.AttrSet) pipeline.StoreResult {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entries (
			id_seq, id_oid, known_mask, full_path, name, parent_seq, parent_oid, depth, entry_type,
			owner, usr_group, size, last_access, last_mod, creation_time, md_update, path_update,
			status, stripe_count, stripe_size, pool_name, stripe_items,
			last_archive, last_restore, archive_class, release_class, arch_cl_update, rel_cl_update,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,now())
		ON CONFLICT (id_seq, id_oid) DO UPDATE SET
			known_mask=EXCLUDED.known_mask, full_path=EXCLUDED.full_path, name=EXCLUDED.name,
			parent_seq=EXCLUDED.parent_seq, parent_oid=EXCLUDED.parent_oid, depth=EXCLUDED.depth,
			entry_type=EXCLUDED.entry_type, owner=EXCLUDED.owner, usr_group=EXCLUDED.usr_group,
			size=EXCLUDED.size, last_access=EXCLUDED.last_access, last_mod=EXCLUDED.last_mod,
			creation_time=EXCLUDED.creation_time, md_update=EXCLUDED.md_update, path_update=EXCLUDED.path_update,
			status=EXCLUDED.status, stripe_count=EXCLUDED.stripe_count, stripe_size=EXCLUDED.stripe_size,
			pool_name=EXCLUDED.pool_name, stripe_items=EXCLUDED.stripe_items,
			last_archive=EXCLUDED.last_archive, last_restore=EXCLUDED.last_restore,
			archive_class=EXCLUDED.archive_class, release_class=EXCLUDED.release_class,
			arch_cl_update=EXCLUDED.arch_cl_update, rel_cl_update=EXCLUDED.rel_cl_update,
			soft_removed=false, updated_at=now()`,
		id.Seq, id.Oid, int64(attrs.Mask), attrs.FullPath, attrs.Name, attrs.ParentID.Seq, attrs.ParentID.Oid, attrs.Depth, attrs.Type,
		attrs.Owner, attrs.Group, attrs.Size, nullTime(attrs.LastAccess), nullTime(attrs.LastMod), nullTime(attrs.CreationTime), nullTime(attrs.MDUpdate), nullTime(attrs.PathUpdate),
		int(attrs.Status), attrs.StripeInfo.StripeCount, attrs.StripeInfo.StripeSize, attrs.StripeInfo.PoolName, attrs.StripeItems,
		attrs.LastArchive, attrs.LastRestore, attrs.ArchiveClass, attrs.ReleaseClass, nullTime(attrs.ArchClUpdate), nullTime(attrs.RelClUpdate),
	)
	if err != nil {
		return other(err)
	}
	return success()
}

// Update applies a partial AttrSet: only the columns named by attrs.Mask are
// written, and known_mask is OR'd in rather than replaced (spec.md §4.6's
// DB_APPLY only ever grows what's known about an entry).
func (s *PostgresStore) Update(id pipeline.EntryId, attrs pipeline.AttrSet) pipeline.StoreResult {
	ctx := context.Background()
	var sets []string
	args := []any{id.Seq, id.Oid}
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}

	m := attrs.Mask
	if m.Has(pipeline.AttrFullPath) {
		add("full_path", attrs.FullPath)
	}
	if m.Has(pipeline.AttrName) {
		add("name", attrs.Name)
	}
	if m.Has(pipeline.AttrParentID) {
		add("parent_seq", attrs.ParentID.Seq)
		add("parent_oid", attrs.ParentID.Oid)
	}
	if m.Has(pipeline.AttrDepth) {
		add("depth", attrs.Depth)
	}
	if m.Has(pipeline.AttrType) {
		add("entry_type", attrs.Type)
	}
	if m.Has(pipeline.AttrOwner) {
		add("owner", attrs.Owner)
	}
	if m.Has(pipeline.AttrGroup) {
		add("usr_group", attrs.Group)
	}
	if m.Has(pipeline.AttrSize) {
		add("size", attrs.Size)
	}
	if m.Has(pipeline.AttrLastAccess) {
		add("last_access", nullTime(attrs.LastAccess))
	}
	if m.Has(pipeline.AttrLastMod) {
		add("last_mod", nullTime(attrs.LastMod))
	}
	if m.Has(pipeline.AttrCreationTime) {
		add("creation_time", nullTime(attrs.CreationTime))
	}
	if m.Has(pipeline.AttrMDUpdate) {
		add("md_update", nullTime(attrs.MDUpdate))
	}
	if m.Has(pipeline.AttrPathUpdate) {
		add("path_update", nullTime(attrs.PathUpdate))
	}
	if m.Has(pipeline.AttrStatus) {
		add("status", int(attrs.Status))
	}
	if m.Has(pipeline.AttrStripeInfo) {
		add("stripe_count", attrs.StripeInfo.StripeCount)
		add("stripe_size", attrs.StripeInfo.StripeSize)
		add("pool_name", attrs.StripeInfo.PoolName)
	}
	if m.Has(pipeline.AttrStripeItems) {
		add("stripe_items", attrs.StripeItems)
	}
	if m.Has(pipeline.AttrLastArchive) {
		add("last_archive", attrs.LastArchive)
	}
	if m.Has(pipeline.AttrLastRestore) {
		add("last_restore", attrs.LastRestore)
	}
	if m.Has(pipeline.AttrArchiveClass) {
		add("archive_class", attrs.ArchiveClass)
	}
	if m.Has(pipeline.AttrReleaseClass) {
		add("release_class", attrs.ReleaseClass)
	}
	if m.Has(pipeline.AttrArchClUpdate) {
		add("arch_cl_update", nullTime(attrs.ArchClUpdate))
	}
	if m.Has(pipeline.AttrRelClUpdate) {
		add("rel_cl_update", nullTime(attrs.RelClUpdate))
	}

	if len(sets) == 0 {
		return success()
	}
	add("known_mask_bits", int64(m))
	query := fmt.Sprintf(
		`UPDATE entries SET %s, known_mask = known_mask | $%d, updated_at = now() WHERE id_seq=$1 AND id_oid=$2`,
		strings.Join(sets, ", "), len(args),
	)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return other(err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	return success()
}

func (s *PostgresStore) Remove(id pipeline.EntryId) pipeline.StoreResult {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `DELETE FROM entries WHERE id_seq=$1 AND id_oid=$2`, id.Seq, id.Oid)
	if err != nil {
		return other(err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	return success()
}

func (s *PostgresStore) SoftRemove(id pipeline.EntryId, fullPath, backendPath string, purgeAt time.Time) pipeline.StoreResult {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `
		UPDATE entries SET soft_removed=true, full_path=$3, backend_path=$4, purge_at=$5, updated_at=now()
		WHERE id_seq=$1 AND id_oid=$2`, id.Seq, id.Oid, fullPath, backendPath, purgeAt)
	if err != nil {
		return other(err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.StoreResult{Code: pipeline.StoreNotExists}
	}
	return success()
}

func (s *PostgresStore) MassRemove(olderThan time.Time, pathPrefix string) (int64, pipeline.StoreResult) {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `DELETE FROM entries WHERE soft_removed AND purge_at < $1 AND full_path LIKE $2`, olderThan, pathPrefix+"%")
	if err != nil {
		return 0, other(err)
	}
	return tag.RowsAffected(), success()
}

func (s *PostgresStore) MassSoftRemove(olderThan time.Time, pathPrefix string, purgeAt time.Time) (int64, pipeline.StoreResult) {
	ctx := context.Background()
	tag, err := s.pool.Exec(ctx, `
		UPDATE entries SET soft_removed=true, purge_at=$3, updated_at=now()
		WHERE NOT soft_removed AND updated_at < $1 AND full_path LIKE $2`, olderThan, pathPrefix+"%", purgeAt)
	if err != nil {
		return 0, other(err)
	}
	return tag.RowsAffected(), success()
}

func (s *PostgresStore) GetVar(name string) (string, pipeline.StoreResult) {
	ctx := context.Background()
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM catalog_vars WHERE name=$1`, name).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", pipeline.StoreResult{Code: pipeline.StoreNotExists}
		}
		return "", other(err)
	}
	return value, success()
}

func (s *PostgresStore) SetVar(name, value string) pipeline.StoreResult {
	ctx := context.Background()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO catalog_vars (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value`, name, value)
	if err != nil {
		return other(err)
	}
	return success()
}

// ForceCommit is a flag the postgres backend tracks in memory only: every
// statement above already commits on its own (no explicit transaction spans
// multiple ops), so on=true/false just records the requested state for
// GetCommitStatus. A single-writer store (e.g. SQLite) would make this do
// real work. Callers that force it for the span of one operation (GC_OLDENT's
// mass-remove) must restore the prior value themselves, not hardcode true or
// false, since this flag is shared across the whole store's lifetime and
// other in-flight ops (DB_APPLY/CHGLOG_CLR) read it concurrently.
func (s *PostgresStore) ForceCommit(on bool) pipeline.StoreResult {
	s.commitMu.Lock()
	s.committed = on
	s.commitMu.Unlock()
	return success()
}

func (s *PostgresStore) GetCommitStatus() (bool, pipeline.StoreResult) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.committed, success()
}

func (s *PostgresStore) GenerateFields(attrs pipeline.AttrSet, mask pipeline.AttrMask) pipeline.AttrSet {
	out := attrs
	out.Mask = attrs.Mask & mask
	return out
}

func (s *PostgresStore) MergeAttrs(dst, src pipeline.AttrSet, overwrite bool) pipeline.AttrSet {
	return pipeline.MergeAttrs(dst, src, overwrite)
}
