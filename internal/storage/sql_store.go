package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"magnetcatalog/internal/config"
	"magnetcatalog/pkg/types"
)

// SQLStore upserts catalog entries into postgres or sqlite.
type SQLStore struct {
	db          *sql.DB
	driver      string
	autoMigrate bool
	now         func() time.Time
}

// NewSQLStore opens the configured database, creating it (postgres only) and
// the schema when allowed.
func NewSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("open sql connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping sql connection: %w", err)
			}
		} else {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	store := &SQLStore{
		db:          db,
		driver:      cfg.Driver,
		autoMigrate: cfg.AutoMigrate,
		now:         time.Now,
	}
	if cfg.AutoMigrate {
		if err := store.ensureSchema(context.Background()); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Save upserts entries keyed by magnet inside one transaction. Entries from
// earlier runs that are absent from this one are kept.
func (s *SQLStore) Save(ctx context.Context, entries []types.CatalogEntry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.upsertEntries(ctx, entries); err != nil {
		if s.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := s.upsertEntries(ctx, entries); retryErr != nil {
				return fmt.Errorf("upsert entries: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("upsert entries: %w", err)
	}
	return nil
}

func (s *SQLStore) upsertEntries(ctx context.Context, entries []types.CatalogEntry) error {
	query := s.rebind(`
        INSERT INTO catalog_entries (id, magnet, info_hash, title, clean_title, link, image, languages, qualities,
            category, release_year, added, is_episodic, show_name, season, episode, search_text, position, run_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (magnet) DO UPDATE SET
            info_hash = excluded.info_hash,
            title = excluded.title,
            clean_title = excluded.clean_title,
            link = excluded.link,
            image = excluded.image,
            languages = excluded.languages,
            qualities = excluded.qualities,
            category = excluded.category,
            release_year = excluded.release_year,
            added = excluded.added,
            is_episodic = excluded.is_episodic,
            show_name = excluded.show_name,
            season = excluded.season,
            episode = excluded.episode,
            search_text = excluded.search_text,
            position = excluded.position,
            run_at = excluded.run_at
    `)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	runAt := s.now().Unix()
	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = EntryID(e.Magnet)
		}
		if _, err := stmt.ExecContext(ctx,
			id,
			e.Magnet,
			e.InfoHash,
			e.Title,
			e.CleanTitle,
			e.Link,
			e.Image,
			joinList(e.Languages),
			joinList(e.Qualities),
			e.Category,
			e.ReleaseYear,
			e.Added,
			e.IsEpisodic,
			e.ShowName,
			e.Season,
			e.Episode,
			fold(e.CleanTitle+" "+e.Title),
			i,
			runAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const entryColumns = `id, magnet, info_hash, title, clean_title, link, image, languages, qualities,
    category, release_year, added, is_episodic, show_name, season, episode`

// List filters and paginates entries, most recent run first.
func (s *SQLStore) List(ctx context.Context, q Query) (ListResult, error) {
	if s == nil || s.db == nil {
		return ListResult{}, fmt.Errorf("sql store not initialised")
	}
	q = q.Normalize()
	where, args := whereClause(q)

	result := ListResult{Page: q.Page, PageSize: q.PageSize}
	totalQuery := s.rebind(`SELECT COUNT(*) FROM catalog_entries` + where)
	if err := s.db.QueryRowContext(ctx, totalQuery, args...).Scan(&result.Total); err != nil {
		return ListResult{}, fmt.Errorf("count entries: %w", err)
	}

	n := len(args)
	listQuery := s.rebind(`SELECT ` + entryColumns + ` FROM catalog_entries` + where +
		` ORDER BY run_at DESC, position ASC LIMIT $` + strconv.Itoa(n+1) + ` OFFSET $` + strconv.Itoa(n+2))
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, q.PageSize, q.Offset())...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	result.Items = make([]types.CatalogEntry, 0, q.PageSize)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return ListResult{}, fmt.Errorf("scan entry: %w", err)
		}
		result.Items = append(result.Items, e)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate entries: %w", err)
	}
	return result, nil
}

// Get loads one entry by id.
func (s *SQLStore) Get(ctx context.Context, id string) (types.CatalogEntry, error) {
	if s == nil || s.db == nil {
		return types.CatalogEntry{}, fmt.Errorf("sql store not initialised")
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+entryColumns+` FROM catalog_entries WHERE id = $1`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CatalogEntry{}, ErrNotFound
	}
	if err != nil {
		return types.CatalogEntry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// Close closes the underlying DB connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (types.CatalogEntry, error) {
	var (
		e                    types.CatalogEntry
		infoHash, image      sql.NullString
		languages, qualities sql.NullString
		year, show           sql.NullString
		season, episode      sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Magnet, &infoHash, &e.Title, &e.CleanTitle, &e.Link, &image,
		&languages, &qualities, &e.Category, &year, &e.Added, &e.IsEpisodic, &show, &season, &episode); err != nil {
		return types.CatalogEntry{}, err
	}
	e.InfoHash = infoHash.String
	e.Image = image.String
	e.Languages = splitList(languages.String)
	e.Qualities = splitList(qualities.String)
	e.ReleaseYear = year.String
	e.ShowName = show.String
	e.Season = season.String
	e.Episode = episode.String
	return e, nil
}

func whereClause(q Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "$?", "$"+strconv.Itoa(len(args))))
	}
	if q.Search != "" {
		add("search_text LIKE $?", "%"+fold(q.Search)+"%")
	}
	if q.Language != "" {
		add("languages LIKE $?", "%,"+q.Language+",%")
	}
	if q.Quality != "" {
		add("LOWER(qualities) LIKE $?", "%,"+strings.ToLower(q.Quality)+",%")
	}
	if q.Category != "" {
		add("LOWER(category) = $?", strings.ToLower(q.Category))
	}
	switch q.Type {
	case string(types.MediaEpisodic):
		add("is_episodic = $?", true)
	case string(types.MediaMovie):
		add("is_episodic = $?", false)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// joinList stores list fields delimited on both ends so LIKE '%,X,%' matches whole values.
func joinList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return "," + strings.Join(values, ",") + ","
}

func splitList(raw string) []string {
	out := []string{}
	for _, v := range strings.Split(strings.Trim(raw, ","), ",") {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// rebind rewrites $N placeholders to ?N for sqlite.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "sqlite" {
		return query
	}
	return strings.ReplaceAll(query, "$", "?")
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	boolType := "BOOLEAN"
	if s.driver == "sqlite" {
		boolType = "INTEGER"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS catalog_entries (
		    id TEXT PRIMARY KEY,
		    magnet TEXT NOT NULL UNIQUE,
		    info_hash TEXT,
		    title TEXT NOT NULL,
		    clean_title TEXT NOT NULL,
		    link TEXT NOT NULL,
		    image TEXT,
		    languages TEXT,
		    qualities TEXT,
		    category TEXT NOT NULL,
		    release_year TEXT,
		    added TEXT NOT NULL,
		    is_episodic ` + boolType + ` NOT NULL,
		    show_name TEXT,
		    season TEXT,
		    episode TEXT,
		    search_text TEXT,
		    position INTEGER NOT NULL,
		    run_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_entries_run ON catalog_entries (run_at DESC, position)`,
		`CREATE INDEX IF NOT EXISTS idx_catalog_entries_info_hash ON catalog_entries (info_hash)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "no such table") {
		return true
	}
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
