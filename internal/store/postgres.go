package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/nextgenfi/targeting-cli/internal/db"
	"github.com/nextgenfi/targeting-cli/internal/geo"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// PostgresStore implements Store on PostGIS using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying pool for subsystems that need direct access,
// such as the signup listener.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	occurred_at TIMESTAMPTZ,
	latitude    DOUBLE PRECISION,
	longitude   DOUBLE PRECISION,
	magnitude   DOUBLE PRECISION,
	severity    TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL DEFAULT '',
	place       TEXT NOT NULL DEFAULT '',
	depth_km    DOUBLE PRECISION,
	url         TEXT NOT NULL DEFAULT '',
	geom        geometry(Point, 4326),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_kind_occurred ON events(kind, occurred_at DESC);

CREATE TABLE IF NOT EXISTS candidates (
	id            TEXT PRIMARY KEY,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	asset_value   DOUBLE PRECISION NOT NULL DEFAULT 0,
	has_insurance BOOLEAN NOT NULL DEFAULT false,
	do_not_call   BOOLEAN NOT NULL DEFAULT false,
	geom          geometry(Point, 4326),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_candidates_geom ON candidates USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_candidates_asset_value ON candidates(asset_value);

CREATE TABLE IF NOT EXISTS candidate_enrichment (
	candidate_id TEXT PRIMARY KEY REFERENCES candidates(id) ON DELETE CASCADE,
	homeowner    BOOLEAN NOT NULL DEFAULT false,
	income       DOUBLE PRECISION,
	age          INTEGER,
	children     BOOLEAN,
	attrs        JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	phone_number TEXT NOT NULL DEFAULT '',
	verified     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_unverified ON users(created_at) WHERE NOT verified;

CREATE TABLE IF NOT EXISTS campaigns (
	id           TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL REFERENCES events(id),
	tier         TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL,
	body         TEXT NOT NULL,
	target_count INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'draft',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_campaigns_event_id ON campaigns(event_id);

CREATE OR REPLACE FUNCTION notify_user_signup() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('user_signup', json_build_object(
		'id', NEW.id,
		'phoneNumber', NEW.phone_number,
		'createdAt', extract(epoch FROM NEW.created_at)
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS users_signup_notify ON users;
CREATE TRIGGER users_signup_notify AFTER INSERT ON users
	FOR EACH ROW EXECUTE FUNCTION notify_user_signup();
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the schema and the signup notification trigger.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Events ---

const eventColumns = `id, kind, occurred_at, latitude, longitude, magnitude, severity, event_type, place, depth_km, url, updated_at`

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get event %s", id)
	}
	return e, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND occurred_at >= $%d`, argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC NULLS LAST, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	var kind string
	err := row.Scan(&e.ID, &kind, &e.OccurredAt, &e.Latitude, &e.Longitude, &e.Magnitude,
		&e.Severity, &e.EventType, &e.Place, &e.DepthKM, &e.URL, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = model.EventKind(kind)
	return &e, nil
}

var eventUpsert = db.UpsertConfig{
	Table: "events",
	Columns: []string{"id", "kind", "occurred_at", "latitude", "longitude", "magnitude",
		"severity", "event_type", "place", "depth_km", "url", "geom", "updated_at"},
	ConflictKeys: []string{"id"},
	Casts:        map[string]string{"geom": "ST_GeomFromEWKB(%s)"},
}

// UpsertEvents replaces events by ID.
func (s *PostgresStore) UpsertEvents(ctx context.Context, events []model.Event) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		g, err := pointEWKB(e.Latitude, e.Longitude)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: event %s", e.ID)
		}
		rows = append(rows, []any{e.ID, string(e.Kind), e.OccurredAt, e.Latitude, e.Longitude,
			e.Magnitude, e.Severity, e.EventType, e.Place, e.DepthKM, e.URL, g, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, eventUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert events")
}

// --- Candidates ---

const candidateBBoxQuery = `SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.city, c.state,
	c.latitude, c.longitude, c.asset_value, c.has_insurance, c.do_not_call, c.updated_at,
	e.candidate_id, e.homeowner, e.income, e.age, e.children, e.attrs
FROM candidates c
LEFT JOIN candidate_enrichment e ON e.candidate_id = c.id
WHERE c.geom && ST_MakeEnvelope($1, $2, $3, $4, 4326)
	AND c.asset_value >= $5
	AND ($6::double precision = 0 OR c.asset_value <= $6)
	AND (NOT $7::boolean OR NOT c.has_insurance)
	AND (NOT $8::boolean OR COALESCE(e.homeowner, false))
	AND (NOT $9::boolean OR NOT c.do_not_call)
ORDER BY c.id`

// FindCandidatesInBoundingBox returns candidates whose geometry intersects
// box, with the filter pushed into SQL.
func (s *PostgresStore) FindCandidatesInBoundingBox(ctx context.Context, box geo.BBox, filter model.CandidateFilter) ([]model.Candidate, error) {
	rows, err := s.pool.Query(ctx, candidateBBoxQuery,
		box.MinLon, box.MinLat, box.MaxLon, box.MaxLat,
		filter.MinAssetValue, filter.MaxAssetValue,
		filter.RequireUninsured, filter.RequireHomeowner, filter.ExcludeDoNotCall,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var enrichedID *string
		var homeowner, children *bool
		var income *float64
		var age *int32
		var attrs []byte

		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.City, &c.State,
			&c.Latitude, &c.Longitude, &c.AssetValue, &c.HasInsurance, &c.DoNotCall, &c.UpdatedAt,
			&enrichedID, &homeowner, &income, &age, &children, &attrs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		if enrichedID != nil {
			en, err := buildEnrichment(homeowner, income, age, children, attrs)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: candidate %s", c.ID)
			}
			c.Enrichment = en
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find candidates iterate")
}

var candidateUpsert = db.UpsertConfig{
	Table: "candidates",
	Columns: []string{"id", "first_name", "last_name", "email", "phone", "city", "state",
		"latitude", "longitude", "asset_value", "has_insurance", "do_not_call", "geom", "updated_at"},
	ConflictKeys: []string{"id"},
	Casts:        map[string]string{"geom": "ST_GeomFromEWKB(%s)"},
}

var enrichmentUpsert = db.UpsertConfig{
	Table:        "candidate_enrichment",
	Columns:      []string{"candidate_id", "homeowner", "income", "age", "children", "attrs"},
	ConflictKeys: []string{"candidate_id"},
}

// UpsertCandidates replaces candidates and their enrichment rows by ID in
// one transaction. A candidate without enrichment loses any stored
// enrichment row.
func (s *PostgresStore) UpsertCandidates(ctx context.Context, candidates []model.Candidate) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(candidates))
	var enrichRows [][]any
	var bare []string
	for _, c := range candidates {
		g, err := pointEWKB(c.Latitude, c.Longitude)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: candidate %s", c.ID)
		}
		rows = append(rows, []any{c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.City, c.State,
			c.Latitude, c.Longitude, c.AssetValue, c.HasInsurance, c.DoNotCall, g, now})

		if c.Enrichment == nil {
			bare = append(bare, c.ID)
			continue
		}
		attrs, err := marshalAttrs(c.Enrichment.Attrs)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: candidate %s", c.ID)
		}
		var age *int32
		if c.Enrichment.Age != nil {
			a := int32(*c.Enrichment.Age)
			age = &a
		}
		enrichRows = append(enrichRows, []any{c.ID, c.Enrichment.Homeowner, c.Enrichment.Income,
			age, c.Enrichment.Children, attrs})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert candidates: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.BulkUpsertTx(ctx, tx, candidateUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert candidates")
	}
	if len(bare) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM candidate_enrichment WHERE candidate_id = ANY($1)`, bare); err != nil {
			return 0, eris.Wrap(err, "postgres: clear stale enrichment")
		}
	}
	if _, err := db.BulkUpsertTx(ctx, tx, enrichmentUpsert, enrichRows); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert enrichment")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert candidates: commit")
	}
	return n, nil
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, phone_number, verified, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.PhoneNumber, &u.Verified, &u.CreatedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get user %s", id)
	}
	return &u, nil
}

// ListUnverifiedUsers returns unverified users created at or after since,
// oldest first.
func (s *PostgresStore) ListUnverifiedUsers(ctx context.Context, since time.Time, limit int) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, phone_number, verified, created_at FROM users
		WHERE NOT verified AND created_at >= $1 ORDER BY created_at LIMIT $2`,
		since, listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unverified users")
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.PhoneNumber, &u.Verified, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "postgres: list unverified users iterate")
}

// --- Campaigns ---

func (s *PostgresStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO campaigns (id, event_id, tier, subject, body, target_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.EventID, c.Tier, c.Subject, c.Body, c.TargetCount, string(c.Status), c.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: create campaign %s", c.ID)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, eventID string) ([]model.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, tier, subject, body, target_count, status, created_at
		FROM campaigns WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list campaigns")
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var status string
		if err := rows.Scan(&c.ID, &c.EventID, &c.Tier, &c.Subject, &c.Body, &c.TargetCount, &status, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign")
		}
		c.Status = model.CampaignStatus(status)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list campaigns iterate")
}

// --- Reporting ---

const statsQuery = `SELECT
	(SELECT count(*) FROM events WHERE kind = 'earthquake'),
	(SELECT count(*) FROM events WHERE kind = 'weather'),
	(SELECT count(*) FROM candidates),
	(SELECT count(*) FROM candidates WHERE NOT has_insurance),
	(SELECT count(*) FROM campaigns)`

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	st := model.Stats{CampaignTiers: map[string]int{}}
	if err := s.pool.QueryRow(ctx, statsQuery).Scan(
		&st.Earthquakes, &st.WeatherEvents, &st.Candidates, &st.Uninsured, &st.Campaigns,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}

	rows, err := s.pool.Query(ctx, `SELECT tier, count(*) FROM campaigns GROUP BY tier`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: campaign tiers")
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan campaign tier")
		}
		st.CampaignTiers[tier] = n
	}
	return &st, eris.Wrap(rows.Err(), "postgres: campaign tiers iterate")
}

// --- helpers shared with SQLite ---

func buildEnrichment(homeowner *bool, income *float64, age *int32, children *bool, attrs []byte) (*model.Enrichment, error) {
	en := &model.Enrichment{Income: income, Children: children}
	if homeowner != nil {
		en.Homeowner = *homeowner
	}
	if age != nil {
		a := int(*age)
		en.Age = &a
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &en.Attrs); err != nil {
			return nil, eris.Wrap(err, "unmarshal enrichment attrs")
		}
		if len(en.Attrs) == 0 {
			en.Attrs = nil
		}
	}
	return en, nil
}

func marshalAttrs(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(attrs)
	return data, eris.Wrap(err, "marshal enrichment attrs")
}
