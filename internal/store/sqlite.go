package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nextgenfi/targeting-cli/internal/geo"
	"github.com/nextgenfi/targeting-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The bounding box
// prefilter runs on indexed latitude/longitude columns instead of PostGIS.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	occurred_at DATETIME,
	latitude    REAL,
	longitude   REAL,
	magnitude   REAL,
	severity    TEXT NOT NULL DEFAULT '',
	event_type  TEXT NOT NULL DEFAULT '',
	place       TEXT NOT NULL DEFAULT '',
	depth_km    REAL,
	url         TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_kind_occurred ON events(kind, occurred_at);

CREATE TABLE IF NOT EXISTS candidates (
	id            TEXT PRIMARY KEY,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	latitude      REAL,
	longitude     REAL,
	asset_value   REAL NOT NULL DEFAULT 0,
	has_insurance BOOLEAN NOT NULL DEFAULT 0,
	do_not_call   BOOLEAN NOT NULL DEFAULT 0,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_candidates_lat_lon ON candidates(latitude, longitude);

CREATE TABLE IF NOT EXISTS candidate_enrichment (
	candidate_id TEXT PRIMARY KEY REFERENCES candidates(id) ON DELETE CASCADE,
	homeowner    BOOLEAN NOT NULL DEFAULT 0,
	income       REAL,
	age          INTEGER,
	children     BOOLEAN,
	attrs        TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	phone_number TEXT NOT NULL DEFAULT '',
	verified     BOOLEAN NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS campaigns (
	id           TEXT PRIMARY KEY,
	event_id     TEXT NOT NULL REFERENCES events(id),
	tier         TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL,
	body         TEXT NOT NULL,
	target_count INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'draft',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_campaigns_event_id ON campaigns(event_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Events ---

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanSQLiteEvent(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get event %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Since != nil {
		query += ` AND occurred_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY occurred_at IS NULL, occurred_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close() //nolint:errcheck

	var events []model.Event
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, *e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row rowScanner) (*model.Event, error) {
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

func (s *SQLiteStore) UpsertEvents(ctx context.Context, events []model.Event) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (`+eventColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				kind = excluded.kind, occurred_at = excluded.occurred_at,
				latitude = excluded.latitude, longitude = excluded.longitude,
				magnitude = excluded.magnitude, severity = excluded.severity,
				event_type = excluded.event_type, place = excluded.place,
				depth_km = excluded.depth_km, url = excluded.url, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close() //nolint:errcheck

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx, e.ID, string(e.Kind), utcPtr(e.OccurredAt), e.Latitude,
				e.Longitude, e.Magnitude, e.Severity, e.EventType, e.Place, e.DepthKM, e.URL, now); err != nil {
				return eris.Wrapf(err, "event %s", e.ID)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert events")
	}
	return n, nil
}

// --- Candidates ---

const sqliteCandidateBBoxQuery = `SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.city, c.state,
	c.latitude, c.longitude, c.asset_value, c.has_insurance, c.do_not_call, c.updated_at,
	e.candidate_id, e.homeowner, e.income, e.age, e.children, e.attrs
FROM candidates c
LEFT JOIN candidate_enrichment e ON e.candidate_id = c.id
WHERE c.latitude BETWEEN ? AND ?
	AND c.longitude BETWEEN ? AND ?
	AND c.asset_value >= ?
	AND (? = 0 OR c.asset_value <= ?)
	AND (? = 0 OR c.has_insurance = 0)
	AND (? = 0 OR COALESCE(e.homeowner, 0) = 1)
	AND (? = 0 OR c.do_not_call = 0)
ORDER BY c.id`

func (s *SQLiteStore) FindCandidatesInBoundingBox(ctx context.Context, box geo.BBox, filter model.CandidateFilter) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, sqliteCandidateBBoxQuery,
		box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
		filter.MinAssetValue, filter.MaxAssetValue, filter.MaxAssetValue,
		filter.RequireUninsured, filter.RequireHomeowner, filter.ExcludeDoNotCall,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var enrichedID, attrs sql.NullString
		var homeowner, children sql.NullBool
		var income sql.NullFloat64
		var age sql.NullInt32

		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.City, &c.State,
			&c.Latitude, &c.Longitude, &c.AssetValue, &c.HasInsurance, &c.DoNotCall, &c.UpdatedAt,
			&enrichedID, &homeowner, &income, &age, &children, &attrs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		if enrichedID.Valid {
			en, err := buildEnrichment(nullPtr(homeowner.Bool, homeowner.Valid), nullPtr(income.Float64, income.Valid),
				nullPtr(age.Int32, age.Valid), nullPtr(children.Bool, children.Valid), []byte(attrs.String))
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: candidate %s", c.ID)
			}
			c.Enrichment = en
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find candidates iterate")
}

func (s *SQLiteStore) UpsertCandidates(ctx context.Context, candidates []model.Candidate) (int64, error) {
	if len(candidates) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cand, err := tx.PrepareContext(ctx, `INSERT INTO candidates (id, first_name, last_name, email, phone,
				city, state, latitude, longitude, asset_value, has_insurance, do_not_call, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				first_name = excluded.first_name, last_name = excluded.last_name,
				email = excluded.email, phone = excluded.phone, city = excluded.city,
				state = excluded.state, latitude = excluded.latitude, longitude = excluded.longitude,
				asset_value = excluded.asset_value, has_insurance = excluded.has_insurance,
				do_not_call = excluded.do_not_call, updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer cand.Close() //nolint:errcheck

		enrich, err := tx.PrepareContext(ctx, `INSERT INTO candidate_enrichment
				(candidate_id, homeowner, income, age, children, attrs)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(candidate_id) DO UPDATE SET
				homeowner = excluded.homeowner, income = excluded.income, age = excluded.age,
				children = excluded.children, attrs = excluded.attrs`)
		if err != nil {
			return err
		}
		defer enrich.Close() //nolint:errcheck

		drop, err := tx.PrepareContext(ctx, `DELETE FROM candidate_enrichment WHERE candidate_id = ?`)
		if err != nil {
			return err
		}
		defer drop.Close() //nolint:errcheck

		for _, c := range candidates {
			if _, err := cand.ExecContext(ctx, c.ID, c.FirstName, c.LastName, c.Email, c.Phone, c.City,
				c.State, c.Latitude, c.Longitude, c.AssetValue, c.HasInsurance, c.DoNotCall, now); err != nil {
				return eris.Wrapf(err, "candidate %s", c.ID)
			}
			n++
			if c.Enrichment == nil {
				if _, err := drop.ExecContext(ctx, c.ID); err != nil {
					return eris.Wrapf(err, "clear enrichment %s", c.ID)
				}
				continue
			}
			attrs, err := marshalAttrs(c.Enrichment.Attrs)
			if err != nil {
				return eris.Wrapf(err, "candidate %s", c.ID)
			}
			if _, err := enrich.ExecContext(ctx, c.ID, c.Enrichment.Homeowner, c.Enrichment.Income,
				c.Enrichment.Age, c.Enrichment.Children, string(attrs)); err != nil {
				return eris.Wrapf(err, "enrichment %s", c.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert candidates")
	}
	return n, nil
}

// --- Users ---

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone_number, verified, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.PhoneNumber, &u.Verified, &u.CreatedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get user %s", id)
	}
	return &u, nil
}

func (s *SQLiteStore) ListUnverifiedUsers(ctx context.Context, since time.Time, limit int) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone_number, verified, created_at FROM users
		WHERE verified = 0 AND created_at >= ? ORDER BY created_at LIMIT ?`,
		since.UTC(), listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unverified users")
	}
	defer rows.Close() //nolint:errcheck

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.PhoneNumber, &u.Verified, &u.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "sqlite: list unverified users iterate")
}

// CreateUser inserts a user. Only tests and local seeding use it; in
// production users arrive from the signup service.
func (s *SQLiteStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, phone_number, verified, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.PhoneNumber, u.Verified, u.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create user %s", u.ID)
}

// --- Campaigns ---

func (s *SQLiteStore) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (id, event_id, tier, subject, body, target_count, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EventID, c.Tier, c.Subject, c.Body, c.TargetCount, string(c.Status), c.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: create campaign %s", c.ID)
}

func (s *SQLiteStore) ListCampaigns(ctx context.Context, eventID string) ([]model.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, tier, subject, body, target_count, status, created_at
		FROM campaigns WHERE event_id = ? ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list campaigns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Campaign
	for rows.Next() {
		var c model.Campaign
		var status string
		if err := rows.Scan(&c.ID, &c.EventID, &c.Tier, &c.Subject, &c.Body, &c.TargetCount, &status, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign")
		}
		c.Status = model.CampaignStatus(status)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list campaigns iterate")
}

// --- Reporting ---

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	st := model.Stats{CampaignTiers: map[string]int{}}
	if err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT count(*) FROM events WHERE kind = 'earthquake'),
		(SELECT count(*) FROM events WHERE kind = 'weather'),
		(SELECT count(*) FROM candidates),
		(SELECT count(*) FROM candidates WHERE has_insurance = 0),
		(SELECT count(*) FROM campaigns)`).Scan(
		&st.Earthquakes, &st.WeatherEvents, &st.Candidates, &st.Uninsured, &st.Campaigns,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tier, count(*) FROM campaigns GROUP BY tier`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: campaign tiers")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan campaign tier")
		}
		st.CampaignTiers[tier] = n
	}
	return &st, eris.Wrap(rows.Err(), "sqlite: campaign tiers iterate")
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "commit")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullPtr[T any](v T, valid bool) *T {
	if !valid {
		return nil
	}
	return &v
}
