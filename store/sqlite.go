package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"kegbotd/errcode"
	"kegbotd/types"
)

var (
	_ KeyStore    = (*SQLite)(nil)
	_ UserStore   = (*SQLite)(nil)
	_ GrantStore  = (*SQLite)(nil)
	_ KegStore    = (*SQLite)(nil)
	_ DrinkStore  = (*SQLite)(nil)
	_ ThermoStore = (*SQLite)(nil)
)

// TableNames carries the DB.* config keys naming each table, so one schema
// can be renamed per deployment the way the original ConfigParser-driven
// setup allowed.
type TableNames struct {
	Drink  string
	User   string
	Key    string
	Policy string
	Grant  string
	Keg    string
	Thermo string
}

// SQLite is the concrete, runnable backing for every store interface in
// this package. The core never holds a *SQLite directly; it is always
// injected behind the narrower interfaces.
type SQLite struct {
	db     *sql.DB
	tables TableNames
}

// Open opens (creating if absent) a SQLite database file and ensures the
// configured tables exist.
func Open(path string, tables TableNames) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "open sqlite database", err)
	}
	s := &SQLite{db: db, tables: tables}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			token_id INTEGER PRIMARY KEY,
			user_id  INTEGER NOT NULL
		)`, s.tables.Key),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id     INTEGER PRIMARY KEY,
			name   TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 0,
			gender TEXT NOT NULL DEFAULT 'male'
		)`, s.tables.User),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                  INTEGER PRIMARY KEY,
			description         TEXT NOT NULL,
			unit_cost_per_ounce REAL NOT NULL
		)`, s.tables.Policy),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id               INTEGER PRIMARY KEY,
			user_id          INTEGER NOT NULL,
			policy_id        INTEGER NOT NULL,
			remaining_ounces REAL NOT NULL,
			expires_at       DATETIME
		)`, s.tables.Grant),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                   INTEGER PRIMARY KEY,
			alcohol_content_pct  REAL NOT NULL,
			ticks_per_ounce      REAL NOT NULL,
			is_current           INTEGER NOT NULL DEFAULT 0
		)`, s.tables.Keg),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			user_id     INTEGER NOT NULL,
			keg_id      INTEGER NOT NULL,
			total_ticks INTEGER NOT NULL,
			ounces      REAL NOT NULL,
			bac         REAL NOT NULL,
			poured_at   DATETIME NOT NULL
		)`, s.tables.Drink),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			state      TEXT NOT NULL,
			temp_c     REAL NOT NULL,
			logged_at  DATETIME NOT NULL
		)`, s.tables.Thermo),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errcode.Wrap(errcode.StoreError, "migrate schema", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// KeyStore
// -----------------------------------------------------------------------------

func (s *SQLite) KnownKey(tokenID uint64) bool {
	_, ok := s.GetKey(tokenID)
	return ok
}

func (s *SQLite) GetKey(tokenID uint64) (*types.Key, bool) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT token_id, user_id FROM %s WHERE token_id = ?`, s.tables.Key), tokenID)
	var k types.Key
	if err := row.Scan(&k.TokenID, &k.UserID); err != nil {
		return nil, false
	}
	return &k, true
}

// -----------------------------------------------------------------------------
// UserStore
// -----------------------------------------------------------------------------

func (s *SQLite) GetUser(ownerID int64) (*types.User, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT id, name, weight, gender FROM %s WHERE id = ?`, s.tables.User), ownerID)
	var u types.User
	if err := row.Scan(&u.ID, &u.Name, &u.Weight, &u.Gender); err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "get user", err)
	}
	return &u, nil
}

func (s *SQLite) AddUser(name string, weight float64, gender types.Gender) (*types.User, error) {
	res, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %s (name, weight, gender) VALUES (?, ?, ?)`, s.tables.User),
		name, weight, string(gender))
	if err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "add user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "add user", err)
	}
	return &types.User{ID: id, Name: name, Weight: weight, Gender: gender}, nil
}

// -----------------------------------------------------------------------------
// GrantStore
// -----------------------------------------------------------------------------

func (s *SQLite) GetGrants(user *types.User) ([]*types.Grant, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT g.id, g.user_id, g.remaining_ounces, g.expires_at,
		       p.id, p.description, p.unit_cost_per_ounce
		FROM %s g JOIN %s p ON g.policy_id = p.id
		WHERE g.user_id = ? AND g.remaining_ounces > 0`, s.tables.Grant, s.tables.Policy), user.ID)
	if err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "get grants", err)
	}
	defer rows.Close()

	var out []*types.Grant
	for rows.Next() {
		g := &types.Grant{}
		var expiresAt sql.NullTime
		if err := rows.Scan(&g.ID, &g.UserID, &g.RemainingOunces, &expiresAt,
			&g.Policy.ID, &g.Policy.Description, &g.Policy.UnitCostPerOunce); err != nil {
			return nil, errcode.Wrap(errcode.StoreError, "scan grant", err)
		}
		if expiresAt.Valid {
			g.ExpiresAt = expiresAt.Time
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// OrderGrants sorts grants cheapest-unit-cost first, ties broken by grant
// ID, matching the policy priority ordering PourSession relies on to pick
// the next grant.
func (s *SQLite) OrderGrants(grants []*types.Grant) []*types.Grant {
	sorted := make([]*types.Grant, len(grants))
	copy(sorted, grants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Policy.UnitCostPerOunce != sorted[j].Policy.UnitCostPerOunce {
			return sorted[i].Policy.UnitCostPerOunce < sorted[j].Policy.UnitCostPerOunce
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func (s *SQLite) SpendGrant(grantID int64, ouncesSpent float64) error {
	_, err := s.db.Exec(fmt.Sprintf(`UPDATE %s SET remaining_ounces = MAX(0, remaining_ounces - ?) WHERE id = ?`, s.tables.Grant),
		ouncesSpent, grantID)
	if err != nil {
		return errcode.Wrap(errcode.StoreError, "spend grant", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// KegStore
// -----------------------------------------------------------------------------

func (s *SQLite) GetCurrentKeg() (*types.Keg, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT id, alcohol_content_pct, ticks_per_ounce FROM %s WHERE is_current = 1 LIMIT 1`, s.tables.Keg))
	var k types.Keg
	if err := row.Scan(&k.ID, &k.AlcoholContentPct, &k.TicksPerOunce); err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "get current keg", err)
	}
	return &k, nil
}

// -----------------------------------------------------------------------------
// DrinkStore
// -----------------------------------------------------------------------------

func (s *SQLite) GetLastDrink(userID int64) (float64, time.Time, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT bac, poured_at FROM %s WHERE user_id = ? ORDER BY poured_at DESC LIMIT 1`, s.tables.Drink), userID)
	var bac float64
	var at time.Time
	if err := row.Scan(&bac, &at); err != nil {
		if err == sql.ErrNoRows {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, errcode.Wrap(errcode.StoreError, "get last drink", err)
	}
	return bac, at, nil
}

func (s *SQLite) RecordDrink(recordID string, userID int64, kegID int64, totalTicks uint32, ounces float64, bac float64, at time.Time) error {
	_, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %s (id, user_id, keg_id, total_ticks, ounces, bac, poured_at) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.tables.Drink),
		recordID, userID, kegID, totalTicks, ounces, bac, at)
	if err != nil {
		return errcode.Wrap(errcode.StoreError, "record drink", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// ThermoStore
// -----------------------------------------------------------------------------

func (s *SQLite) LogTransition(state types.FridgeState, tempC float64, at time.Time) error {
	_, err := s.db.Exec(fmt.Sprintf(`INSERT INTO %s (state, temp_c, logged_at) VALUES (?, ?, ?)`, s.tables.Thermo),
		state.String(), tempC, at)
	if err != nil {
		return errcode.Wrap(errcode.StoreError, "log thermo transition", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// SQL log sink
// -----------------------------------------------------------------------------

// SQLLogHook is a logrus.Hook that inserts every log entry into a table in
// the same SQLite database, the Go equivalent of the original daemon's
// optional Logging.use_sql handler. Failures to insert are not retried or
// escalated — losing a log line must never take down the process that
// produced it.
type SQLLogHook struct {
	db    *sql.DB
	table string
}

var _ logrus.Hook = (*SQLLogHook)(nil)

// NewLogHook prepares table (creating it if absent) and returns a hook
// that writes every fired entry into it.
func (s *SQLite) NewLogHook(table string) (*SQLLogHook, error) {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		level     TEXT NOT NULL,
		component TEXT NOT NULL DEFAULT '',
		message   TEXT NOT NULL,
		logged_at DATETIME NOT NULL
	)`, table)
	if _, err := s.db.Exec(stmt); err != nil {
		return nil, errcode.Wrap(errcode.StoreError, "create log table", err)
	}
	return &SQLLogHook{db: s.db, table: table}, nil
}

// Levels reports every level the hook wants, matching the original
// handler's unfiltered logger.addHandler behavior.
func (h *SQLLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire persists one log entry. A returned error is reported by logrus
// itself (to stderr) and never propagates back into the caller that logged
// the original entry.
func (h *SQLLogHook) Fire(entry *logrus.Entry) error {
	component, _ := entry.Data["component"].(string)
	_, err := h.db.Exec(fmt.Sprintf(`INSERT INTO %s (level, component, message, logged_at) VALUES (?, ?, ?, ?)`, h.table),
		entry.Level.String(), component, entry.Message, entry.Time)
	if err != nil {
		return errcode.Wrap(errcode.StoreError, "write log entry", err)
	}
	return nil
}
