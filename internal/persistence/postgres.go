package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/samber/oops"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// execer is the database/sql surface the sink needs; *sql.DB satisfies
// it.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresSink writes every event into server_events and additionally
// breaks teamkills out into teamkill_incidents for the audit log.
type PostgresSink struct {
	db      execer
	closer  func() error
	builder sq.StatementBuilderType
}

// OpenPostgresSink connects, runs pending migrations and returns the
// sink.
func OpenPostgresSink(dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, oops.In("persistence").Wrapf(err, "open postgres")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, oops.In("persistence").Wrapf(err, "ping postgres")
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresSink(db, db.Close), nil
}

// NewPostgresSink wraps an already opened connection. closer may be
// nil.
func NewPostgresSink(db execer, closer func() error) *PostgresSink {
	return &PostgresSink{
		db:      db,
		closer:  closer,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return oops.In("persistence").Wrapf(err, "load migrations")
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return oops.In("persistence").Wrapf(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return oops.In("persistence").Wrapf(err, "migrate instance")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.In("persistence").Wrapf(err, "apply migrations")
	}
	return nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, e event_manager.Event) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return oops.In("persistence").Wrapf(err, "marshal %s payload", e.Type)
	}

	query, args, err := s.builder.
		Insert("server_events").
		Columns("id", "event_type", "payload", "raw", "occurred_at").
		Values(e.ID, string(e.Type), payload, e.Raw, e.Timestamp).
		ToSql()
	if err != nil {
		return oops.In("persistence").Wrapf(err, "build insert")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return oops.In("persistence").Wrapf(err, "insert %s", e.Type)
	}

	if tk, ok := e.Data.(*event_manager.LogTeamkillData); ok {
		return s.writeTeamkill(ctx, e, tk)
	}
	return nil
}

func (s *PostgresSink) writeTeamkill(ctx context.Context, e event_manager.Event, tk *event_manager.LogTeamkillData) error {
	query, args, err := s.builder.
		Insert("teamkill_incidents").
		Columns("id", "victim_name", "attacker_name", "attacker_eos", "attacker_steam", "weapon", "damage", "occurred_at").
		Values(e.ID, tk.VictimName, tk.AttackerName, tk.AttackerEOS, tk.AttackerSteam, tk.Weapon, tk.Damage, tk.Time).
		ToSql()
	if err != nil {
		return oops.In("persistence").Wrapf(err, "build teamkill insert")
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return oops.In("persistence").Wrapf(err, "insert teamkill")
	}
	return nil
}

func (s *PostgresSink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
