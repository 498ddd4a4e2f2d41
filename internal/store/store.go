package store

import (
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Option holds the postgres connection parameters, kept almost verbatim
// since the connection concern does not change with the domain.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	host := opt.Host
	if host == "" {
		host = defaultHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	for k, v := range opt.Params {
		if k == "" {
			continue
		}
		query.Set(k, v)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// Store wraps the gorm connection pool and every operation this module
// needs against Postgres.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and returns a Store.
func Open(opt Option) (*Store, error) {
	dsn, err := opt.dsn()
	if err != nil {
		return nil, err
	}
	cfg := opt.Config
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying *gorm.DB for packages that need raw access
// (e.g. tests seeding fixtures).
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate runs AutoMigrate across every managed table, plus two
// constraints AutoMigrate cannot express as struct tags: the partial
// unique index enforcing LIVE run exclusivity (at most one ARMED or
// RUNNING run per engine in LIVE mode), and the broker_order_map ->
// oms_outbox foreign key with ON DELETE RESTRICT, so a map row can never
// exist for an intent that was never durably enqueued and an outbox row
// with a live mapping can never be purged out from under it (map rows are
// removed first, on terminal cleanup).
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return err
	}
	if err := s.db.Exec(`
		create unique index if not exists uq_live_engine_active_run
		on runs (engine_id)
		where mode = 'LIVE' and status in ('ARMED', 'RUNNING')
	`).Error; err != nil {
		return err
	}
	return s.db.Exec(`
		do $$ begin
			if not exists (
				select 1 from pg_constraint where conname = 'fk_broker_map_outbox'
			) then
				alter table broker_order_map
					add constraint fk_broker_map_outbox
					foreign key (internal_id)
					references oms_outbox (idempotency_key)
					on delete restrict;
			end if;
		end $$
	`).Error
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
