package database

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/juntapay/junta/config"
	"github.com/juntapay/junta/internal/cache"
)

// Datasource is the Postgres-backed implementation of IDataSource. Instances
// are created per caller and injected; there is no package-level connection.
type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}

	cacheInstance, err := cache.NewCache()
	if err != nil {
		// Degrade to uncached reads rather than failing startup.
		log.Printf("Error creating cache: %v", err)
		cacheInstance = nil
	}
	return &Datasource{Conn: con, Cache: cacheInstance}, nil
}

// NewDataSourceWithCache wires a cache into the datasource for hot pool reads.
func NewDataSourceWithCache(configuration *config.Configuration, c cache.Cache) (IDataSource, error) {
	con, err := ConnectDB(configuration.DataSource.Dns)
	if err != nil {
		return nil, err
	}
	return &Datasource{Conn: con, Cache: c}, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	if err := createPoolTables(db); err != nil {
		return nil, err
	}
	if err := createAuthorizationTable(db); err != nil {
		return nil, err
	}
	if err := createCollectionTable(db); err != nil {
		return nil, err
	}
	if err := createLedgerTable(db); err != nil {
		return nil, err
	}
	if err := createAuditTable(db); err != nil {
		return nil, err
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS junta`)
	return err
}

func createPoolTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS junta.pools (
			id SERIAL PRIMARY KEY,
			pool_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			contribution_amount NUMERIC(20,4) NOT NULL,
			currency TEXT NOT NULL,
			frequency TEXT NOT NULL CHECK (frequency IN ('weekly', 'biweekly', 'monthly')),
			current_round INT NOT NULL DEFAULT 1,
			total_rounds INT NOT NULL,
			balance NUMERIC(20,4) NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			next_due_date TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS junta.pool_members (
			id SERIAL PRIMARY KEY,
			member_id TEXT NOT NULL,
			pool_id TEXT NOT NULL REFERENCES junta.pools(pool_id),
			name TEXT,
			position INT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			payout_received BOOLEAN NOT NULL DEFAULT FALSE,
			recipient_ref TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (pool_id, member_id),
			UNIQUE (pool_id, position)
		)
	`)
	return err
}

func createAuthorizationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS junta.payment_authorizations (
			id SERIAL PRIMARY KEY,
			authorization_id TEXT NOT NULL UNIQUE,
			pool_id TEXT NOT NULL REFERENCES junta.pools(pool_id),
			member_id TEXT NOT NULL,
			customer_ref TEXT NOT NULL,
			method_ref TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			consecutive_failures INT NOT NULL DEFAULT 0,
			last_success_at TIMESTAMP,
			last_failure_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (pool_id, member_id)
		)
	`)
	return err
}

func createCollectionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS junta.collections (
			id SERIAL PRIMARY KEY,
			collection_id TEXT NOT NULL UNIQUE,
			pool_id TEXT NOT NULL REFERENCES junta.pools(pool_id),
			member_id TEXT NOT NULL,
			round INT NOT NULL,
			amount NUMERIC(20,4) NOT NULL,
			currency TEXT NOT NULL,
			due_date TIMESTAMP NOT NULL,
			grace_hours INT NOT NULL DEFAULT 0,
			eligible_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL DEFAULT 'SCHEDULED',
			attempt_count INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			next_retry_at TIMESTAMP,
			attempts JSONB NOT NULL DEFAULT '[]',
			last_failure_reason TEXT,
			last_idempotency_key TEXT,
			processed_at TIMESTAMP,
			cancelled_by TEXT,
			cancel_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	return err
}

func createLedgerTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS junta.ledger_entries (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			pool_id TEXT NOT NULL REFERENCES junta.pools(pool_id),
			member_id TEXT,
			round INT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('CONTRIBUTION', 'PAYOUT')),
			status TEXT NOT NULL DEFAULT 'PENDING',
			amount NUMERIC(20,4) NOT NULL,
			currency TEXT NOT NULL,
			gateway_ref TEXT,
			source TEXT NOT NULL DEFAULT 'auto',
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			settled_at TIMESTAMP,
			UNIQUE (type, gateway_ref)
		)
	`)
	return err
}

func createAuditTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS junta.audit_logs (
			id SERIAL PRIMARY KEY,
			audit_id TEXT NOT NULL UNIQUE,
			pool_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target_id TEXT,
			details JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
