package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresProvider implements IterableProvider on a single key-value table.
// It exists for deployments that already run postgres; the data model is
// identical to the embedded backends.
type PostgresProvider struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS bankd_kv (
	key   BYTEA PRIMARY KEY,
	value BYTEA NOT NULL
)`

func NewPostgresProvider(dsn string) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure kv table: %w", err)
	}
	return &PostgresProvider{db: db}, nil
}

func (p *PostgresProvider) Get(key []byte) ([]byte, error) {
	var value []byte
	err := p.db.QueryRow(`SELECT value FROM bankd_kv WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *PostgresProvider) Put(key, value []byte) error {
	_, err := p.db.Exec(
		`INSERT INTO bankd_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return err
}

func (p *PostgresProvider) Delete(key []byte) error {
	_, err := p.db.Exec(`DELETE FROM bankd_kv WHERE key = $1`, key)
	return err
}

func (p *PostgresProvider) Has(key []byte) (bool, error) {
	var exists bool
	err := p.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM bankd_kv WHERE key = $1)`, key).Scan(&exists)
	return exists, err
}

func (p *PostgresProvider) Close() error {
	return p.db.Close()
}

func (p *PostgresProvider) Batch() DatabaseBatch {
	return &postgresBatch{provider: p}
}

func (p *PostgresProvider) IteratePrefix(prefix []byte, callback func(key, value []byte) bool) error {
	// Upper bound on the prefix range; a prefix of all 0xff bytes has no
	// upper bound and falls back to a full ordered scan.
	upper := prefixUpperBound(prefix)

	var rows *sql.Rows
	var err error
	if upper == nil {
		rows, err = p.db.Query(`SELECT key, value FROM bankd_kv WHERE key >= $1 ORDER BY key`, prefix)
	} else {
		rows, err = p.db.Query(`SELECT key, value FROM bankd_kv WHERE key >= $1 AND key < $2 ORDER BY key`, prefix, upper)
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		if !callback(key, value) {
			break
		}
	}
	return rows.Err()
}

func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

type postgresBatch struct {
	provider *PostgresProvider
	ops      []postgresOp
}

type postgresOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *postgresBatch) Put(key, value []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	v := make([]byte, len(value))
	copy(v, value)
	b.ops = append(b.ops, postgresOp{key: k, value: v})
}

func (b *postgresBatch) Delete(key []byte) {
	k := make([]byte, len(key))
	copy(k, key)
	b.ops = append(b.ops, postgresOp{key: k, delete: true})
}

// Write commits the whole batch inside one sql transaction.
func (b *postgresBatch) Write() error {
	tx, err := b.provider.db.Begin()
	if err != nil {
		return err
	}
	for _, op := range b.ops {
		if op.delete {
			_, err = tx.Exec(`DELETE FROM bankd_kv WHERE key = $1`, op.key)
		} else {
			_, err = tx.Exec(
				`INSERT INTO bankd_kv (key, value) VALUES ($1, $2)
				 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
				op.key, op.value,
			)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to write postgres batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.ops = nil
	return nil
}

func (b *postgresBatch) Reset() {
	b.ops = nil
}

func (b *postgresBatch) Close() {
	b.ops = nil
}
