package repositories

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err, "open sqlite")
	return db
}

func mustExec(t *testing.T, db *gorm.DB, q string, args ...interface{}) {
	t.Helper()
	require.NoError(t, db.Exec(q, args...).Error, "exec failed: query=%s", q)
}

func createBatchTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE batches (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL UNIQUE,
		token_id INTEGER UNIQUE,
		ledger_address TEXT,
		drug_name TEXT NOT NULL,
		manufacturer TEXT NOT NULL,
		manufacturer_name TEXT,
		manufacturing_date DATETIME NOT NULL,
		expiry_date DATETIME NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 1,
		current_owner TEXT NOT NULL,
		owner_role TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata_hash TEXT NOT NULL,
		metadata_uri TEXT,
		qa_certificate_hash TEXT,
		is_counterfeit BOOLEAN NOT NULL DEFAULT 0,
		needs_enrichment BOOLEAN NOT NULL DEFAULT 0,
		parent_batch_id INTEGER,
		child_batch_ids TEXT,
		history TEXT,
		qr_data TEXT,
		qr_signature TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	);`)
}

func createLedgerEventTable(t *testing.T, db *gorm.DB) {
	mustExec(t, db, `CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		event_key TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		token_id INTEGER,
		tx_hash TEXT,
		block_number INTEGER,
		log_index INTEGER,
		outcome TEXT NOT NULL,
		error TEXT,
		attempts INTEGER NOT NULL DEFAULT 1,
		payload TEXT,
		created_at DATETIME
	);`)
}
