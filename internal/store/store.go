// Package store persists contract ledgers in SQLite. Each contract instance
// gets its own admin row and coin rows keyed by the instance address, and
// every contract call runs inside one SQL transaction so a rejected call
// leaves no trace on disk.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"coinredeem.mini/ccr/internal/ledger"
	"coinredeem.mini/ccr/internal/types"

	_ "modernc.org/sqlite"
)

const (
	defaultDBFile        = "ccr.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

// Store manages contract state persistence to a SQLite database file.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	file    string
	backups backupSet
	updates chan struct{}
}

// Option adjusts a Store before its database is opened.
type Option func(*Store)

// WithBackupDir keeps backups in dir. A relative dir is taken relative to
// the database file.
func WithBackupDir(dir string) Option {
	return func(s *Store) {
		if dir == "" {
			return
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(filepath.Dir(s.file), dir)
		}
		s.backups.dir = dir
	}
}

// NewStore opens (or creates) the database at filePath. A database that
// cannot be opened is replaced by the newest backup, or by an empty one
// when no backup exists.
func NewStore(filePath string, opts ...Option) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:    absPath,
		backups: newBackupSet(filepath.Join(filepath.Dir(absPath), defaultBackupDirName), filepath.Base(absPath)),
		updates: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.backups.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	if err := s.openOrRecover(); err != nil {
		return nil, err
	}

	return s, nil
}

// Updates returns a channel that receives a value whenever a call commits.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Path returns the absolute database path.
func (s *Store) Path() string { return s.file }

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) openOrRecover() error {
	err := s.openDB()
	if err == nil {
		err = s.ensureSchema()
	}
	if err == nil {
		return nil
	}

	openErr := err
	_ = s.closeDB()
	if err := s.restoreLatestBackup(); err != nil {
		if !errors.Is(err, errNoBackups) {
			return fmt.Errorf("restore database after %v: %w", openErr, err)
		}
		if err := s.resetDatabaseFiles(); err != nil {
			return fmt.Errorf("reset database after %v: %w", openErr, err)
		}
		if err := s.openDB(); err != nil {
			return fmt.Errorf("create fresh database after %v: %w", openErr, err)
		}
	}
	return s.ensureSchema()
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return firstErr
}

func (s *Store) ensureSchema() error {
	stmts := []struct{ name, sql string }{
		{"instances", `CREATE TABLE IF NOT EXISTS instances (
			contract_index INTEGER NOT NULL,
			contract_subindex INTEGER NOT NULL,
			admin BLOB NOT NULL,
			PRIMARY KEY (contract_index, contract_subindex)
		)`},
		{"coins", `CREATE TABLE IF NOT EXISTS coins (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			contract_index INTEGER NOT NULL,
			contract_subindex INTEGER NOT NULL,
			public_key BLOB NOT NULL,
			amount INTEGER NOT NULL,
			is_redeemed INTEGER NOT NULL DEFAULT 0,
			UNIQUE (contract_index, contract_subindex, public_key)
		)`},
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st.sql); err != nil {
			return fmt.Errorf("create %s table: %w", st.name, err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// Instances lists the contract addresses that have state in the database.
func (s *Store) Instances() ([]types.ContractAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT contract_index, contract_subindex FROM instances
		ORDER BY contract_index, contract_subindex`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []types.ContractAddress
	for rows.Next() {
		var idx, sub int64
		if err := rows.Scan(&idx, &sub); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, types.ContractAddress{Index: uint64(idx), Subindex: uint64(sub)})
	}
	return out, rows.Err()
}

// Instance returns the ledger backend of one contract instance.
func (s *Store) Instance(addr types.ContractAddress) ledger.Backend {
	return &instanceBackend{store: s, addr: addr}
}

type instanceBackend struct {
	store *Store
	addr  types.ContractAddress
}

// Begin starts a SQL transaction. The store read lock is held until the
// transaction finishes so a snapshot import cannot swap the database
// underneath a running call.
func (b *instanceBackend) Begin(ctx context.Context) (ledger.Txn, error) {
	s := b.store
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, errors.New("store is closed")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTxn{
		store: s,
		tx:    tx,
		index: int64(b.addr.Index),
		sub:   int64(b.addr.Subindex),
	}, nil
}

type sqlTxn struct {
	store *Store
	tx    *sql.Tx
	index int64
	sub   int64
	dirty bool
	done  bool
}

func (t *sqlTxn) Admin() (types.AccountAddress, error) {
	var a types.AccountAddress
	if t.done {
		return a, ledger.ErrTxnDone
	}
	var raw []byte
	err := t.tx.QueryRow(`SELECT admin FROM instances WHERE contract_index = ? AND contract_subindex = ?`,
		t.index, t.sub).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return a, fmt.Errorf("select admin: %w", err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("stored admin has %d bytes", len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

func (t *sqlTxn) SetAdmin(a types.AccountAddress) error {
	if t.done {
		return ledger.ErrTxnDone
	}
	_, err := t.tx.Exec(`INSERT INTO instances (contract_index, contract_subindex, admin)
		VALUES (?, ?, ?)
		ON CONFLICT(contract_index, contract_subindex) DO UPDATE SET admin = excluded.admin`,
		t.index, t.sub, a[:])
	if err != nil {
		return fmt.Errorf("upsert admin: %w", err)
	}
	t.dirty = true
	return nil
}

func (t *sqlTxn) Coin(key types.PublicKey) (types.CoinState, bool, error) {
	var c types.CoinState
	if t.done {
		return c, false, ledger.ErrTxnDone
	}
	var amount int64
	var redeemed bool
	err := t.tx.QueryRow(`SELECT amount, is_redeemed FROM coins
		WHERE contract_index = ? AND contract_subindex = ? AND public_key = ?`,
		t.index, t.sub, key[:]).Scan(&amount, &redeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return c, false, fmt.Errorf("select coin: %w", err)
	}
	c.Amount = types.Amount(uint64(amount))
	c.IsRedeemed = redeemed
	return c, true, nil
}

// InsertCoin stores amounts bit-for-bit in a signed INTEGER column.
func (t *sqlTxn) InsertCoin(key types.PublicKey, c types.CoinState) error {
	if t.done {
		return ledger.ErrTxnDone
	}
	_, err := t.tx.Exec(`INSERT INTO coins (contract_index, contract_subindex, public_key, amount, is_redeemed)
		VALUES (?, ?, ?, ?, ?)`, t.index, t.sub, key[:], int64(c.Amount), c.IsRedeemed)
	if err != nil {
		return fmt.Errorf("insert coin: %w", err)
	}
	t.dirty = true
	return nil
}

func (t *sqlTxn) UpdateCoin(key types.PublicKey, c types.CoinState) error {
	if t.done {
		return ledger.ErrTxnDone
	}
	res, err := t.tx.Exec(`UPDATE coins SET amount = ?, is_redeemed = ?
		WHERE contract_index = ? AND contract_subindex = ? AND public_key = ?`,
		int64(c.Amount), c.IsRedeemed, t.index, t.sub, key[:])
	if err != nil {
		return fmt.Errorf("update coin: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ledger.ErrCoinNotFound
	}
	t.dirty = true
	return nil
}

func (t *sqlTxn) Coins() ([]types.CoinView, error) {
	if t.done {
		return nil, ledger.ErrTxnDone
	}
	rows, err := t.tx.Query(`SELECT public_key, amount, is_redeemed FROM coins
		WHERE contract_index = ? AND contract_subindex = ? ORDER BY seq`, t.index, t.sub)
	if err != nil {
		return nil, fmt.Errorf("list coins: %w", err)
	}
	defer rows.Close()

	out := []types.CoinView{}
	for rows.Next() {
		var raw []byte
		var amount int64
		var redeemed bool
		if err := rows.Scan(&raw, &amount, &redeemed); err != nil {
			return nil, fmt.Errorf("scan coin: %w", err)
		}
		var v types.CoinView
		if len(raw) != len(v.PublicKey) {
			return nil, fmt.Errorf("stored coin key has %d bytes", len(raw))
		}
		copy(v.PublicKey[:], raw)
		v.Amount = types.Amount(uint64(amount))
		v.IsRedeemed = redeemed
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *sqlTxn) Commit() error {
	if t.done {
		return ledger.ErrTxnDone
	}
	t.done = true
	defer t.store.mu.RUnlock()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if t.dirty {
		t.store.notify()
	}
	return nil
}

func (t *sqlTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.mu.RUnlock()
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
