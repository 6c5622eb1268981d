package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

var errNoBackups = errors.New("no contract state backups available")

// backupSet names the timestamped copies of one database file:
// <dir>/<prefix>-<unix seconds><ext>.
type backupSet struct {
	dir    string
	prefix string
	ext    string
}

type backupInfo struct {
	path      string
	timestamp int64
}

func newBackupSet(dir, base string) backupSet {
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}
	return backupSet{dir: dir, prefix: prefix, ext: ext}
}

// list returns the backups oldest first.
func (b backupSet) list() ([]backupInfo, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var out []backupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, b.prefix+"-") || !strings.HasSuffix(name, b.ext) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, b.prefix+"-"), b.ext)
		ts, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}
		out = append(out, backupInfo{path: filepath.Join(b.dir, name), timestamp: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].timestamp == out[j].timestamp {
			return out[i].path < out[j].path
		}
		return out[i].timestamp < out[j].timestamp
	})
	return out, nil
}

// next returns an unused backup path for the current second or later.
func (b backupSet) next() string {
	ts := time.Now().Unix()
	for {
		path := filepath.Join(b.dir, fmt.Sprintf("%s-%d%s", b.prefix, ts, b.ext))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		ts++
	}
}

// prune keeps the newest keep backups.
func (b backupSet) prune(keep int) {
	if keep <= 0 {
		return
	}
	all, err := b.list()
	if err != nil || len(all) <= keep {
		return
	}
	for _, old := range all[:len(all)-keep] {
		_ = os.Remove(old.path)
	}
}

// Backups lists backup file paths, oldest first.
func (s *Store) Backups() ([]string, error) {
	all, err := s.backups.list()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(all))
	for _, b := range all {
		paths = append(paths, b.path)
	}
	return paths, nil
}

// BackupCurrent writes a snapshot of the database to a timestamped file and
// prunes old backups beyond maxBackups. It returns "" when there is no
// database file to back up.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	snapshot, err := s.ExportSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backups.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	path := s.backups.next()
	if err := os.WriteFile(path, snapshot, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	s.backups.prune(maxBackups)
	return path, nil
}

// ExportSnapshot returns a consistent copy of the current database contents.
func (s *Store) ExportSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.file); errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}
	if s.db == nil {
		return nil, errors.New("store is closed")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.file), "ccr-export-*.db")
	if err != nil {
		return nil, fmt.Errorf("create temp export file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	// VACUUM INTO refuses an existing target.
	os.Remove(tmpPath)
	defer os.Remove(tmpPath)

	escaped := strings.ReplaceAll(tmpPath, "'", "''")
	if _, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return nil, fmt.Errorf("vacuum into temp file: %w", err)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}
	return data, nil
}

// ImportSnapshot replaces the database with the given SQLite bytes. The
// previous database is moved into the backup set and its path returned.
func (s *Store) ImportSnapshot(data []byte, maxBackups int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("snapshot data is empty")
	}
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backups.dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.file), "ccr-import-*.db")
	if err != nil {
		return "", fmt.Errorf("create temp import file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write temp import file: %w", err)
	}
	tmp.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.closeDB()

	var previous string
	if _, err := os.Stat(s.file); err == nil {
		previous = s.backups.next()
		if err := os.Rename(s.file, previous); err != nil {
			os.Remove(tmpPath)
			_ = s.openDB()
			return "", fmt.Errorf("move existing db aside: %w", err)
		}
		for _, side := range []string{s.file + "-wal", s.file + "-shm"} {
			_ = os.Remove(side)
		}
	}

	restorePrevious := func() {
		if previous != "" {
			_ = os.Rename(previous, s.file)
		}
		_ = s.openDB()
	}

	if err := os.Rename(tmpPath, s.file); err != nil {
		os.Remove(tmpPath)
		restorePrevious()
		return "", fmt.Errorf("activate imported db: %w", err)
	}
	if err := s.openDB(); err != nil {
		restorePrevious()
		return "", fmt.Errorf("reopen db after import: %w", err)
	}
	if err := s.ensureSchema(); err != nil {
		return previous, err
	}

	s.backups.prune(maxBackups)
	s.notify()
	return previous, nil
}

func (s *Store) restoreLatestBackup() error {
	all, err := s.backups.list()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return errNoBackups
	}

	latest := all[len(all)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	return s.openDB()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
