package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/decred/slog"
)

// Subsystem tags used across the node.
const (
	TagChain      = "CHAN"
	TagABCI       = "ABCI"
	TagStore      = "STOR"
	TagAPI        = "API"
	TagWeb        = "WEB"
	TagMDNS       = "MDNS"
	TagTendermint = "TMNT"
	TagMain       = "CCR"
)

var (
	backendMu  sync.Mutex
	backend    = slog.NewBackend(os.Stdout)
	level      = slog.LevelInfo
	subsystems = make(map[string]slog.Logger)
)

// SetOutput redirects every subsystem logger created afterwards to w.
// Loggers already handed out keep writing where they were created.
func SetOutput(w io.Writer) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = slog.NewBackend(w)
	subsystems = make(map[string]slog.Logger)
}

// Subsystem returns the logger for tag, creating it at the current level.
func Subsystem(tag string) slog.Logger {
	backendMu.Lock()
	defer backendMu.Unlock()
	if l, ok := subsystems[tag]; ok {
		return l
	}
	l := backend.Logger(tag)
	l.SetLevel(level)
	subsystems[tag] = l
	return l
}

// SetLevel parses a level name (trace, debug, info, warn, error, critical,
// off) and applies it to all subsystems.
func SetLevel(name string) error {
	lvl, ok := slog.LevelFromString(name)
	if !ok {
		return fmt.Errorf("unknown log level %q", name)
	}
	backendMu.Lock()
	defer backendMu.Unlock()
	level = lvl
	for _, l := range subsystems {
		l.SetLevel(lvl)
	}
	return nil
}

// Subsystems lists the tags created so far.
func Subsystems() []string {
	backendMu.Lock()
	defer backendMu.Unlock()
	tags := make([]string, 0, len(subsystems))
	for t := range subsystems {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
