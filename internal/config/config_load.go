package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Load reads a JSON5 config file at path, falling back to defaults when the
// file does not exist, then overlays environment variables on top —
// mirroring goclaw's config_load.go file-then-env precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.normalize()
	return cfg, nil
}

// applyEnvOverrides overlays environment variables onto an already-loaded
// Config. Each setting is read under both its TERMINUS_-prefixed name and
// the bare spec.md name, for drop-in compatibility with the Python
// runtime's env surface; the TERMINUS_ prefixed form wins when both are set.
func applyEnvOverrides(cfg *Config) {
	envInt := func(names []string, dst *int) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				if iv, err := strconv.Atoi(v); err == nil {
					*dst = iv
				}
				return
			}
		}
	}
	envFloat := func(names []string, dst *float64) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				if fv, err := strconv.ParseFloat(v, 64); err == nil {
					*dst = fv
				}
				return
			}
		}
	}
	envBool := func(names []string, dst *bool) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					*dst = bv
				}
				return
			}
		}
	}
	envStr := func(names []string, dst *string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				*dst = v
				return
			}
		}
	}

	pair := func(bare string) []string { return []string{"TERMINUS_" + bare, bare} }

	envInt(pair("MAX_GOAL_LEN"), &cfg.MaxGoalLen)
	envFloat(pair("EXECUTE_GOAL_MIN_INTERVAL_SEC"), &cfg.ExecuteGoalMinIntervalSec)
	envInt(pair("MAX_COMMAND_LEN"), &cfg.MaxCommandLen)
	envBool(pair("SANDBOX_STRICT_SANITIZE"), &cfg.SandboxStrictSanitize)
	envStr(pair("SANDBOX_CMD_ALLOWLIST"), &cfg.SandboxCmdAllowlist)
	envStr(pair("SANDBOX_USER"), &cfg.SandboxUser)
	envBool(pair("SANDBOX_FORCE_LOCAL"), &cfg.SandboxForceLocal)
	envBool(pair("SANDBOX_SKIP_USER_CHECK"), &cfg.SandboxSkipUserCheck)
	envBool(pair("PLANNER_STRICT_JSON"), &cfg.PlannerStrictJSON)
	envBool(pair("EXECUTOR_STRICT_FUNCTION"), &cfg.ExecutorStrictFunction)
	envStr(pair("SAFETY_IDENTIFIER_PREFIX"), &cfg.SafetyIdentifierPrefix)
	envBool(pair("ENABLE_PLANNER_WEB_SEARCH"), &cfg.EnablePlannerWebSearch)
	envBool(pair("ENABLE_PLANNER_FILE_SEARCH"), &cfg.EnablePlannerFileSearch)
	envBool(pair("ENABLE_PLANNER_MCP"), &cfg.EnablePlannerMCP)
	envInt(pair("MAX_REPLANS"), &cfg.MaxReplans)
	envInt(pair("MAX_HISTORY_STEPS"), &cfg.MaxHistorySteps)
	envStr(pair("PLANNER_MODEL"), &cfg.PlannerModel)
	envStr(pair("EXECUTOR_MODEL"), &cfg.ExecutorModel)
	envStr(pair("PLANNER_BASE_URL"), &cfg.PlannerBaseURL)
	envStr(pair("LISTEN_ADDR"), &cfg.ListenAddr)
	envStr([]string{"OPENAI_API_KEY"}, &cfg.OpenAIAPIKey)

	// TERMINUS_FAKE forces offline mode even when a key is present.
	if v := os.Getenv("TERMINUS_FAKE"); v != "" {
		if fake, err := strconv.ParseBool(v); err == nil && fake {
			cfg.OpenAIAPIKey = ""
		}
	}
}

// Watcher hot-reloads the file-backed portion of Config on change. Each
// reload replaces the snapshot Current returns; a *Config obtained earlier
// is not modified. The serve command does not use a Watcher: it loads the
// config once at startup.
type Watcher struct {
	mu   sync.RWMutex
	cur  *Config
	path string
	fsw  *fsnotify.Watcher
}

// NewWatcher loads path and starts watching it for changes.
func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{cur: cfg, path: path}
	if path == "" {
		return w, nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		// Hot-reload is best-effort; a missing watcher still serves the
		// config loaded at startup.
		return w, nil
	}
	if err := fsw.Add(path); err == nil {
		w.fsw = fsw
		go w.run()
	} else {
		fsw.Close()
	}
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if cfg, err := Load(w.path); err == nil {
				w.mu.Lock()
				w.cur = cfg
				w.mu.Unlock()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Current returns the most recently loaded configuration snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Close stops the underlying filesystem watcher, if any.
func (w *Watcher) Close() error {
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}
