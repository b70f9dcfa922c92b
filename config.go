package webguard

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// Config gathers every scoring constant and threshold in one place.
// The point values are heuristics carried over from the original
// tuning; keeping them named here lets operators retune without
// touching control flow.
type Config struct {
	Scoring    ScoringConfig    `json:"scoring"`
	Rate       RateConfig       `json:"rate"`
	Behavior   BehaviorConfig   `json:"behavior"`
	Alerts     AlertConfig      `json:"alerts"`
	Audit      AuditConfig      `json:"audit"`
	Compliance ComplianceConfig `json:"compliance"`
}

type ScoringConfig struct {
	IntelWeightLow      int `json:"intelWeightLow"`
	IntelWeightMedium   int `json:"intelWeightMedium"`
	IntelWeightHigh     int `json:"intelWeightHigh"`
	IntelWeightCritical int `json:"intelWeightCritical"`

	RateExceededWeight int `json:"rateExceededWeight"`

	PatternWeightMedium   int `json:"patternWeightMedium"`
	PatternWeightHigh     int `json:"patternWeightHigh"`
	PatternWeightCritical int `json:"patternWeightCritical"`

	BehaviorWeight int `json:"behaviorWeight"`
	GeoWeight      int `json:"geoWeight"`

	LevelLow      int `json:"levelLow"`
	LevelMedium   int `json:"levelMedium"`
	LevelHigh     int `json:"levelHigh"`
	LevelCritical int `json:"levelCritical"`

	// AutoBlockTTL is how long a critical aggregate keeps an IP on the
	// block list before the expiry clears it. Zero means no expiry.
	AutoBlockTTL time.Duration `json:"autoBlockTTL"`
}

type RateConfig struct {
	Window         time.Duration `json:"window"`
	Threshold      int           `json:"threshold"`
	MaxTrackedIPs  int           `json:"maxTrackedIPs"`
	IdleEviction   time.Duration `json:"idleEviction"`
	CleanupEvery   time.Duration `json:"cleanupEvery"`
	MaxURLLength   int           `json:"maxURLLength"`
	MaxBodyBytes   int           `json:"maxBodyBytes"`
}

type BehaviorConfig struct {
	Lookback        time.Duration `json:"lookback"`
	MinEvents       int           `json:"minEvents"`
	MinEventsHourly int           `json:"minEventsHourly"`
	HourShareFloor  float64       `json:"hourShareFloor"`
	VolumeFactor    float64       `json:"volumeFactor"`
}

type AlertConfig struct {
	EscalationWindow time.Duration `json:"escalationWindow"`
	Channels         []string      `json:"channels"`
}

type AuditConfig struct {
	QueueSize    int `json:"queueSize"`
	DefaultLimit int `json:"defaultLimit"`
	MaxLimit     int `json:"maxLimit"`
}

type ComplianceConfig struct {
	Interval time.Duration `json:"interval"`
}

// Canonical defaults. The escalation window default is one hour; the
// divergent value that floated around older deployments is gone.
const (
	DefaultRateWindow       = time.Minute
	DefaultRateThreshold    = 60
	DefaultMaxTrackedIPs    = 100000
	DefaultEscalationWindow = time.Hour
	DefaultAutoBlockTTL     = 24 * time.Hour
)

func DefaultConfig() *Config {
	return &Config{
		Scoring: ScoringConfig{
			IntelWeightLow:        30,
			IntelWeightMedium:     30,
			IntelWeightHigh:       40,
			IntelWeightCritical:   50,
			RateExceededWeight:    25,
			PatternWeightMedium:   15,
			PatternWeightHigh:     25,
			PatternWeightCritical: 40,
			BehaviorWeight:        20,
			GeoWeight:             20,
			LevelLow:              20,
			LevelMedium:           40,
			LevelHigh:             70,
			LevelCritical:         85,
			AutoBlockTTL:          DefaultAutoBlockTTL,
		},
		Rate: RateConfig{
			Window:        DefaultRateWindow,
			Threshold:     DefaultRateThreshold,
			MaxTrackedIPs: DefaultMaxTrackedIPs,
			IdleEviction:  10 * DefaultRateWindow,
			CleanupEvery:  DefaultRateWindow,
			MaxURLLength:  2000,
			MaxBodyBytes:  100000,
		},
		Behavior: BehaviorConfig{
			Lookback:        7 * 24 * time.Hour,
			MinEvents:       10,
			MinEventsHourly: 50,
			HourShareFloor:  0.10,
			VolumeFactor:    5,
		},
		Alerts: AlertConfig{
			EscalationWindow: DefaultEscalationWindow,
			Channels:         []string{"log"},
		},
		Audit: AuditConfig{
			QueueSize:    1024,
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Compliance: ComplianceConfig{
			Interval: time.Hour,
		},
	}
}

// LoadConfig reads a JSON config file over the defaults. A missing
// file is not an error: the hardcoded defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if len(data) > 1024*1024 {
		return nil, fmt.Errorf("config file %s is too large", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.fillZeroes()
	return cfg, nil
}

// fillZeroes restores defaults for fields the file left unset, so a
// partial config file cannot zero out a threshold.
func (c *Config) fillZeroes() {
	def := DefaultConfig()
	if c.Rate.Window <= 0 {
		c.Rate.Window = def.Rate.Window
	}
	if c.Rate.Threshold <= 0 {
		c.Rate.Threshold = def.Rate.Threshold
	}
	if c.Rate.MaxTrackedIPs <= 0 {
		c.Rate.MaxTrackedIPs = def.Rate.MaxTrackedIPs
	}
	if c.Rate.IdleEviction <= 0 {
		c.Rate.IdleEviction = def.Rate.IdleEviction
	}
	if c.Rate.CleanupEvery <= 0 {
		c.Rate.CleanupEvery = def.Rate.CleanupEvery
	}
	if c.Rate.MaxURLLength <= 0 {
		c.Rate.MaxURLLength = def.Rate.MaxURLLength
	}
	if c.Rate.MaxBodyBytes <= 0 {
		c.Rate.MaxBodyBytes = def.Rate.MaxBodyBytes
	}
	if c.Behavior.Lookback <= 0 {
		c.Behavior.Lookback = def.Behavior.Lookback
	}
	if c.Behavior.MinEvents <= 0 {
		c.Behavior.MinEvents = def.Behavior.MinEvents
	}
	if c.Behavior.MinEventsHourly <= 0 {
		c.Behavior.MinEventsHourly = def.Behavior.MinEventsHourly
	}
	if c.Behavior.HourShareFloor <= 0 {
		c.Behavior.HourShareFloor = def.Behavior.HourShareFloor
	}
	if c.Behavior.VolumeFactor <= 0 {
		c.Behavior.VolumeFactor = def.Behavior.VolumeFactor
	}
	if c.Alerts.EscalationWindow <= 0 {
		c.Alerts.EscalationWindow = def.Alerts.EscalationWindow
	}
	if len(c.Alerts.Channels) == 0 {
		c.Alerts.Channels = def.Alerts.Channels
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = def.Audit.QueueSize
	}
	if c.Audit.DefaultLimit <= 0 {
		c.Audit.DefaultLimit = def.Audit.DefaultLimit
	}
	if c.Audit.MaxLimit <= 0 {
		c.Audit.MaxLimit = def.Audit.MaxLimit
	}
	if c.Compliance.Interval <= 0 {
		c.Compliance.Interval = def.Compliance.Interval
	}
	if c.Scoring.LevelCritical <= 0 {
		c.Scoring = def.Scoring
	}
}

// ConfigWatcher hot-reloads the config file and hands the fresh copy
// to subscribers. Components read through the getter so a reload is a
// pointer swap, never a partially applied struct.
type ConfigWatcher struct {
	mu      sync.RWMutex
	path    string
	current *Config
	watcher *fsnotify.Watcher
	logger  *log.Logger
	onSwap  []func(*Config)
	done    chan struct{}
}

func NewConfigWatcher(path string, logger *log.Logger) (*ConfigWatcher, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &ConfigWatcher{
		path:    path,
		current: cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked with each fresh config.
func (w *ConfigWatcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSwap = append(w.onSwap, fn)
}

// Watch starts the fsnotify loop. No-op when no path is configured.
func (w *ConfigWatcher) Watch() error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}
	w.watcher = watcher
	go w.loop()
	return nil
}

func (w *ConfigWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn().Err(err).Str("component", "config").Msg("config watcher error")
			}
		case <-w.done:
			return
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Error().Err(err).Str("component", "config").Str("path", w.path).Msg("config reload failed, keeping previous")
		}
		return
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := append([]func(*Config){}, w.onSwap...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	if w.logger != nil {
		w.logger.Info().Str("component", "config").Str("path", w.path).Msg("config reloaded")
	}
}

func (w *ConfigWatcher) Close() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
