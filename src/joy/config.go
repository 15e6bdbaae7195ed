package joy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	"tranquil/src/lib/trust"
)

// Config is the board file.  Zero fields in the file keep their defaults.
type Config struct {
	Board    int           `yaml:"board"`
	// Revision is the board revision code, only used for the banner.
	Revision string        `yaml:"revision"`
	Memory   MemoryConfig  `yaml:"memory"`
	Timer    TimerConfig   `yaml:"timer"`
	Log      LogConfig     `yaml:"log"`
	Console  ConsoleConfig `yaml:"console"`
	Host     HostConfig    `yaml:"host"`
}

type MemoryConfig struct {
	Low  uint64 `yaml:"low"`
	High uint64 `yaml:"high"`
}

type TimerConfig struct {
	// Interval is microseconds between scheduling ticks.
	Interval uint32 `yaml:"interval"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ConsoleConfig struct {
	// Device is a tty to use for the console, empty for the controlling
	// terminal.
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type HostConfig struct {
	// Quantum is how long an idle core waits for an interrupt, and how often
	// the host moves the system timer.
	Quantum time.Duration `yaml:"quantum"`
	// Clock is how many timer microseconds pass per quantum.
	Clock uint32 `yaml:"clock"`
}

func DefaultConfig() *Config {
	return &Config{
		Board:   4,
		Memory:  MemoryConfig{Low: LowMemory, High: HighMemory},
		Timer:   TimerConfig{Interval: DefaultTimerInterval},
		Log:     LogConfig{Level: "info"},
		Console: ConsoleConfig{Baud: 115200},
		Host:    HostConfig{Quantum: 10 * time.Millisecond, Clock: 20000},
	}
}

// ParseConfig decodes a board file over the defaults.  Unknown keys are an
// error, so are trailing documents.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Board < 0 || c.Board > 4 {
		return fmt.Errorf("board: unknown model %d", c.Board)
	}
	if c.Memory.Low%PageSize != 0 || c.Memory.High%PageSize != 0 {
		return fmt.Errorf("memory: bounds %#x-%#x are not page aligned", c.Memory.Low, c.Memory.High)
	}
	if c.Memory.High <= c.Memory.Low {
		return fmt.Errorf("memory: high %#x is not above low %#x", c.Memory.High, c.Memory.Low)
	}
	if (c.Memory.High-c.Memory.Low)/PageSize > 1<<32-1 {
		return fmt.Errorf("memory: too many pages")
	}
	if c.Timer.Interval == 0 {
		return fmt.Errorf("timer: interval must be > 0")
	}
	if _, err := trust.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Console.Baud < 0 {
		return fmt.Errorf("console: baud must be >= 0")
	}
	if c.Host.Quantum < 0 {
		return fmt.Errorf("host: quantum must be >= 0")
	}
	if c.Host.Clock == 0 {
		return fmt.Errorf("host: clock must be > 0")
	}
	return nil
}

// Pages is the size of the paging pool the config describes.
func (c *Config) Pages() uint32 {
	return uint32((c.Memory.High - c.Memory.Low) / PageSize)
}

// LogMask is the parsed log level.  Validate has already checked it.
func (c *Config) LogMask() trust.MaskLevel {
	m, _ := trust.ParseLevel(c.Log.Level)
	return m
}

// editors write files in bursts
const reloadDebounce = 100 * time.Millisecond

// WatchConfig calls fn with the new config every time the file at path
// changes and still parses.  Bad edits are logged and ignored.  It returns
// when ctx is done.
func WatchConfig(ctx context.Context, path string, log *trust.Logger, fn func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	log.Debugf("watching %s for config changes", path)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		cfg, err := LoadConfig(path)
		if err != nil {
			log.Warnf("config reload failed: %v", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		fn(cfg)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, reload)
			timerMu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config watch: %v", err)
		}
	}
}
