package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Path     string
	Watch    bool
	Debounce time.Duration
}

func ConfigFromEnv() (Config, error) {
	watch, err := env.Bool("CODEMODS_CATALOG_WATCH", true)
	if err != nil {
		return Config{}, err
	}
	debounce, err := env.Duration("CODEMODS_CATALOG_DEBOUNCE", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Path:     strings.TrimSpace(env.String("CODEMODS_CATALOG_PATH", "catalog")),
		Watch:    watch,
		Debounce: debounce,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Path == "" {
		return errors.New("CODEMODS_CATALOG_PATH is required")
	}
	if c.Debounce < 0 {
		return errors.New("CODEMODS_CATALOG_DEBOUNCE must be >= 0")
	}
	return nil
}

// FileCatalog serves entities declared in YAML files. Path is either a single
// file or a directory scanned (non recursively) for *.yaml and *.yml files.
type FileCatalog struct {
	*Memory

	path     string
	debounce time.Duration
	logger   *slog.Logger

	reloadMu sync.Mutex
}

func NewFileCatalog(cfg Config, logger *slog.Logger) (*FileCatalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &FileCatalog{
		Memory:   &Memory{},
		path:     cfg.Path,
		debounce: cfg.Debounce,
		logger:   logger,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads every file. On error the previous content is kept.
func (c *FileCatalog) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	files, err := c.files()
	if err != nil {
		return err
	}
	var entities []Entity
	for _, file := range files {
		loaded, err := LoadFile(file)
		if err != nil {
			return err
		}
		entities = append(entities, loaded...)
	}
	if err := c.Replace(entities); err != nil {
		return fmt.Errorf("load catalog %s: %w", c.path, err)
	}
	c.logger.Info("catalog loaded", "path", c.path, "entities", len(entities))
	return nil
}

func (c *FileCatalog) files() ([]string, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	if !info.IsDir() {
		return []string{c.path}, nil
	}
	entries, err := os.ReadDir(c.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(c.path, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile decodes every YAML document of a file as an entity.
func LoadFile(path string) ([]Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	var out []Entity
	for {
		var entity Entity
		err := dec.Decode(&entity)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if entity.Kind == "" && entity.Metadata.Name == "" {
			continue
		}
		if err := entity.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if entity.Metadata.Annotations == nil {
			entity.Metadata.Annotations = map[string]string{}
		}
		if _, ok := entity.Metadata.Annotations[AnnotationLocation]; !ok {
			if abs, err := filepath.Abs(path); err == nil {
				entity.Metadata.Annotations[AnnotationLocation] = "file:" + abs
			}
		}
		out = append(out, entity)
	}
	return out, nil
}

// Watch reloads the catalog when its files change, until ctx is done.
func (c *FileCatalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	defer watcher.Close()

	target := c.path
	if info, err := os.Stat(c.path); err == nil && !info.IsDir() {
		// Editors replace files on save, so the parent directory is watched.
		target = filepath.Dir(c.path)
	}
	if err := watcher.Add(target); err != nil {
		return fmt.Errorf("watch %s: %w", target, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(c.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog reload failed", "path", c.path, "error", err)
			}
		})
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
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !c.relevant(event) {
				continue
			}
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

func (c *FileCatalog) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	if info, err := os.Stat(c.path); err == nil && !info.IsDir() {
		return filepath.Clean(event.Name) == filepath.Clean(c.path)
	}
	return isYAML(event.Name)
}
