package pipeline

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/config"
	lf "github.com/bigredeye/checkgate/internal/logfield"
)

// Fetcher keeps the current pipeline spec in an atomic snapshot and
// refreshes it in the background: a local file is watched, a URL is
// polled. A broken update is logged and the previous good spec kept.
type Fetcher struct {
	current atomic.Value

	config *config.Config
	logger *zap.Logger
}

func NewFetcher(config *config.Config, logger *zap.Logger) (*Fetcher, error) {
	fetcher := &Fetcher{
		config: config,
		logger: logger,
	}

	err := fetcher.reload()
	if err != nil {
		return nil, err
	}

	if fetcher.current.Load() == nil {
		panic("No pipeline spec found after reload")
	}

	return fetcher, nil
}

func (f *Fetcher) Current() *Spec {
	cur := f.current.Load()
	if cur == nil {
		return nil
	}
	return cur.(*Spec)
}

func (f *Fetcher) Run(ctx context.Context) {
	if f.config.Pipeline.Path != "" {
		f.watch(ctx)
		return
	}
	f.poll(ctx)
}

func (f *Fetcher) poll(ctx context.Context) {
	tick := time.Tick(f.config.Pipeline.PollInterval)

	for {
		select {
		case <-tick:
			if err := f.reload(); err != nil {
				f.logger.Error("Failed to reload pipeline spec", zap.Error(err))
			}
		case <-ctx.Done():
			f.logger.Info("Stopping pipeline spec fetcher")
			return
		}
	}
}

// Editors replace files on save, so rapid duplicate events are common.
const watchDebounce = 500 * time.Millisecond

func (f *Fetcher) watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.logger.Error("Failed to create pipeline spec watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	path := filepath.Clean(f.config.Pipeline.Path)
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		f.logger.Error("Failed to watch pipeline spec directory", zap.Error(err), zap.String("dir", dir))
		return
	}
	f.logger.Info("Watching pipeline spec", zap.String("path", path))

	var last time.Time
	for {
		select {
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if time.Since(last) < watchDebounce {
				continue
			}
			last = time.Now()

			if err := f.reload(); err != nil {
				f.logger.Error("Failed to reload pipeline spec", zap.Error(err))
			}
		case err := <-watcher.Errors:
			f.logger.Error("Pipeline spec watcher failed", zap.Error(err))
		case <-ctx.Done():
			f.logger.Info("Stopping pipeline spec watcher")
			return
		}
	}
}

func fetch(url string) (*Spec, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to fetch pipeline spec")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("Failed to fetch pipeline spec: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read response")
	}

	return Parse(body)
}

func (f *Fetcher) reload() error {
	f.logger.Debug("Start pipeline spec reload")
	defer f.logger.Debug("Finish pipeline spec reload")

	var spec *Spec
	var err error
	if path := f.config.Pipeline.Path; path != "" {
		spec, err = Load(path)
	} else {
		spec, err = fetch(f.config.Pipeline.URL)
	}
	if err != nil {
		return errors.Wrap(err, "Failed to reload pipeline spec")
	}

	prev := f.current.Swap(spec)
	if !reflect.DeepEqual(prev, spec) {
		f.logger.Info("Updated pipeline spec",
			lf.SpecName(spec.Name),
			zap.Int("num_gates", len(spec.Gates)),
		)
	}

	return nil
}
