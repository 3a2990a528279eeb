// Package app assembles the service from its configuration.
package app

import (
	"context"
	"io"
	"net/http"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Brownie44l1/vision-api/internal/config"
	"github.com/Brownie44l1/vision-api/internal/handlers"
	"github.com/Brownie44l1/vision-api/internal/imaging"
	"github.com/Brownie44l1/vision-api/internal/model"
	"github.com/Brownie44l1/vision-api/internal/modelstore"
	"github.com/Brownie44l1/vision-api/internal/telemetry"
)

var taskByName = map[string]model.Task{
	"objects": model.TaskObject,
	"animals": model.TaskAnimal,
	"teams":   model.TaskTeam,
}

type App struct {
	Config    *config.Config
	Ensemble  *model.Ensemble
	Collector *telemetry.Collector

	log     zerolog.Logger
	closers []io.Closer
	onnx    bool
}

// New builds the ensemble. ONNX models are only fetched and opened on the
// first prediction that needs them; a remote manifest is read here so its
// version can be reported from the start.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Collector: telemetry.NewCollector(log),
		log:       log,
	}
	decoder := imaging.NewDecoder()
	version := cfg.ModelVersion
	scorers := map[model.Task]model.Scorer{}

	if cfg.Models.Enabled() {
		fetcher, tasks, manifestVersion, err := a.openStore(ctx, cfg.Models)
		if err != nil {
			a.Close()
			return nil, err
		}
		if manifestVersion != "" {
			version = manifestVersion
		}
		for _, name := range tasks {
			task, ok := taskByName[name]
			if !ok {
				a.Close()
				return nil, errors.Errorf("unknown model task %q", name)
			}
			lazy := model.NewLazyScorer(name, a.onnxLoader(fetcher, name, decoder))
			scorers[task] = lazy
			a.closers = append(a.closers, lazy)
			log.Info().Str("task", name).Msg("onnx scorer registered")
		}
		a.onnx = len(tasks) > 0
	}

	a.Ensemble, err = model.NewEnsemble(model.Options{
		Version:  version,
		Catalog:  catalog,
		Decoder:  decoder,
		Recorder: a.Collector,
		Scorers:  scorers,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, m config.Models) (modelstore.Fetcher, []string, string, error) {
	if !m.Remote() {
		return &modelstore.LocalStore{Dir: m.Dir, Models: m.ONNX}, sortedKeys(m.ONNX), "", nil
	}

	store, err := modelstore.NewGCSStore(ctx, modelstore.GCSConfig{
		Bucket:   m.Bucket,
		Manifest: m.Manifest,
		Project:  m.Project,
		CacheDir: m.CacheDir,
	}, a.log)
	if err != nil {
		return nil, nil, "", err
	}
	a.closers = append(a.closers, store)

	manifest, err := store.Manifest(ctx)
	if err != nil {
		return nil, nil, "", err
	}
	return store, sortedKeys(manifest.Tasks), manifest.Version, nil
}

func (a *App) onnxLoader(fetcher modelstore.Fetcher, task string, decoder model.Decoder) model.LoadFunc {
	return func(ctx context.Context) (model.Scorer, error) {
		files, err := fetcher.Fetch(ctx, task)
		if err != nil {
			return nil, err
		}
		if err := model.InitRuntime(a.Config.Models.ORTLibrary); err != nil {
			return nil, err
		}
		s, err := model.NewONNXScorer(files.Model, files.Metadata, decoder)
		if err != nil {
			return nil, err
		}
		a.log.Info().
			Str("task", task).
			Str("model", files.Model).
			Strs("classes", s.Metadata.Classes).
			Msg("onnx model loaded")
		return s, nil
	}
}

// Router returns the HTTP handler for the service.
func (a *App) Router() http.Handler {
	h := handlers.NewHandler(a.Ensemble, a.Collector, a.Config.Upload.MaxBytes)
	return handlers.NewRouter(h, handlers.RouterConfig{
		CORS: handlers.CORSPolicy{
			AllowOrigins: a.Config.CORS.AllowOrigins,
			AllowMethods: a.Config.CORS.AllowMethods,
			AllowHeaders: a.Config.CORS.AllowHeaders,
			MaxAge:       a.Config.CORS.MaxAge,
		},
		RateRequests: a.Config.RateLimit.Requests,
		RateWindow:   a.Config.RateLimit.Window,
	}, a.log)
}

// Close releases loaded models and storage clients.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	if a.onnx {
		model.ShutdownRuntime()
	}
	return first
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
