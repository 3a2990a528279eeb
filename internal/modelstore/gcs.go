package modelstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// objectSource opens bucket objects by name.
type objectSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type bucketSource struct {
	bucket *storage.BucketHandle
}

func (b bucketSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.bucket.Object(name).NewReader(ctx)
}

// GCSConfig selects the bucket and manifest holding the models.
type GCSConfig struct {
	Bucket   string
	Manifest string
	Project  string
	CacheDir string
}

// GCSStore downloads models listed in a bucket manifest into CacheDir.
// Each object is downloaded at most once per cache directory.
type GCSStore struct {
	cfg    GCSConfig
	src    objectSource
	client *storage.Client
	log    zerolog.Logger

	mu       sync.Mutex
	manifest *Manifest
}

func NewGCSStore(ctx context.Context, cfg GCSConfig, log zerolog.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" || cfg.Manifest == "" {
		return nil, errors.New("bucket and manifest are required")
	}
	var opts []option.ClientOption
	if cfg.Project != "" {
		opts = append(opts, option.WithQuotaProject(cfg.Project))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}
	s := newGCSStore(cfg, bucketSource{bucket: client.Bucket(cfg.Bucket)}, log)
	s.client = client
	return s, nil
}

func newGCSStore(cfg GCSConfig, src objectSource, log zerolog.Logger) *GCSStore {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), "vision-api-models")
	}
	return &GCSStore{
		cfg: cfg,
		src: src,
		log: log.With().Str("component", "modelstore").Str("bucket", cfg.Bucket).Logger(),
	}
}

// Manifest downloads and parses the manifest on first use.
func (s *GCSStore) Manifest(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest != nil {
		return s.manifest, nil
	}

	r, err := s.src.Open(ctx, s.cfg.Manifest)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open manifest %s", s.cfg.Manifest)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", s.cfg.Manifest)
	}
	m, err := ParseManifest(b)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("version", m.Version).Int("tasks", len(m.Tasks)).Msg("manifest loaded")
	s.manifest = m
	return m, nil
}

func (s *GCSStore) Fetch(ctx context.Context, task string) (Files, error) {
	m, err := s.Manifest(ctx)
	if err != nil {
		return Files{}, err
	}
	f, ok := m.Tasks[task]
	if !ok {
		return Files{}, errors.Wrap(ErrUnknownTask, task)
	}

	model, err := s.download(ctx, f.Model)
	if err != nil {
		return Files{}, err
	}
	meta, err := s.download(ctx, f.Metadata)
	if err != nil {
		return Files{}, err
	}
	return Files{Model: model, Metadata: meta}, nil
}

// download copies object into the cache unless it is already there. The
// object is written to a temp file and renamed so readers never see a
// partial model.
func (s *GCSStore) download(ctx context.Context, object string) (string, error) {
	dst := filepath.Join(s.cfg.CacheDir, filepath.FromSlash(object))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return "", errors.Wrapf(err, "failed to create dir for %s", object)
	}

	r, err := s.src.Open(ctx, object)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open object %s", object)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return "", errors.Wrapf(err, "failed to download %s", object)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrapf(err, "failed to write %s", object)
	}
	if err := os.Chmod(tmp.Name(), fileMode); err != nil {
		return "", errors.Wrapf(err, "failed to chmod %s", object)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", errors.Wrapf(err, "failed to move %s into cache", object)
	}
	s.log.Info().Str("object", object).Int64("bytes", n).Msg("model downloaded")
	return dst, nil
}

func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
