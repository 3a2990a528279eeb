// Package config loads service settings from YAML and the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/vision-api/internal/model"
	"github.com/Brownie44l1/vision-api/internal/modelstore"
)

type Config struct {
	Port         string    `yaml:"port"`
	ModelVersion string    `yaml:"model_version"`
	Labels       Labels    `yaml:"labels"`
	CORS         CORS      `yaml:"cors"`
	RateLimit    RateLimit `yaml:"rate_limit"`
	Upload       Upload    `yaml:"upload"`
	Models       Models    `yaml:"models"`
}

type Labels struct {
	Objects []string `yaml:"objects"`
	Animals []string `yaml:"animals"`
	Teams   []string `yaml:"teams"`
}

type CORS struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
	AllowHeaders []string `yaml:"allow_headers"`
	MaxAge       int      `yaml:"max_age"`
}

// RateLimit applies per client IP to /predict. Zero requests disables it.
type RateLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type Upload struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// Models selects real classifiers. Tasks absent from ONNX keep the hash scorer.
type Models struct {
	Bucket     string                      `yaml:"bucket"`
	Manifest   string                      `yaml:"manifest"`
	Project    string                      `yaml:"project"`
	CacheDir   string                      `yaml:"cache_dir"`
	Dir        string                      `yaml:"dir"`
	ORTLibrary string                      `yaml:"ort_library"`
	ONNX       map[string]modelstore.Files `yaml:"onnx"`
}

func (m Models) Remote() bool { return m.Bucket != "" && m.Manifest != "" }

// Enabled reports whether any task uses an ONNX model.
func (m Models) Enabled() bool { return m.Remote() || len(m.ONNX) > 0 }

func Default() *Config {
	catalog := model.DefaultCatalog()
	return &Config{
		Port:         "8080",
		ModelVersion: model.DefaultVersion,
		Labels: Labels{
			Objects: catalog.Objects.Labels(),
			Animals: catalog.Animals.Labels(),
			Teams:   catalog.Teams.Labels(),
		},
		CORS: CORS{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:       86400,
		},
		RateLimit: RateLimit{Requests: 60, Window: time.Minute},
		Upload:    Upload{MaxBytes: 10 << 20},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading config file: %s", path)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling config file: %s", path)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("PORT", &c.Port)
	set("MODEL_BUCKET", &c.Models.Bucket)
	set("MODEL_MANIFEST", &c.Models.Manifest)
	set("GOOGLE_CLOUD_PROJECT", &c.Models.Project)
	set("ORT_LIBRARY_PATH", &c.Models.ORTLibrary)

	if v, ok := lookup("ALLOW_ORIGINS"); ok && v != "" {
		c.CORS.AllowOrigins = splitList(v)
	}
	if v, ok := lookup("RATE_LIMIT_REQUESTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid RATE_LIMIT_REQUESTS %q", v)
		}
		c.RateLimit.Requests = n
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := c.Catalog(); err != nil {
		return err
	}
	if c.Port == "" {
		return errors.New("port required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.Wrapf(err, "invalid port %q", c.Port)
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	if c.RateLimit.Requests < 0 {
		return errors.New("rate_limit.requests must not be negative")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return errors.New("rate_limit.window must be positive")
	}
	return nil
}

// Catalog builds the label sets, enforcing the hash scorer's size limit.
func (c *Config) Catalog() (model.Catalog, error) {
	var cat model.Catalog
	var err error
	if cat.Objects, err = model.NewLabelSet(c.Labels.Objects...); err != nil {
		return cat, errors.Wrap(err, "labels.objects")
	}
	if cat.Animals, err = model.NewLabelSet(c.Labels.Animals...); err != nil {
		return cat, errors.Wrap(err, "labels.animals")
	}
	if cat.Teams, err = model.NewLabelSet(c.Labels.Teams...); err != nil {
		return cat, errors.Wrap(err, "labels.teams")
	}
	if err := cat.Validate(model.MaxHashLabels); err != nil {
		return cat, errors.Wrap(err, "labels")
	}
	return cat, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
