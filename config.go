package rmbg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultModelURL is the canonical location of the U2-Net weights.
	DefaultModelURL = "https://github.com/danielgatis/rembg/releases/download/v0.0.0/u2net.onnx"

	// DefaultFetchTimeout bounds connecting to the model host and every pause
	// while the model streams in.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultDownloadTimeout caps the whole model download.
	DefaultDownloadTimeout = 30 * time.Minute

	// DefaultLoadTimeout bounds creating the session from the model file.
	DefaultLoadTimeout = 2 * time.Minute

	// DefaultInferenceTimeout bounds a single model invocation.
	DefaultInferenceTimeout = 60 * time.Second

	modelFileName   = "u2net.onnx"
	defaultCacheDir = ".u2net"
)

// Config configures model resolution and the ONNX Runtime session.
type Config struct {
	// ModelPath is an operator supplied model file. When it exists it is used
	// as is and never fetched or removed.
	ModelPath string `yaml:"model_path"`
	// ModelURL is where the model is fetched from when no local copy exists.
	ModelURL string `yaml:"model_url"`
	// CacheDir holds the fetched model (default: ~/.u2net)
	CacheDir string `yaml:"cache_dir"`
	// SharedLibraryPath points at onnxruntime.so (.dylib, .dll). Empty means
	// the loader's default search path.
	SharedLibraryPath string `yaml:"shared_library_path"`

	IntraOpNumThreads int  `yaml:"intra_op_num_threads"`
	InterOpNumThreads int  `yaml:"inter_op_num_threads"`
	CpuMemArena       bool `yaml:"cpu_mem_arena"`
	MemPattern        bool `yaml:"mem_pattern"`

	// FetchTimeout is an idle bound: connect, response headers and each gap
	// between body reads. DownloadTimeout caps the transfer as a whole.
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	DownloadTimeout  time.Duration `yaml:"download_timeout"`
	LoadTimeout      time.Duration `yaml:"load_timeout"`
	InferenceTimeout time.Duration `yaml:"inference_timeout"`

	// DisableFallback makes post-session failures return ErrProcessingFailed
	// instead of the degraded, background-intact image.
	DisableFallback bool `yaml:"disable_fallback"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration used when nothing is specified.
func DefaultConfig() *Config {
	return &Config{
		ModelURL:          DefaultModelURL,
		CacheDir:          defaultCacheDirPath(),
		IntraOpNumThreads: 2,
		InterOpNumThreads: 1,
		MemPattern:        true,
		FetchTimeout:      DefaultFetchTimeout,
		DownloadTimeout:   DefaultDownloadTimeout,
		LoadTimeout:       DefaultLoadTimeout,
		InferenceTimeout:  DefaultInferenceTimeout,
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

// CachedModelPath is where a fetched model is stored.
func (c *Config) CachedModelPath() string {
	return filepath.Join(c.CacheDir, modelFileName)
}

// withDefaults returns a copy with every zero field replaced by its default.
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		def.Logger = slog.Default()
		return def
	}

	out := *c
	if out.ModelURL == "" {
		out.ModelURL = def.ModelURL
	}
	if out.CacheDir == "" {
		out.CacheDir = def.CacheDir
	}
	if out.IntraOpNumThreads <= 0 {
		out.IntraOpNumThreads = def.IntraOpNumThreads
	}
	if out.InterOpNumThreads <= 0 {
		out.InterOpNumThreads = def.InterOpNumThreads
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = def.FetchTimeout
	}
	if out.DownloadTimeout <= 0 {
		out.DownloadTimeout = def.DownloadTimeout
	}
	if out.LoadTimeout <= 0 {
		out.LoadTimeout = def.LoadTimeout
	}
	if out.InferenceTimeout <= 0 {
		out.InferenceTimeout = def.InferenceTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

func defaultCacheDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), defaultCacheDir)
	}
	return filepath.Join(home, defaultCacheDir)
}
