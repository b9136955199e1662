package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/docextract/docerr"
)

// DiscoverNames are the file names Discover looks for, in order.
var DiscoverNames = []string{"docextract.yaml", "docextract.yml", "docextract.json"}

type cachedFile struct {
	modTime time.Time
	cfg     *ExtractionConfig
}

var (
	fileCacheMu sync.Mutex
	fileCache   = map[string]cachedFile{}
)

// LoadFile reads a YAML (.yaml, .yml) or JSON (.json) config file. Parsed
// files are cached by path and modification time; callers get a copy.
func LoadFile(path string) (*ExtractionConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindValidation, err, "read config file %s", path)
	}

	fileCacheMu.Lock()
	if c, ok := fileCache[path]; ok && c.modTime.Equal(info.ModTime()) {
		fileCacheMu.Unlock()
		return c.cfg.Clone(), nil
	}
	fileCacheMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, docerr.Wrap(docerr.KindValidation, err, "read config file %s", path)
	}

	var cfg *ExtractionConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		cfg, err = FromYAML(data)
	case ".json":
		cfg, err = FromJSON(data)
	case "":
		return nil, docerr.Validation("cannot determine config format: no extension in %s", path)
	default:
		return nil, docerr.Validation("unsupported config file format %s (want .yaml, .yml or .json)", ext)
	}
	if err != nil {
		return nil, docerr.Wrap(docerr.KindValidation, err, "config file %s", path)
	}

	fileCacheMu.Lock()
	fileCache[path] = cachedFile{modTime: info.ModTime(), cfg: cfg.Clone()}
	fileCacheMu.Unlock()
	return cfg, nil
}

// FromYAML parses a YAML config. Unknown fields are rejected.
func FromYAML(data []byte) (*ExtractionConfig, error) {
	cfg := &ExtractionConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, docerr.Wrap(docerr.KindConfig, err, "invalid YAML config")
	}
	return cfg, nil
}

// ToYAML serializes the config as YAML.
func (c *ExtractionConfig) ToYAML() ([]byte, error) {
	if c == nil {
		c = New()
	}
	return yaml.Marshal(c)
}

// Discover walks up from dir looking for one of DiscoverNames. It returns
// (nil, "", nil) when nothing is found.
func Discover(dir string) (*ExtractionConfig, string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, "", docerr.Wrap(docerr.KindInternal, err, "getwd")
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", docerr.Wrap(docerr.KindInternal, err, "abs %s", dir)
	}
	for {
		for _, name := range DiscoverNames {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				cfg, err := LoadFile(p)
				return cfg, p, err
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, "", nil
		}
		dir = parent
	}
}

// Environment variables read by ApplyEnv.
const (
	EnvOCRLanguage        = "DOCEXTRACT_OCR_LANGUAGE"
	EnvOCRBackend         = "DOCEXTRACT_OCR_BACKEND"
	EnvChunkingMaxChars   = "DOCEXTRACT_CHUNKING_MAX_CHARS"
	EnvChunkingMaxOverlap = "DOCEXTRACT_CHUNKING_MAX_OVERLAP"
	EnvCacheEnabled       = "DOCEXTRACT_CACHE_ENABLED"
	EnvTokenReductionMode = "DOCEXTRACT_TOKEN_REDUCTION_MODE"
	EnvOutputFormat       = "DOCEXTRACT_OUTPUT_FORMAT"
)

// ApplyEnv overrides c in place from DOCEXTRACT_* variables. Environment
// wins over file values. Missing sub-configs are created with defaults
// before the override. Invalid values return a validation error and leave
// the rest of c untouched.
func (c *ExtractionConfig) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvOCRLanguage); ok {
		if err := ValidateLanguageCode(v); err != nil {
			return err
		}
		c.ensureOCR().Language = v
	}
	if v, ok := os.LookupEnv(EnvOCRBackend); ok {
		if err := ValidateOCRBackend(v); err != nil {
			return err
		}
		c.ensureOCR().Backend = v
	}
	if v, ok := os.LookupEnv(EnvChunkingMaxChars); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return docerr.Validation("invalid value for %s: %q, must be a positive integer", EnvChunkingMaxChars, v)
		}
		ch := c.ensureChunking()
		if err := ValidateChunking(n, ch.MaxOverlap); err != nil {
			return err
		}
		ch.MaxChars = n
	}
	if v, ok := os.LookupEnv(EnvChunkingMaxOverlap); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return docerr.Validation("invalid value for %s: %q, must be a non-negative integer", EnvChunkingMaxOverlap, v)
		}
		ch := c.ensureChunking()
		if err := ValidateChunking(ch.MaxChars, n); err != nil {
			return err
		}
		if n == 0 {
			n = -1
		}
		ch.MaxOverlap = n
	}
	if v, ok := os.LookupEnv(EnvCacheEnabled); ok {
		switch strings.ToLower(v) {
		case "true":
			c.UseCache = Bool(true)
		case "false":
			c.UseCache = Bool(false)
		default:
			return docerr.Validation("invalid value for %s: %q, must be true or false", EnvCacheEnabled, v)
		}
	}
	if v, ok := os.LookupEnv(EnvTokenReductionMode); ok {
		if err := ValidateTokenReductionMode(v); err != nil {
			return err
		}
		if c.TokenReduction == nil {
			c.TokenReduction = &TokenReductionConfig{PreserveImportantWords: Bool(true)}
		}
		c.TokenReduction.Mode = v
	}
	if v, ok := os.LookupEnv(EnvOutputFormat); ok {
		f := OutputFormat(strings.ToLower(v))
		switch f {
		case OutputPlain, OutputMarkdown, OutputDjot, OutputHTML:
			c.OutputFormat = f
		default:
			return docerr.Validation("invalid value for %s: %q", EnvOutputFormat, v)
		}
	}
	return nil
}

func (c *ExtractionConfig) ensureOCR() *OCRConfig {
	if c.OCR == nil {
		c.OCR = &OCRConfig{Backend: DefaultOCRBackend, Language: DefaultOCRLanguage}
	}
	return c.OCR
}

func (c *ExtractionConfig) ensureChunking() *ChunkingConfig {
	if c.Chunking == nil {
		c.Chunking = &ChunkingConfig{MaxChars: DefaultChunkMaxChars, MaxOverlap: DefaultChunkMaxOverlap}
	}
	if c.Chunking.MaxChars <= 0 {
		c.Chunking.MaxChars = DefaultChunkMaxChars
	}
	return c.Chunking
}
