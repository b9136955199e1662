package plugin

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/mimes"
)

// Registry holds registered plugins, one collection per category. It is
// safe for concurrent use. Pass a *Registry explicitly; Default exists for
// outer entry points only.
type Registry struct {
	extractors     collection[DocumentExtractor]
	ocrBackends    collection[OcrBackend]
	postProcessors collection[PostProcessor]
	validators     collection[Validator]
	logger         *slog.Logger
}

// NewRegistry creates an empty registry. logger may be nil.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger}
	r.extractors.kind = "extractor"
	r.extractors.check = func(e DocumentExtractor) error {
		if len(e.SupportedMimeTypes()) == 0 {
			return docerr.Plugin("extractor %q declares no MIME types", e.Name())
		}
		return nil
	}
	r.ocrBackends.kind = "ocr backend"
	r.postProcessors.kind = "post-processor"
	r.validators.kind = "validator"
	r.extractors.logger = logger
	r.ocrBackends.logger = logger
	r.postProcessors.logger = logger
	r.validators.logger = logger
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = NewRegistry(nil) })
	return defaultReg
}

// RegisterExtractor adds e. It fails on an empty or duplicate name, on an
// empty MIME list, or when e's Initialize fails; the registry is unchanged
// on failure.
func (r *Registry) RegisterExtractor(e DocumentExtractor) error { return r.extractors.register(e, false) }

// RegisterBuiltinExtractor adds e as a built-in. A built-in is never
// displaced by a user extractor claiming the same MIME type, whatever its
// priority, until the built-in is unregistered.
func (r *Registry) RegisterBuiltinExtractor(e DocumentExtractor) error {
	return r.extractors.register(e, true)
}

// RegisterOcrBackend adds b.
func (r *Registry) RegisterOcrBackend(b OcrBackend) error { return r.ocrBackends.register(b, false) }

// RegisterPostProcessor adds p.
func (r *Registry) RegisterPostProcessor(p PostProcessor) error {
	return r.postProcessors.register(p, false)
}

// RegisterValidator adds v.
func (r *Registry) RegisterValidator(v Validator) error { return r.validators.register(v, false) }

// UnregisterExtractor removes the extractor called name, calling its
// Shutdown. Removing an unknown name is a no-op.
func (r *Registry) UnregisterExtractor(name string) error { return r.extractors.unregister(name) }

// UnregisterOcrBackend removes the backend called name.
func (r *Registry) UnregisterOcrBackend(name string) error { return r.ocrBackends.unregister(name) }

// UnregisterPostProcessor removes the post-processor called name.
func (r *Registry) UnregisterPostProcessor(name string) error {
	return r.postProcessors.unregister(name)
}

// UnregisterValidator removes the validator called name.
func (r *Registry) UnregisterValidator(name string) error { return r.validators.unregister(name) }

// ListExtractors returns extractor names in registration order.
func (r *Registry) ListExtractors() []string { return r.extractors.names() }

// ListOcrBackends returns backend names in registration order.
func (r *Registry) ListOcrBackends() []string { return r.ocrBackends.names() }

// ListPostProcessors returns post-processor names in registration order.
func (r *Registry) ListPostProcessors() []string { return r.postProcessors.names() }

// ListValidators returns validator names in registration order.
func (r *Registry) ListValidators() []string { return r.validators.names() }

// ClearExtractors removes every extractor.
func (r *Registry) ClearExtractors() error { return r.extractors.clear() }

// ClearOcrBackends removes every OCR backend.
func (r *Registry) ClearOcrBackends() error { return r.ocrBackends.clear() }

// ClearPostProcessors removes every post-processor.
func (r *Registry) ClearPostProcessors() error { return r.postProcessors.clear() }

// ClearValidators removes every validator.
func (r *Registry) ClearValidators() error { return r.validators.clear() }

// Shutdown clears every category.
func (r *Registry) Shutdown() error {
	return errors.Join(
		r.ClearPostProcessors(),
		r.ClearValidators(),
		r.ClearOcrBackends(),
		r.ClearExtractors(),
	)
}

// ResolveExtractor picks the extractor for mime. Exact matches are tried
// before family wildcards ("image/*"). Within a match, built-ins win over
// user extractors; among the rest the highest priority wins and ties go to
// the earliest registration.
func (r *Registry) ResolveExtractor(mime string) (DocumentExtractor, error) {
	mime = mimes.Normalize(mime)
	all, builtin := r.extractors.tiered()

	if e := pick(all, builtin, mime); e != nil {
		return e, nil
	}
	if fam := mimes.Family(mime); fam != "" {
		if e := pick(all, builtin, fam); e != nil {
			return e, nil
		}
	}
	return nil, docerr.NotFound("no extractor for MIME type %q", mime)
}

func pick(all []DocumentExtractor, builtin []bool, mime string) DocumentExtractor {
	var (
		best        DocumentExtractor
		bestBuiltin bool
		bestPrio    int
	)
	for i, e := range all {
		if !supports(e, mime) {
			continue
		}
		p := priorityOf(e)
		switch {
		case best == nil:
		case builtin[i] != bestBuiltin:
			if !builtin[i] {
				continue
			}
		case p <= bestPrio:
			continue
		}
		best, bestBuiltin, bestPrio = e, builtin[i], p
	}
	return best
}

func supports(e DocumentExtractor, mime string) bool {
	for _, m := range e.SupportedMimeTypes() {
		if strings.EqualFold(m, mime) {
			return true
		}
	}
	return false
}

// Extractor returns the extractor called name.
func (r *Registry) Extractor(name string) (DocumentExtractor, bool) { return r.extractors.get(name) }

// OcrBackend returns the OCR backend called name, or a not-found error.
func (r *Registry) OcrBackend(name string) (OcrBackend, error) {
	b, ok := r.ocrBackends.get(name)
	if !ok {
		return nil, docerr.NotFound("OCR backend %q is not registered", name)
	}
	return b, nil
}

// PostProcessors returns the post-processors in execution order: by stage,
// then registration order.
func (r *Registry) PostProcessors() []PostProcessor {
	all := r.postProcessors.snapshot()
	sort.SliceStable(all, func(i, j int) bool { return stageOf(all[i]) < stageOf(all[j]) })
	return all
}

// Validators returns the validators in registration order.
func (r *Registry) Validators() []Validator { return r.validators.snapshot() }

// SupportedMimeTypes returns every MIME type some extractor claims, sorted.
func (r *Registry) SupportedMimeTypes() []string {
	seen := map[string]bool{}
	for _, e := range r.extractors.snapshot() {
		for _, m := range e.SupportedMimeTypes() {
			seen[strings.ToLower(m)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// collection is one category: an ordered list guarded by its own lock.
type collection[T Plugin] struct {
	kind   string
	check  func(T) error
	logger *slog.Logger

	mu      sync.RWMutex
	items   []T
	builtin map[string]bool
}

func (c *collection[T]) indexLocked(name string) int {
	for i, it := range c.items {
		if it.Name() == name {
			return i
		}
	}
	return -1
}

func (c *collection[T]) register(p T, builtin bool) error {
	if any(p) == nil {
		return docerr.Plugin("nil %s", c.kind)
	}
	name, err := docerr.Guard(c.kind+":name", nil, func() (string, error) { return p.Name(), nil })
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return docerr.Plugin("%s name must not be empty", c.kind)
	}
	if c.check != nil {
		if _, err := docerr.Guard(c.kind+":"+name, nil, func() (struct{}, error) { return struct{}{}, c.check(p) }); err != nil {
			return err
		}
	}

	c.mu.RLock()
	dup := c.indexLocked(name) >= 0
	c.mu.RUnlock()
	if dup {
		return docerr.Plugin("%s %q is already registered", c.kind, name)
	}

	// Initialize outside the lock: it may be slow.
	if in, ok := any(p).(Initializer); ok {
		_, err := docerr.Guard(c.kind+":"+name+":initialize", nil, func() (struct{}, error) {
			return struct{}{}, in.Initialize()
		})
		if err != nil {
			return docerr.Wrap(docerr.KindPlugin, err, "initialize %s %q", c.kind, name)
		}
	}

	c.mu.Lock()
	if c.indexLocked(name) >= 0 {
		c.mu.Unlock()
		// Lost a race with a concurrent registration of the same name.
		shutdown(p)
		return docerr.Plugin("%s %q is already registered", c.kind, name)
	}
	c.items = append(c.items, p)
	if builtin {
		if c.builtin == nil {
			c.builtin = map[string]bool{}
		}
		c.builtin[name] = true
	}
	c.mu.Unlock()

	c.logger.Debug("plugin registered", "kind", c.kind, "name", name, "builtin", builtin)
	return nil
}

func (c *collection[T]) unregister(name string) error {
	c.mu.Lock()
	i := c.indexLocked(name)
	if i < 0 {
		c.mu.Unlock()
		return nil
	}
	p := c.items[i]
	c.items = append(c.items[:i:i], c.items[i+1:]...)
	delete(c.builtin, name)
	c.mu.Unlock()

	c.logger.Debug("plugin unregistered", "kind", c.kind, "name", name)
	if err := shutdown(p); err != nil {
		return docerr.Wrap(docerr.KindPlugin, err, "shutdown %s %q", c.kind, name)
	}
	return nil
}

func (c *collection[T]) clear() error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.builtin = nil
	c.mu.Unlock()

	var errs []error
	for _, p := range items {
		if err := shutdown(p); err != nil {
			errs = append(errs, docerr.Wrap(docerr.KindPlugin, err, "shutdown %s %q", c.kind, p.Name()))
		}
	}
	return errors.Join(errs...)
}

func (c *collection[T]) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.items))
	for i, it := range c.items {
		out[i] = it.Name()
	}
	return out
}

func (c *collection[T]) snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]T(nil), c.items...)
}

// tiered returns a snapshot and, per item, whether it is a built-in.
func (c *collection[T]) tiered() ([]T, []bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	flags := make([]bool, len(c.items))
	for i, it := range c.items {
		flags[i] = c.builtin[it.Name()]
	}
	return append([]T(nil), c.items...), flags
}

func (c *collection[T]) get(name string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(name); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

func shutdown(p any) error {
	s, ok := p.(Shutdowner)
	if !ok {
		return nil
	}
	_, err := docerr.Guard("plugin:shutdown", nil, func() (struct{}, error) { return struct{}{}, s.Shutdown() })
	return err
}
