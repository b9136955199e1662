package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
)

type fakeExtractor struct {
	name     string
	mimes    []string
	prio     int
	initErr  error
	inits    atomic.Int32
	shutdown atomic.Int32
}

func (f *fakeExtractor) Name() string                 { return f.name }
func (f *fakeExtractor) SupportedMimeTypes() []string { return f.mimes }
func (f *fakeExtractor) Extract(context.Context, []byte, string, *config.ExtractionConfig) (*document.Result, error) {
	return &document.Result{Content: f.name}, nil
}
func (f *fakeExtractor) Initialize() error { f.inits.Add(1); return f.initErr }
func (f *fakeExtractor) Shutdown() error   { f.shutdown.Add(1); return nil }

type prioExtractor struct {
	*fakeExtractor
}

func (p prioExtractor) Priority() int { return p.prio }

type namedPost struct {
	name  string
	stage Stage
}

func (n namedPost) Name() string            { return n.name }
func (n namedPost) ProcessingStage() Stage { return n.stage }
func (n namedPost) Process(_ context.Context, r *document.Result, _ *config.ExtractionConfig) (*document.Result, error) {
	return r, nil
}

type namedValidator string

func (n namedValidator) Name() string { return string(n) }
func (n namedValidator) Validate(context.Context, *document.Result, *config.ExtractionConfig) error {
	return nil
}

func TestRegisterExtractor_Uniqueness(t *testing.T) {
	r := NewRegistry(nil)
	a := &fakeExtractor{name: "x", mimes: []string{"text/plain"}}
	if err := r.RegisterExtractor(a); err != nil {
		t.Fatal(err)
	}
	err := r.RegisterExtractor(&fakeExtractor{name: "x", mimes: []string{"text/html"}})
	if !errors.Is(err, docerr.ErrPlugin) {
		t.Fatalf("duplicate: want plugin error, got %v", err)
	}
	if got := r.ListExtractors(); len(got) != 1 {
		t.Fatalf("list after duplicate: %v", got)
	}

	// Re-registering after unregister succeeds.
	if err := r.UnregisterExtractor("x"); err != nil {
		t.Fatal(err)
	}
	if a.shutdown.Load() != 1 {
		t.Error("unregister must call Shutdown")
	}
	if err := r.RegisterExtractor(&fakeExtractor{name: "x", mimes: []string{"text/plain"}}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestRegisterExtractor_Rejects(t *testing.T) {
	r := NewRegistry(nil)
	tests := []struct {
		name string
		ext  DocumentExtractor
	}{
		{"empty name", &fakeExtractor{name: " ", mimes: []string{"a/b"}}},
		{"no mimes", &fakeExtractor{name: "n"}},
		{"nil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.RegisterExtractor(tt.ext); !errors.Is(err, docerr.ErrPlugin) {
				t.Errorf("got %v", err)
			}
		})
	}
}

func TestRegisterExtractor_InitFailureLeavesRegistryUnchanged(t *testing.T) {
	r := NewRegistry(nil)
	bad := &fakeExtractor{name: "bad", mimes: []string{"a/b"}, initErr: errors.New("no model")}
	if err := r.RegisterExtractor(bad); !errors.Is(err, docerr.ErrPlugin) {
		t.Fatalf("got %v", err)
	}
	if len(r.ListExtractors()) != 0 {
		t.Fatal("failed init must not register")
	}
	if bad.inits.Load() != 1 {
		t.Error("Initialize should have been called once")
	}
}

func TestUnregister_UnknownIsNoop(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.UnregisterExtractor("ghost"); err != nil {
		t.Fatal(err)
	}
	if err := r.ClearValidators(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveExtractor(t *testing.T) {
	r := NewRegistry(nil)
	builtin := &fakeExtractor{name: "builtin-text", mimes: []string{"text/plain"}}
	wild := &fakeExtractor{name: "images", mimes: []string{"image/*"}}
	sameTier := &fakeExtractor{name: "late-text", mimes: []string{"text/plain"}}
	high := prioExtractor{&fakeExtractor{name: "fancy-png", mimes: []string{"image/png"}, prio: 10}}

	for _, e := range []DocumentExtractor{builtin, wild, sameTier, high} {
		if err := r.RegisterExtractor(e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		mime string
		want string
	}{
		{"text/plain", "builtin-text"}, // tie goes to earliest registration
		{"TEXT/PLAIN; charset=utf-8", "builtin-text"},
		{"image/png", "fancy-png"}, // exact beats wildcard even with lower priority
		{"image/gif", "images"},
	}
	for _, tt := range tests {
		e, err := r.ResolveExtractor(tt.mime)
		if err != nil {
			t.Fatalf("%s: %v", tt.mime, err)
		}
		if e.Name() != tt.want {
			t.Errorf("%s: got %s, want %s", tt.mime, e.Name(), tt.want)
		}
	}

	if _, err := r.ResolveExtractor("application/x-nothing"); !errors.Is(err, docerr.ErrNotFound) {
		t.Errorf("unknown mime: got %v", err)
	}
}

func TestResolveExtractor_BuiltinNotDisplaced(t *testing.T) {
	// WHAT: a later user extractor never displaces a built-in for the same
	// MIME type, whatever its priority, until the built-in is unregistered.
	r := NewRegistry(nil)
	if err := r.RegisterBuiltinExtractor(&fakeExtractor{name: "pdf", mimes: []string{"application/pdf"}}); err != nil {
		t.Fatal(err)
	}
	r.RegisterExtractor(prioExtractor{&fakeExtractor{name: "mine", mimes: []string{"application/pdf"}, prio: 100}})
	r.RegisterExtractor(prioExtractor{&fakeExtractor{name: "better", mimes: []string{"application/pdf"}, prio: 90}})

	e, err := r.ResolveExtractor("application/pdf")
	if err != nil || e.Name() != "pdf" {
		t.Fatalf("with built-in: got %v, %v", e, err)
	}

	if err := r.UnregisterExtractor("pdf"); err != nil {
		t.Fatal(err)
	}
	e, err = r.ResolveExtractor("application/pdf")
	if err != nil || e.Name() != "mine" {
		t.Fatalf("after unregister: got %v, %v", e, err)
	}
}

func TestResolveExtractor_PriorityAmongUserPlugins(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterExtractor(&fakeExtractor{name: "first", mimes: []string{"text/csv"}})
	r.RegisterExtractor(prioExtractor{&fakeExtractor{name: "better", mimes: []string{"text/csv"}, prio: 90}})
	r.RegisterExtractor(prioExtractor{&fakeExtractor{name: "tie", mimes: []string{"text/csv"}, prio: 90}})

	e, err := r.ResolveExtractor("text/csv")
	if err != nil || e.Name() != "better" {
		t.Fatalf("got %v, %v", e, err)
	}
}

func TestResolveExtractor_BuiltinWinsLaterRegistration(t *testing.T) {
	// WHAT: the built-in tier holds even when the user plugin came first.
	r := NewRegistry(nil)
	r.RegisterExtractor(prioExtractor{&fakeExtractor{name: "early", mimes: []string{"text/html"}, prio: 100}})
	r.RegisterBuiltinExtractor(&fakeExtractor{name: "html", mimes: []string{"text/html"}})

	if e, err := r.ResolveExtractor("text/html"); err != nil || e.Name() != "html" {
		t.Fatalf("got %v, %v", e, err)
	}
	if err := r.ClearExtractors(); err != nil {
		t.Fatal(err)
	}
	r.RegisterExtractor(&fakeExtractor{name: "html", mimes: []string{"text/html"}})
	r.RegisterExtractor(prioExtractor{&fakeExtractor{name: "late", mimes: []string{"text/html"}, prio: 60}})
	if e, _ := r.ResolveExtractor("text/html"); e == nil || e.Name() != "late" {
		t.Errorf("re-registered name keeps no built-in mark: got %v", e)
	}
}

func TestPostProcessors_StageThenRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterPostProcessor(namedPost{"m1", StageMiddle})
	r.RegisterPostProcessor(namedPost{"late", StageLate})
	r.RegisterPostProcessor(namedPost{"early", StageEarly})
	r.RegisterPostProcessor(namedPost{"m2", StageMiddle})

	var got []string
	for _, p := range r.PostProcessors() {
		got = append(got, p.Name())
	}
	want := []string{"early", "m1", "m2", "late"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order: got %v, want %v", got, want)
	}
	if fmt.Sprint(r.ListPostProcessors()) != "[m1 late early m2]" {
		t.Errorf("list keeps registration order: %v", r.ListPostProcessors())
	}
}

func TestValidators_RegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)
	for _, n := range []string{"c", "a", "b"} {
		if err := r.RegisterValidator(namedValidator(n)); err != nil {
			t.Fatal(err)
		}
	}
	if fmt.Sprint(r.ListValidators()) != "[c a b]" {
		t.Errorf("got %v", r.ListValidators())
	}
}

func TestOcrBackend_NotFound(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.OcrBackend("tesseract"); !errors.Is(err, docerr.ErrNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestConcurrentRegistration_ExactlyOneWins(t *testing.T) {
	// WHAT: N goroutines register the same name at once.
	// WHY: the duplicate check and the insert are two lock scopes; the
	// second check must catch the race.
	r := NewRegistry(nil)
	const n = 50
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.RegisterExtractor(&fakeExtractor{name: "same", mimes: []string{"a/b"}}) == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 {
		t.Fatalf("%d registrations succeeded, want 1", ok.Load())
	}
	if len(r.ListExtractors()) != 1 {
		t.Fatalf("list: %v", r.ListExtractors())
	}
}

func TestSupportedMimeTypes(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterExtractor(&fakeExtractor{name: "a", mimes: []string{"text/plain", "text/markdown"}})
	r.RegisterExtractor(&fakeExtractor{name: "b", mimes: []string{"text/plain"}})
	if fmt.Sprint(r.SupportedMimeTypes()) != "[text/markdown text/plain]" {
		t.Errorf("got %v", r.SupportedMimeTypes())
	}
}

func TestShutdown_ClearsAll(t *testing.T) {
	r := NewRegistry(nil)
	e := &fakeExtractor{name: "e", mimes: []string{"a/b"}}
	r.RegisterExtractor(e)
	r.RegisterValidator(namedValidator("v"))
	if err := r.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if len(r.ListExtractors())+len(r.ListValidators()) != 0 {
		t.Error("shutdown must clear")
	}
	if e.shutdown.Load() != 1 {
		t.Error("extractor Shutdown not called")
	}
}
