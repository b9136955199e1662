package docpipe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/kit"
	"github.com/hazyhaar/docextract/mimes"
	"github.com/hazyhaar/docextract/shield"
)

// multipartMemory is the in-memory part of a parsed upload; the rest
// spills to temp files.
const multipartMemory = 32 << 20

// RegisterHTTP registers the extraction API on a chi router:
//
//	POST   /extract       one document, multipart "file" or raw body
//	POST   /batch         multipart "files" or JSON base64 items, results in input order
//	POST   /detect        sniff the MIME type of the body
//	GET    /formats       supported MIME types
//	GET    /health
//	GET    /cache/stats
//	DELETE /cache
//
// Multipart requests may carry a "config" field holding a JSON
// ExtractionConfig. Raw bodies take the MIME type from ?mime_type= or the
// Content-Type header and the config from ?config=.
func (p *Pipeline) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/formats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"formats": p.SupportedFormats()})
	})
	r.Post("/extract", p.handleExtract)
	r.Post("/batch", p.handleBatch)
	r.Post("/detect", p.handleDetect)
	r.Get("/cache/stats", p.handleCacheStats)
	r.Delete("/cache", p.handleCacheClear)
}

type upload struct {
	name string
	mime string
	data []byte
}

func (p *Pipeline) handleExtract(w http.ResponseWriter, r *http.Request) {
	ups, cfg, err := readUploads(r, "file")
	if err != nil {
		writeError(w, err)
		return
	}
	if len(ups) != 1 {
		writeError(w, docerr.Validation("expected exactly one file, got %d", len(ups)))
		return
	}
	ctx := r.Context()
	if ups[0].name != "" {
		ctx = kit.WithSource(ctx, ups[0].name)
	}
	res, err := p.Extract(ctx, ups[0].data, ups[0].mime, cfg)
	if err != nil {
		shield.GetLogger(ctx).Warn("docpipe: extract failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (p *Pipeline) handleBatch(w http.ResponseWriter, r *http.Request) {
	var (
		items []BatchItem
		cfg   *config.ExtractionConfig
		err   error
	)
	if mimes.Normalize(r.Header.Get("Content-Type")) == mimes.JSON {
		items, cfg, err = readBatchJSON(r)
	} else {
		var ups []upload
		ups, cfg, err = readUploads(r, "files")
		for _, u := range ups {
			items = append(items, BatchItem{Data: u.data, MimeType: u.mime})
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": batchEntries(p.BatchExtract(r.Context(), items, cfg))})
}

func (p *Pipeline) handleDetect(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, docerr.Wrap(docerr.KindValidation, err, "read body"))
		return
	}
	if name := r.URL.Query().Get("name"); name != "" {
		if mime, err := p.Detect(name); err == nil {
			writeJSON(w, http.StatusOK, map[string]string{"mime_type": mime})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"mime_type": p.DetectBytes(data)})
}

func (p *Pipeline) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if p.cache == nil {
		writeError(w, docerr.NotFound("cache disabled"))
		return
	}
	s, err := p.cache.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (p *Pipeline) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if p.cache == nil {
		writeError(w, docerr.NotFound("cache disabled"))
		return
	}
	if err := p.cache.Clear(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// readBatchJSON decodes {"items": [{"data", "mime_type"}], "config": {}}.
// Server-side paths are not accepted over HTTP.
func readBatchJSON(r *http.Request) ([]BatchItem, *config.ExtractionConfig, error) {
	var req batchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, bodyError(err)
	}
	cfg, err := toolConfig(req.Config)
	if err != nil {
		return nil, nil, err
	}
	items := make([]BatchItem, len(req.Items))
	for i := range req.Items {
		if req.Items[i].Path != "" {
			return nil, nil, docerr.Validation("item %d: path is not accepted over HTTP", i)
		}
		if items[i], err = req.Items[i].item(); err != nil {
			return nil, nil, docerr.Ensure(err, docerr.KindValidation).WithContext("item", strconv.Itoa(i))
		}
	}
	return items, cfg, nil
}

// readUploads returns the documents of a request and its optional config.
func readUploads(r *http.Request, field string) ([]upload, *config.ExtractionConfig, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, nil, bodyError(err)
		}
		defer r.MultipartForm.RemoveAll()
		cfg, err := parseConfig(r.FormValue("config"))
		if err != nil {
			return nil, nil, err
		}
		var ups []upload
		for _, fh := range r.MultipartForm.File[field] {
			u, err := readPart(fh)
			if err != nil {
				return nil, nil, err
			}
			ups = append(ups, u)
		}
		return ups, cfg, nil
	}

	cfg, err := parseConfig(r.URL.Query().Get("config"))
	if err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, bodyError(err)
	}
	mime := r.URL.Query().Get("mime_type")
	if mime == "" && ct != "" && mimes.Normalize(ct) != mimes.Octet {
		mime = ct
	}
	return []upload{{mime: mime, data: data}}, cfg, nil
}

func readPart(fh *multipart.FileHeader) (upload, error) {
	f, err := fh.Open()
	if err != nil {
		return upload{}, docerr.Wrap(docerr.KindValidation, err, "open %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, bodyError(err)
	}
	u := upload{name: fh.Filename, data: data}
	if ct := fh.Header.Get("Content-Type"); ct != "" && mimes.Normalize(ct) != mimes.Octet {
		u.mime = ct
	} else if m, err := mimes.FromPath(fh.Filename); err == nil {
		u.mime = m
	}
	return u, nil
}

func parseConfig(s string) (*config.ExtractionConfig, error) {
	if s == "" {
		return nil, nil
	}
	return config.FromJSON([]byte(s))
}

func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return docerr.Wrap(docerr.KindValidation, err, "request body exceeds %d bytes", mbe.Limit)
	}
	return docerr.Wrap(docerr.KindValidation, err, "read request body")
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	switch docerr.KindOf(err) {
	case docerr.KindValidation, docerr.KindConfig:
		return http.StatusBadRequest
	case docerr.KindParsing:
		return http.StatusUnprocessableEntity
	case docerr.KindNotFound:
		return http.StatusNotFound
	case docerr.KindMissingDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := docerr.Ensure(err, docerr.KindInternal)
	writeJSON(w, statusFor(err), map[string]any{
		"error": e.Error(),
		"kind":  e.Kind.String(),
		"code":  e.Code(),
	})
}
