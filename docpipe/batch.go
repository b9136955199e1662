package docpipe

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/document"
	"github.com/hazyhaar/docextract/kit"
	"github.com/hazyhaar/docextract/observability"
)

// BatchItem is one input of a batch. Path is read when Data is empty.
type BatchItem struct {
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Path     string `json:"path,omitempty"`
}

// BatchResult is the outcome of one BatchItem. Result is always set; on
// failure Err is set too and Result is a placeholder whose
// Metadata.Error describes it.
type BatchResult struct {
	Result *document.Result `json:"result,omitempty"`
	Err    error            `json:"-"`
}

// BatchExtract extracts every item concurrently. Results come back in input
// order and one failure does not affect the others. An empty input yields
// an empty slice.
func (p *Pipeline) BatchExtract(ctx context.Context, items []BatchItem, cfg *config.ExtractionConfig) []BatchResult {
	out := make([]BatchResult, len(items))
	if len(items) == 0 {
		return out
	}
	p.metrics.RecordSimple(observability.MetricBatchSize, float64(len(items)), "count")

	batchID := kit.GetRequestID(ctx)
	if batchID == "" {
		batchID = kit.NewRequestID()
	}

	var g errgroup.Group
	if cfg != nil && cfg.MaxConcurrentExtractions > 0 {
		g.SetLimit(cfg.MaxConcurrentExtractions)
	}
	for i, item := range items {
		g.Go(func() error {
			ictx := kit.WithRequestID(ctx, batchID+"-"+strconv.Itoa(i))
			res, err := p.batchItem(ictx, item, cfg)
			if err != nil {
				out[i] = BatchResult{Result: failed(err), Err: err}
				return nil
			}
			out[i] = BatchResult{Result: res}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// BatchExtractSync is BatchExtract for callers without a context.
func (p *Pipeline) BatchExtractSync(items []BatchItem, cfg *config.ExtractionConfig) []BatchResult {
	return p.BatchExtract(context.Background(), items, cfg)
}

func (p *Pipeline) batchItem(ctx context.Context, item BatchItem, cfg *config.ExtractionConfig) (*document.Result, error) {
	data, mime := item.Data, item.MimeType
	if len(data) == 0 && item.Path != "" {
		var err error
		if data, mime, err = p.readFile(item.Path, mime); err != nil {
			return nil, err
		}
		ctx = kit.WithSource(ctx, item.Path)
	}
	return p.extract(ctx, data, mime, cfg)
}

// failed builds the placeholder result of a failed batch item.
func failed(err error) *document.Result {
	e := docerr.Ensure(err, docerr.KindInternal)
	r := &document.Result{}
	r.Metadata.Error = &document.ErrorMetadata{
		ErrorType: e.Kind.String(),
		Message:   e.Error(),
	}
	return r
}
