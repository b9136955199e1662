package docpipe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
	"github.com/hazyhaar/docextract/kit"
)

// RegisterMCP registers docextract tools on an MCP server.
func (p *Pipeline) RegisterMCP(srv *mcp.Server) {
	p.registerExtractTool(srv)
	p.registerBatchTool(srv)
	p.registerDetectTool(srv)
	p.registerFormatsTool(srv)
	p.registerCacheStatsTool(srv)
	p.registerCacheClearTool(srv)
}

// endpoint applies the middlewares every tool shares.
func (p *Pipeline) endpoint(e kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Recovery(), kit.RequestID(), kit.Logging(p.logger))(e)
}

var configSchema = map[string]any{
	"type":        "object",
	"description": "Extraction config, same shape as docextract.yaml",
}

// --- extract ---

type extractReq struct {
	Path     string          `json:"path"`
	Data     string          `json:"data"` // base64
	MimeType string          `json:"mime_type"`
	Config   json.RawMessage `json:"config"`
}

// toolConfig parses a config argument strictly, like the HTTP API does.
func toolConfig(raw json.RawMessage) (*config.ExtractionConfig, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return config.FromJSON(raw)
}

func (r *extractReq) item() (BatchItem, error) {
	if r.Path == "" && r.Data == "" {
		return BatchItem{}, docerr.Validation("one of path or data is required")
	}
	it := BatchItem{Path: r.Path, MimeType: r.MimeType}
	if r.Data != "" {
		b, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			return BatchItem{}, docerr.Wrap(docerr.KindValidation, err, "data is not base64")
		}
		it.Data = b
	}
	return it, nil
}

func (p *Pipeline) registerExtractTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_extract",
		Description: "Extract text, tables and metadata from a document given by file path or base64 data.",
		InputSchema: kit.InputSchema(map[string]any{
			"path":      map[string]any{"type": "string", "description": "File path to extract"},
			"data":      map[string]any{"type": "string", "description": "Base64 document content"},
			"mime_type": map[string]any{"type": "string", "description": "MIME type; detected when empty"},
			"config":    configSchema,
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*extractReq)
		it, err := r.item()
		if err != nil {
			return nil, err
		}
		cfg, err := toolConfig(r.Config)
		if err != nil {
			return nil, err
		}
		if len(it.Data) == 0 {
			return p.ExtractFile(ctx, it.Path, it.MimeType, cfg)
		}
		return p.Extract(ctx, it.Data, it.MimeType, cfg)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r extractReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.endpoint(endpoint), decode)
}

// --- batch ---

type batchReq struct {
	Items  []extractReq    `json:"items"`
	Config json.RawMessage `json:"config"`
}

type batchEntry struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   int    `json:"code,omitempty"`
}

func (p *Pipeline) registerBatchTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_batch",
		Description: "Extract several documents concurrently. Results keep input order; failures are reported per item.",
		InputSchema: kit.InputSchema(map[string]any{
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":      map[string]any{"type": "string"},
						"data":      map[string]any{"type": "string"},
						"mime_type": map[string]any{"type": "string"},
					},
				},
			},
			"config": configSchema,
		}, []string{"items"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*batchReq)
		cfg, err := toolConfig(r.Config)
		if err != nil {
			return nil, err
		}
		items := make([]BatchItem, len(r.Items))
		for i := range r.Items {
			it, err := r.Items[i].item()
			if err != nil {
				return nil, docerr.Ensure(err, docerr.KindValidation).WithContext("item", strconv.Itoa(i))
			}
			items[i] = it
		}
		return map[string]any{"results": batchEntries(p.BatchExtract(ctx, items, cfg))}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r batchReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.endpoint(endpoint), decode)
}

func batchEntries(results []BatchResult) []batchEntry {
	out := make([]batchEntry, len(results))
	for i, r := range results {
		if r.Err != nil {
			e := docerr.Ensure(r.Err, docerr.KindInternal)
			out[i] = batchEntry{Error: e.Error(), Code: e.Code()}
			continue
		}
		out[i] = batchEntry{Result: r.Result}
	}
	return out
}

// --- detect ---

type detectReq struct {
	Path string `json:"path"`
	Data string `json:"data"`
}

func (p *Pipeline) registerDetectTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_detect",
		Description: "Detect the MIME type of a file from its extension, or of base64 content by sniffing.",
		InputSchema: kit.InputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path to detect"},
			"data": map[string]any{"type": "string", "description": "Base64 content to sniff"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*detectReq)
		if r.Data != "" {
			b, err := base64.StdEncoding.DecodeString(r.Data)
			if err != nil {
				return nil, docerr.Wrap(docerr.KindValidation, err, "data is not base64")
			}
			return map[string]any{"mime_type": p.DetectBytes(b)}, nil
		}
		mime, err := p.Detect(r.Path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"mime_type": mime}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r detectReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.endpoint(endpoint), decode)
}

// --- formats ---

func (p *Pipeline) registerFormatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_formats",
		Description: "List the MIME types the registered extractors handle.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return map[string]any{"formats": p.SupportedFormats()}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.endpoint(endpoint), decode)
}

// --- cache ---

func (p *Pipeline) registerCacheStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_cache_stats",
		Description: "Report result cache hits, misses and sizes.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if p.cache == nil {
			return nil, docerr.NotFound("cache disabled")
		}
		return p.cache.Stats(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.endpoint(endpoint), decode)
}

func (p *Pipeline) registerCacheClearTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "docextract_cache_clear",
		Description: "Drop every cached extraction result.",
		InputSchema: kit.InputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		if p.cache == nil {
			return nil, docerr.NotFound("cache disabled")
		}
		if err := p.cache.Clear(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, p.endpoint(endpoint), decode)
}
