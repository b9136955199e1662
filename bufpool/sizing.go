package bufpool

import "math"

// SizeHint estimates pool needs for one document.
type SizeHint struct {
	// EstimatedTextSize is the expected size of the extracted text.
	EstimatedTextSize int `json:"estimated_text_size"`

	StringBufferCount    int `json:"string_buffer_count"`
	StringBufferCapacity int `json:"string_buffer_capacity"`
	ByteBufferCount      int `json:"byte_buffer_count"`
	ByteBufferCapacity   int `json:"byte_buffer_capacity"`
}

// TotalMemory is the memory the hinted buffers would hold.
func (h SizeHint) TotalMemory() int {
	return h.StringBufferCount*h.StringBufferCapacity + h.ByteBufferCount*h.ByteBufferCapacity
}

// textRatio is the expected extracted-text size as a fraction of the input.
func textRatio(mime string) float64 {
	switch mime {
	case "text/plain", "text/markdown", "text/x-markdown":
		return 0.95
	case "text/csv", "text/tab-separated-values":
		return 0.90
	case "text/html":
		return 0.65
	case "application/xml", "text/xml":
		return 0.60
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text":
		return 0.45
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return 0.40
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return 0.35
	case "application/pdf", "application/gzip":
		return 0.25
	case "application/json":
		return 0.80
	case "application/x-yaml", "text/yaml":
		return 0.85
	case "application/zip":
		return 0.30
	}
	return 0.50
}

// baseBufferCount is how many string buffers a format usually keeps busy.
func baseBufferCount(mime string) int {
	switch mime {
	case "text/plain", "text/markdown", "text/x-markdown":
		return 2
	case "text/html":
		return 8
	case "application/pdf":
		return 6
	case "application/xml", "text/xml",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.oasis.opendocument.text":
		return 5
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/json", "application/x-yaml", "text/yaml":
		return 4
	}
	return 3
}

// EstimatePoolSize sizes buffers for a document of fileSize bytes.
func EstimatePoolSize(fileSize int64, mime string) SizeHint {
	count := baseBufferCount(mime)
	switch {
	case fileSize > 10_000_000:
		count += 6
	case fileSize > 1_000_000:
		count += 4
	case fileSize > 100_000:
		count += 2
	}

	var capacity int
	switch {
	case fileSize <= 10_000:
		capacity = classSizes[0]
	case fileSize <= 100_000:
		capacity = classSizes[1]
	case fileSize <= 1_000_000:
		capacity = classSizes[2]
	case fileSize <= 10_000_000:
		capacity = classSizes[3]
	default:
		capacity = classSizes[4]
	}

	byteCount := count / 2
	if byteCount < 1 {
		byteCount = 1
	}
	return SizeHint{
		EstimatedTextSize:    int(math.Ceil(float64(fileSize) * textRatio(mime))),
		StringBufferCount:    count,
		StringBufferCapacity: capacity,
		ByteBufferCount:      byteCount,
		ByteBufferCapacity:   capacity * 8,
	}
}
