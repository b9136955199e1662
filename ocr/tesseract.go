package ocr

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sort"
	"strings"

	"github.com/hazyhaar/docextract/config"
	"github.com/hazyhaar/docextract/docerr"
)

// Tesseract is the built-in OCR backend. It pipes the image to the
// tesseract CLI on stdin and reads text from stdout.
type Tesseract struct {
	// Binary is the executable name or path. Default "tesseract".
	Binary string
}

func (t *Tesseract) Name() string { return config.DefaultOCRBackend }

func (t *Tesseract) binary() string {
	if t.Binary == "" {
		return "tesseract"
	}
	return t.Binary
}

// Available reports whether the binary can be found.
func (t *Tesseract) Available() bool {
	_, err := exec.LookPath(t.binary())
	return err == nil
}

// ExtractText runs tesseract on image. Params from cfg become flags:
// "psm" and "oem" map to --psm and --oem, anything else to -c key=value.
func (t *Tesseract) ExtractText(ctx context.Context, image []byte, language string, cfg *config.OCRConfig) (string, error) {
	bin, err := exec.LookPath(t.binary())
	if err != nil {
		return "", docerr.MissingDependency("ocr: %s not found in PATH", t.binary())
	}
	if language == "" {
		language = config.DefaultOCRLanguage
	}

	args := []string{"stdin", "stdout", "-l", language}
	if cfg != nil {
		keys := make([]string, 0, len(cfg.Params))
		for k := range cfg.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch k {
			case "psm", "oem":
				args = append(args, "--"+k, cfg.Params[k])
			default:
				args = append(args, "-c", k+"="+cfg.Params[k])
			}
		}
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", docerr.FromContext(ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", docerr.Execution("ocr: tesseract exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", docerr.Wrap(docerr.KindExecution, err, "ocr: run tesseract")
	}
	return strings.TrimSpace(stdout.String()), nil
}
