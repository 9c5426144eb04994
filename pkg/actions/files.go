package actions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/autoflow/pkg/automation"
)

// maxFileSize caps files read by EXTRACT_FILE_DATA.
const maxFileSize = 20 * 1024 * 1024

// fileReader loads a file from a URL or the local filesystem.
type fileReader struct {
	client *http.Client
	dir    string
}

// read loads file. source is "URL", "Path" or empty to decide by the
// file's scheme.
func (f *fileReader) read(ctx context.Context, file, source string) ([]byte, error) {
	switch strings.ToLower(source) {
	case "url":
		return f.fetch(ctx, file)
	case "path":
		return f.open(file)
	case "":
		if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
			return f.fetch(ctx, file)
		}
		return f.open(file)
	default:
		return nil, &automation.StepError{Code: automation.ErrInvalidInput, Message: fmt.Sprintf("source must be URL or Path, got %q", source)}
	}
}

func (f *fileReader) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, automation.Failf("invalid file url %q: %v", target, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &automation.ActionFailure{Message: "download file: " + resp.Status, Status: resp.StatusCode}
	}
	return readLimited(resp.Body)
}

func (f *fileReader) open(path string) ([]byte, error) {
	if !filepath.IsAbs(path) && f.dir != "" {
		path = filepath.Join(f.dir, path)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, automation.Failf("open file: %v", err)
	}
	defer fh.Close()
	return readLimited(fh)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFileSize+1))
	if err != nil {
		return nil, automation.Failf("read file: %v", err)
	}
	if len(data) > maxFileSize {
		return nil, automation.Failf("file exceeds %d bytes", maxFileSize)
	}
	return data, nil
}
