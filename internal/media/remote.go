package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RemoteTransformer delegates compression to the media transform service. It is
// used for video, which is not re-encoded in process.
type RemoteTransformer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewRemoteTransformer(baseURL, apiKey string, timeout time.Duration) *RemoteTransformer {
	return &RemoteTransformer{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (t *RemoteTransformer) Transform(ctx context.Context, data []byte, mimeType string, env Envelope) ([]byte, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fields := map[string]string{
		"max_bytes":     strconv.FormatInt(env.MaxBytes, 10),
		"max_dimension": strconv.Itoa(env.MaxDimension),
		"mime_type":     mimeType,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	part, err := w.CreateFormFile("file", "input")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transform", body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("transform request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("error reading transform response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("transform service returned %d: %s", resp.StatusCode, truncate(out, 200))
	}
	if int64(len(out)) > env.MaxBytes {
		return nil, "", fmt.Errorf("transform service returned %d bytes, limit is %d", len(out), env.MaxBytes)
	}

	outMime := resp.Header.Get("Content-Type")
	if outMime == "" {
		outMime = mimeType
	}
	return out, outMime, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
