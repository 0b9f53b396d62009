package transport

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// NewHTTPClient builds the one shared HTTPS client. Keep-alive pooling,
// HTTP/1.1 is sufficient for the REST surface.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// NewRequest builds a request from a pre-rendered body. The body bytes are
// owned by the caller and may be replayed across retries.
func NewRequest(ctx context.Context, method, url, contentType string, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// UploadFile is one attachment for a multipart request.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

// BuildMultipart renders a multipart/form-data body carrying an optional
// payload_json part plus file parts, the shape webhook execute and
// message-with-attachment endpoints expect. Rendering up front lets the
// governor replay the body on retry without re-reading file sources.
func BuildMultipart(payloadJSON []byte, files []UploadFile) (body []byte, contentType string, err error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if payloadJSON != nil {
		if err := w.WriteField("payload_json", string(payloadJSON)); err != nil {
			return nil, "", err
		}
	}
	for i, f := range files {
		part, err := w.CreateFormFile(formFileName(i, len(files)), f.Name)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func formFileName(i, total int) string {
	if total == 1 {
		return "file"
	}
	return "files[" + strconv.Itoa(i) + "]"
}
