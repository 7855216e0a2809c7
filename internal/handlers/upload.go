package handlers

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/ShanuX69420/CHEAPPCGAMES.PK/internal/chat"
)

const (
	// maxChatBody caps the whole multipart body of a chat post.
	maxChatBody  = chat.MaxImageBytes * 2
	maxChatField = 64 << 10
)

// ChatUploadMiddleware bounds multipart chat posts before anything else
// reads the body, CSRF included. The form is re-encoded in memory: plain
// fields pass through, an image over chat.MaxImageBytes is dropped, and once
// the body passes maxChatBody the rest is ignored. Text sent ahead of an
// oversized image still reaches the handler.
func ChatUploadMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/chat") {
			next.ServeHTTP(w, r)
			return
		}
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" || params["boundary"] == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, contentType, err := boundChatForm(http.MaxBytesReader(w, r.Body, maxChatBody), params["boundary"])
		if err != nil {
			slog.Warn("Malformed chat upload", "path", r.URL.Path, "error", err)
			http.Error(w, "Invalid form data", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
		r.Header.Set("Content-Type", contentType)
		r.Header.Set("Content-Length", strconv.Itoa(len(body)))
		next.ServeHTTP(w, r)
	})
}

func boundChatForm(body io.Reader, boundary string) ([]byte, string, error) {
	var buf bytes.Buffer
	out := multipart.NewWriter(&buf)
	in := multipart.NewReader(body, boundary)

	var tooLarge *http.MaxBytesError
	for {
		part, err := in.NextPart()
		if err == io.EOF {
			break
		}
		if errors.As(err, &tooLarge) {
			slog.Warn("Chat upload truncated", "limit", tooLarge.Limit)
			break
		}
		if err != nil {
			return nil, "", err
		}
		if part.FormName() == "" {
			continue
		}

		if part.FileName() == "" {
			data, err := io.ReadAll(io.LimitReader(part, maxChatField))
			if errors.As(err, &tooLarge) {
				slog.Warn("Chat upload truncated", "limit", tooLarge.Limit)
				break
			}
			if err != nil {
				return nil, "", err
			}
			if err := out.WriteField(part.FormName(), string(data)); err != nil {
				return nil, "", err
			}
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, chat.MaxImageBytes+1))
		if errors.As(err, &tooLarge) {
			slog.Warn("Chat upload truncated", "limit", tooLarge.Limit, "file", part.FileName())
			break
		}
		if err != nil {
			return nil, "", err
		}
		if len(data) > chat.MaxImageBytes {
			slog.Warn("Chat image dropped", "file", part.FileName(), "reason", "size")
			continue
		}
		fw, err := out.CreatePart(part.Header)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, "", err
		}
	}

	if err := out.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), out.FormDataContentType(), nil
}
