package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/storage"
	"github.com/rs/zerolog/log"
)

const (
	varKeyPrefix  = "kb:var:"
	fileKeyPrefix = "kb:file:"
)

var doubleBracePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Uploader pushes file content to the AI backend and returns the
// opaque upload URI that makes the file attachable.
type Uploader interface {
	Upload(ctx context.Context, name, mimeType string, data []byte) (string, error)
}

// storedFile is a file handle plus its raw content, persisted so a
// stale upload handle can be re-resolved by re-uploading.
type storedFile struct {
	domain.FileHandle
	Data []byte `json:"data,omitempty"`
}

// Base is the knowledge base: named reusable text snippets and
// uploaded files, persisted in the key-value store.
type Base struct {
	store    *storage.Store
	uploader Uploader
}

// NewBase creates a knowledge base. uploader may be nil; file
// resolution then only serves handles that already carry an upload
// URI.
func NewBase(store *storage.Store, uploader Uploader) *Base {
	return &Base{store: store, uploader: uploader}
}

// GetVariable returns the value of a named snippet.
func (b *Base) GetVariable(ctx context.Context, name string) (string, bool) {
	var value string
	if !b.store.GetJSON(ctx, varKeyPrefix+name, &value) {
		return "", false
	}
	return value, true
}

// SetVariable stores a named snippet.
func (b *Base) SetVariable(ctx context.Context, name, value string) bool {
	return b.store.Put(ctx, varKeyPrefix+name, value)
}

// DeleteVariable removes a named snippet.
func (b *Base) DeleteVariable(ctx context.Context, name string) bool {
	return b.store.Remove(ctx, varKeyPrefix+name)
}

// Variables returns every stored snippet.
func (b *Base) Variables(ctx context.Context) map[string]string {
	out := make(map[string]string)
	for key, raw := range b.store.GetAll(ctx) {
		if !strings.HasPrefix(key, varKeyPrefix) {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping unreadable variable record")
			continue
		}
		out[strings.TrimPrefix(key, varKeyPrefix)] = value
	}
	return out
}

// AllFiles returns the handles of every registered file.
func (b *Base) AllFiles(ctx context.Context) ([]domain.FileHandle, error) {
	var out []domain.FileHandle
	for key, raw := range b.store.GetAll(ctx) {
		if !strings.HasPrefix(key, fileKeyPrefix) {
			continue
		}
		var f storedFile
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping unreadable file record")
			continue
		}
		out = append(out, f.FileHandle)
	}
	return out, nil
}

// PutFile registers a file with its content. When an uploader is
// configured the content is pushed immediately so the handle is
// attachable right away; otherwise the upload happens lazily on first
// resolution.
func (b *Base) PutFile(ctx context.Context, name, mimeType string, data []byte) (domain.FileHandle, error) {
	handle := domain.FileHandle{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
	}

	if b.uploader != nil {
		uri, err := b.uploader.Upload(ctx, name, mimeType, data)
		if err != nil {
			return domain.FileHandle{}, fmt.Errorf("failed to upload file %s: %w", name, err)
		}
		handle.GeminiURI = uri
		handle.UploadedAt = time.Now()
	}

	if !b.store.Put(ctx, fileKeyPrefix+name, storedFile{FileHandle: handle, Data: data}) {
		log.Warn().Str("file", name).Msg("file registered in cache only, persistence failed")
	}
	return handle, nil
}

// DeleteFile removes a registered file.
func (b *Base) DeleteFile(ctx context.Context, name string) bool {
	return b.store.Remove(ctx, fileKeyPrefix+name)
}

// ResolveFiles populates upload URIs on handles that lack one, by
// re-uploading the stored content. Failures are isolated per handle:
// a handle that cannot be resolved is dropped from the result.
func (b *Base) ResolveFiles(ctx context.Context, handles []domain.FileHandle) ([]domain.FileHandle, error) {
	out := make([]domain.FileHandle, 0, len(handles))
	for _, h := range handles {
		if h.Attachable() {
			out = append(out, h)
			continue
		}

		resolved, err := b.resolveOne(ctx, h)
		if err != nil {
			log.Warn().Err(err).Str("file", h.Name).Msg("dropping unresolvable file")
			continue
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (b *Base) resolveOne(ctx context.Context, h domain.FileHandle) (domain.FileHandle, error) {
	var stored storedFile
	if !b.store.GetJSON(ctx, fileKeyPrefix+h.Name, &stored) {
		return domain.FileHandle{}, fmt.Errorf("file %s is not registered", h.Name)
	}
	if stored.Attachable() {
		return stored.FileHandle, nil
	}
	if b.uploader == nil {
		return domain.FileHandle{}, fmt.Errorf("file %s has no upload handle and no uploader is configured", h.Name)
	}

	uri, err := b.uploader.Upload(ctx, stored.Name, stored.MimeType, stored.Data)
	if err != nil {
		return domain.FileHandle{}, fmt.Errorf("failed to upload file %s: %w", h.Name, err)
	}

	stored.GeminiURI = uri
	stored.UploadedAt = time.Now()
	b.store.Put(ctx, fileKeyPrefix+h.Name, stored)
	return stored.FileHandle, nil
}

// ReplaceVariables substitutes `{{name}}` placeholders with stored
// snippet values in a single pass over the input. Unknown names and
// file references are left untouched.
func (b *Base) ReplaceVariables(ctx context.Context, text string) (string, error) {
	matches := doubleBracePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, match := range matches {
		name := strings.TrimSpace(text[match[2]:match[3]])
		if strings.HasPrefix(name, "file:") {
			continue
		}
		value, ok := b.GetVariable(ctx, name)
		if !ok {
			continue
		}
		sb.WriteString(text[last:match[0]])
		sb.WriteString(value)
		last = match[1]
	}
	sb.WriteString(text[last:])
	return sb.String(), nil
}

// ReplaceFileReferences strips `{{file:name}}` placeholders from the
// text. The referenced files travel as attachments, not inline text.
func (b *Base) ReplaceFileReferences(ctx context.Context, text string) (string, error) {
	matches := doubleBracePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	stripped := false
	for _, match := range matches {
		inner := strings.TrimSpace(text[match[2]:match[3]])
		if !strings.HasPrefix(inner, "file:") {
			continue
		}
		sb.WriteString(text[last:match[0]])
		last = match[1]
		stripped = true
	}
	if !stripped {
		return text, nil
	}
	sb.WriteString(text[last:])
	return strings.TrimSpace(sb.String()), nil
}
