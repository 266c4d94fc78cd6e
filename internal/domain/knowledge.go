package domain

import "time"

// FileHandle identifies a knowledge-base file that can be attached to an
// AI request. A handle is only attachable once GeminiURI is populated by
// an upload through the Files API.
type FileHandle struct {
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size,omitempty"`
	GeminiURI  string    `json:"gemini_uri,omitempty"`
	UploadedAt time.Time `json:"uploaded_at,omitempty"`
}

// Attachable reports whether the handle carries a usable upload URI.
func (f FileHandle) Attachable() bool {
	return f.GeminiURI != ""
}
