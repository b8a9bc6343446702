// Package attach validates and encodes message attachments. The wire
// form is base64 text; callers on either side of the socket only ever
// see raw bytes or the fully encoded attachment, never a partial state.
package attach

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pattersondev/voynich-client/internal/models"
)

// MaxDecodedSize is the hard ceiling on the decoded attachment payload.
const MaxDecodedSize = 10 << 20 // 10 MiB

// ErrPayloadTooLarge is returned before any network interaction when an
// attachment exceeds MaxDecodedSize.
var ErrPayloadTooLarge = errors.New("attachment exceeds 10 MiB")

// Load reads the file at path and returns it as an encoded attachment.
func Load(path string) (*models.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if info.Size() > MaxDecodedSize {
		return nil, ErrPayloadTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return Encode(filepath.Base(path), "", data)
}

// Encode wraps raw bytes into a transmittable attachment. An empty
// mimeType is sniffed from the file name and contents.
func Encode(name, mimeType string, data []byte) (*models.Attachment, error) {
	if len(data) > MaxDecodedSize {
		return nil, ErrPayloadTooLarge
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &models.Attachment{
		Name: name,
		Type: mimeType,
		Data: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Decode returns the raw payload bytes of an attachment.
func Decode(att *models.Attachment) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return data, nil
}
