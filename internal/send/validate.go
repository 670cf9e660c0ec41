package send

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/matheus3301/dmsync/internal/backend"
)

// Validation errors. They are returned before any request is issued.
var (
	ErrAttachmentEmpty    = errors.New("attachment is empty")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrUnsupportedType    = errors.New("attachment type not allowed")
)

// Policy bounds the attachments the pipeline accepts.
type Policy struct {
	MaxBytes int64
	// AllowedTypes holds media types; "image/*" matches any image subtype.
	// An empty list allows every type.
	AllowedTypes []string
}

// Check validates the attachment and fills in its content type.
func (p Policy) Check(a *backend.Attachment) error {
	if len(a.Data) == 0 {
		return ErrAttachmentEmpty
	}
	if p.MaxBytes > 0 && int64(len(a.Data)) > p.MaxBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrAttachmentTooLarge, len(a.Data), p.MaxBytes)
	}
	if a.ContentType == "" {
		a.ContentType = DetectType(a.Name, a.Data)
	}
	if !p.allows(a.ContentType) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, a.ContentType)
	}
	return nil
}

func (p Policy) allows(contentType string) bool {
	if len(p.AllowedTypes) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range p.AllowedTypes {
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok {
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
			continue
		}
		if mediaType == allowed {
			return true
		}
	}
	return false
}

// DetectType sniffs the content, falling back to the file extension when
// sniffing only yields a generic type.
func DetectType(name string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return byExt
	}
	return sniffed
}

// ReadAttachment loads a file from disk. Oversized files are rejected
// from their size alone, without reading them.
func ReadAttachment(path string, p Policy) (*backend.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if p.MaxBytes > 0 && info.Size() > p.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrAttachmentTooLarge, info.Size(), p.MaxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a := &backend.Attachment{Name: filepath.Base(path), Data: data}
	if err := p.Check(a); err != nil {
		return nil, err
	}
	return a, nil
}
