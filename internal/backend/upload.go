package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/matheus3301/dmsync/internal/model"
)

// Attachment is a file uploaded with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// SendRequest is one outgoing message.
type SendRequest struct {
	SenderID   int64
	ReceiverID int64
	Text       string
	File       *Attachment
}

// Progress is called with the number of body bytes written so far.
type Progress func(sent, total int64)

// Send posts a multipart message and returns the stored record. The reply
// carries no timestamp; the message is stamped with the local clock.
func (c *Client) Send(ctx context.Context, sr SendRequest, progress Progress) (model.Message, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := [][2]string{
		{"text", sr.Text},
		{"senderId", strconv.FormatInt(sr.SenderID, 10)},
		{"receiverId", strconv.FormatInt(sr.ReceiverID, 10)},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return model.Message{}, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if sr.File != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, sr.File.Name))
		h.Set("Content-Type", sr.File.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return model.Message{}, fmt.Errorf("create file part: %w", err)
		}
		if _, err := part.Write(sr.File.Data); err != nil {
			return model.Message{}, fmt.Errorf("write file part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return model.Message{}, err
	}

	total := int64(body.Len())
	var reader io.Reader = &body
	if progress != nil {
		reader = &progressReader{r: &body, total: total, fn: progress}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages/send", nil, reader)
	if err != nil {
		return model.Message{}, err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", w.FormDataContentType())

	var rec model.Record
	if err := c.roundTrip(req, &rec); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	m, err := rec.Message()
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m, nil
}

type progressReader struct {
	r     io.Reader
	sent  int64
	total int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
