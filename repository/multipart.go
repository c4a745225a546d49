package repository

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/c360studio/reliefdesk/report"
)

// encodeForm writes scalar fields followed by one "images" part per
// attachment, preserving attachment order.
func encodeForm(fields []report.FormField, images []report.Attachment) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	for _, f := range fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.Name, err)
		}
	}

	for i, img := range images {
		part, err := w.CreatePart(imageHeader(i, img))
		if err != nil {
			return nil, "", fmt.Errorf("create image part %d: %w", i, err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return nil, "", fmt.Errorf("write image part %d: %w", i, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func imageHeader(i int, img report.Attachment) textproto.MIMEHeader {
	name := img.Filename
	if name == "" {
		name = fmt.Sprintf("image-%d", i+1)
	}
	ct := img.ContentType
	if ct == "" {
		ct = http.DetectContentType(img.Data)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		report.FieldImages, quoteEscaper.Replace(name)))
	h.Set("Content-Type", ct)
	return h
}
