package apiclient

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/marketbytes-devops/kwa-console/model"
)

// encodeMultipart writes p as multipart/form-data. Files become file parts;
// every other value is sent as its form string, empty values as "".
func encodeMultipart(p model.Payload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range p {
		up, isFile := f.Value.(*model.Upload)
		if !isFile || up == nil {
			if err := w.WriteField(f.Key, formValue(f.Value)); err != nil {
				return nil, "", fmt.Errorf("write field %q: %w", f.Key, err)
			}
			continue
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(f.Key), escapeQuotes(up.Filename)))
		contentType := up.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create file part %q: %w", f.Key, err)
		}
		if _, err := part.Write(up.Data); err != nil {
			return nil, "", fmt.Errorf("write file part %q: %w", f.Key, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// formValue renders a payload value as a form string. false encodes as ""
// so that an unchecked box reads as empty.
func formValue(v any) string {
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return ""
	}
	return model.Stringify(v)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
