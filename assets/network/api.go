package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/storefront-io/go-assetkit/media"
)

// uploadResponse accepts the field names used by common image stores.
// Unknown fields are ignored. Only url and id have to be usable, the
// metadata fields are read best-effort.
type uploadResponse struct {
	URL       string          `json:"url"`
	SecureURL string          `json:"secure_url"`
	ID        any             `json:"id"`
	PublicID  any             `json:"public_id"`
	ImageID   any             `json:"image_id"`
	Width     json.RawMessage `json:"width"`
	Height    json.RawMessage `json:"height"`
	Format    json.RawMessage `json:"format"`
	Bytes     json.RawMessage `json:"bytes"`
	CreatedAt json.RawMessage `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

func (r uploadResponse) unwrap() uploadResponse {
	if len(r.Data) == 0 || r.location() != "" || r.remoteID() != "" {
		return r
	}
	var inner uploadResponse
	if err := decodeJSON(bytes.NewReader(r.Data), &inner); err != nil {
		return r
	}
	return inner.unwrap()
}

func (r uploadResponse) location() string {
	if r.SecureURL != "" {
		return r.SecureURL
	}
	return r.URL
}

func (r uploadResponse) remoteID() string {
	for _, id := range []any{r.PublicID, r.ID, r.ImageID} {
		if s := scalarString(id); s != "" {
			return s
		}
	}
	return ""
}

func (r uploadResponse) createdAt() (time.Time, bool) {
	var value any
	if err := decodeJSON(bytes.NewReader(r.CreatedAt), &value); err != nil {
		return time.Time{}, false
	}
	switch v := value.(type) {
	case json.Number:
		seconds, err := v.Int64()
		if err != nil || seconds <= 0 {
			return time.Time{}, false
		}
		return time.Unix(seconds, 0).UTC(), true
	case string:
		for _, layout := range createdAtLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func decodeJSON(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	return decoder.Decode(v)
}

// scalarString formats a string or number id; anything else is empty.
func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// intField reads an integer given as a number or a numeric string. 0 when unusable.
func intField(raw json.RawMessage) int64 {
	var value any
	if err := decodeJSON(bytes.NewReader(raw), &value); err != nil {
		return 0
	}
	switch v := value.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

func stringField(raw json.RawMessage) string {
	var value any
	if err := decodeJSON(bytes.NewReader(raw), &value); err != nil {
		return ""
	}
	return scalarString(value)
}

func decodeUploadResponse(body io.Reader) (uploadResponse, error) {
	var response uploadResponse
	if err := decodeJSON(body, &response); err != nil {
		return uploadResponse{}, fmt.Errorf("decode response: %w", err)
	}
	response = response.unwrap()

	var missing []string
	if response.location() == "" {
		missing = append(missing, "url")
	}
	if response.remoteID() == "" {
		missing = append(missing, "id")
	}
	if len(missing) > 0 {
		return uploadResponse{}, fmt.Errorf("response is missing %s", strings.Join(missing, " and "))
	}
	return response, nil
}

func (r uploadResponse) toAsset(file media.File, now time.Time) media.Asset {
	asset := media.Asset{
		URL:            r.location(),
		RemoteID:       r.remoteID(),
		SourceFileName: file.Name,
		Width:          int(intField(r.Width)),
		Height:         int(intField(r.Height)),
		EncodedFormat:  stringField(r.Format),
		ByteSize:       intField(r.Bytes),
		UploadedAt:     now,
	}
	if asset.Width <= 0 || asset.Height <= 0 {
		asset.Width, asset.Height = file.Width, file.Height
	}
	if asset.EncodedFormat == "" {
		asset.EncodedFormat = string(file.Format())
	}
	if asset.ByteSize <= 0 {
		asset.ByteSize = file.Size
	}
	if createdAt, ok := r.createdAt(); ok && !createdAt.IsZero() {
		asset.UploadedAt = createdAt
	}
	return asset
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// multipartBody encodes the file as the only part of a multipart form.
// The part keeps the file's own content type.
func multipartBody(fieldName string, file media.File) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(fieldName), quoteEscaper.Replace(file.BaseName())))
	header.Set("Content-Type", file.ContentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	message := strings.TrimSpace(string(errorResp))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, message)
}
