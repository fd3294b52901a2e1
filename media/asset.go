package media

import "time"

// Asset is a single uploaded image known to an asset set.
// URL is the unique key of an asset within its set.
type Asset struct {
	URL            string    `json:"url" yaml:"url"`
	RemoteID       string    `json:"remote_id" yaml:"remote_id"`
	IsPrimary      bool      `json:"is_primary" yaml:"is_primary"`
	SourceFileName string    `json:"source_file_name,omitempty" yaml:"source_file_name,omitempty"`
	Width          int       `json:"width,omitempty" yaml:"width,omitempty"`
	Height         int       `json:"height,omitempty" yaml:"height,omitempty"`
	EncodedFormat  string    `json:"encoded_format,omitempty" yaml:"encoded_format,omitempty"`
	ByteSize       int64     `json:"byte_size,omitempty" yaml:"byte_size,omitempty"`
	UploadedAt     time.Time `json:"uploaded_at,omitempty" yaml:"uploaded_at,omitempty"`
}
