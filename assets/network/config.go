package network

import "time"

// Config holds configuration for the HTTP uploader.
type Config struct {
	// Endpoint receives the single-file multipart POST.
	Endpoint string

	// DeleteEndpoint is the base of the DELETE {DeleteEndpoint}/{remote id} request.
	// Default: Endpoint
	DeleteEndpoint string

	// Token is sent as a bearer token when set.
	Token string

	// FieldName is the multipart form field carrying the file.
	// Default: "file"
	FieldName string

	// MaxAttempts is the number of attempts per file, including the first one.
	// Default: 3
	MaxAttempts int

	// RequestTimeout bounds a single attempt; the request is aborted when it elapses.
	// Default: 30 seconds
	RequestTimeout time.Duration

	// BackoffUnit is multiplied by 2^attempt between attempts.
	// Default: 1 second
	BackoffUnit time.Duration
}

// DefaultConfig returns the default configuration for the given endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:       endpoint,
		FieldName:      "file",
		MaxAttempts:    3,
		RequestTimeout: 30 * time.Second,
		BackoffUnit:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Endpoint)
	if c.DeleteEndpoint == "" {
		c.DeleteEndpoint = c.Endpoint
	}
	if c.FieldName == "" {
		c.FieldName = d.FieldName
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = d.BackoffUnit
	}
	return c
}
