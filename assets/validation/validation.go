// Package validation rejects selected files before any work is spent on them.
package validation

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/storefront-io/go-assetkit/media"
)

// DefaultMinBytes guards against corrupt or zero-byte selections.
const DefaultMinBytes = 1 * units.KiB

// Kind classifies a validation failure.
type Kind string

// Validation failure kinds, in the order they are checked.
const (
	Missing          Kind = "missing"
	UnsupportedType  Kind = "unsupported_type"
	TooLarge         Kind = "too_large"
	TooSmall         Kind = "too_small"
	CapacityExceeded Kind = "capacity_exceeded"
	DuplicateName    Kind = "duplicate_name"
)

// ValidationError is a user-presentable rejection of a single file.
type ValidationError struct {
	Kind     Kind
	FileName string
	Message  string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Config holds the limits of one upload context.
type Config struct {
	MaxAssets int
	MaxBytes  int64
	// MinBytes defaults to DefaultMinBytes when zero.
	MinBytes int64
	// RejectDuplicateNames is enabled for gallery contexts.
	RejectDuplicateNames bool
}

// Snapshot is the state of the asset set the batch is validated against.
type Snapshot struct {
	Count int
	Names []string
	// Replace skips the current count: the batch replaces the held assets.
	Replace bool
}

// Validator checks files against a Config.
type Validator struct {
	config Config
}

// New ...
func New(config Config) *Validator {
	if config.MinBytes <= 0 {
		config.MinBytes = DefaultMinBytes
	}
	return &Validator{config: config}
}

// Validate checks a single file against the snapshot and returns the first violation.
func (v *Validator) Validate(file *media.File, snap Snapshot) *ValidationError {
	return v.validate(file, snap, 0, nil)
}

// ValidateBatch validates every file of a batch and collects all errors
// instead of stopping at the first rejected file. Files accepted earlier in
// the batch count against capacity and duplicate names.
func (v *Validator) ValidateBatch(files []*media.File, snap Snapshot) ([]media.File, []*ValidationError) {
	var accepted []media.File
	var errs []*ValidationError

	batchNames := map[string]bool{}
	for _, file := range files {
		if verr := v.validate(file, snap, len(accepted), batchNames); verr != nil {
			errs = append(errs, verr)
			continue
		}
		accepted = append(accepted, *file)
		batchNames[file.Name] = true
	}

	return accepted, errs
}

func (v *Validator) validate(file *media.File, snap Snapshot, acceptedInBatch int, batchNames map[string]bool) *ValidationError {
	if file == nil {
		return &ValidationError{Kind: Missing, Message: "no file selected"}
	}

	name := file.Name
	if file.Format() == media.FormatUnknown {
		return &ValidationError{
			Kind:     UnsupportedType,
			FileName: name,
			Message:  fmt.Sprintf("%s has an unsupported file type (%q); use JPEG, PNG, WebP or GIF", name, file.ContentType),
		}
	}

	if v.config.MaxBytes > 0 && file.Size > v.config.MaxBytes {
		return &ValidationError{
			Kind:     TooLarge,
			FileName: name,
			Message: fmt.Sprintf("%s is too large (%.2f MiB); the maximum size is %.2f MiB",
				name, media.MiB(file.Size), media.MiB(v.config.MaxBytes)),
		}
	}

	if file.Size < v.config.MinBytes {
		return &ValidationError{
			Kind:     TooSmall,
			FileName: name,
			Message: fmt.Sprintf("%s is too small (%s); the file may be corrupt, the minimum size is %s",
				name, media.HumanSize(file.Size), media.HumanSize(v.config.MinBytes)),
		}
	}

	held := snap.Count
	if snap.Replace {
		held = 0
	}
	if v.config.MaxAssets-held-acceptedInBatch < 1 {
		return &ValidationError{
			Kind:     CapacityExceeded,
			FileName: name,
			Message:  fmt.Sprintf("%s was skipped: at most %d image(s) can be added", name, v.config.MaxAssets),
		}
	}

	if v.config.RejectDuplicateNames {
		if batchNames[name] || (!snap.Replace && contains(snap.Names, name)) {
			return &ValidationError{
				Kind:     DuplicateName,
				FileName: name,
				Message:  fmt.Sprintf("%s has already been added", name),
			}
		}
	}

	return nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
