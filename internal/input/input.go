// Package input turns a user-selected file or pasted text into an analysis
// request.
package input

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedMediaType is returned for files that are neither textual
	// (csv, plain, json) nor an image or PDF.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrEmptyInput is returned when pasted or decoded text is blank.
	ErrEmptyInput = errors.New("empty input")

	// ErrInputTooLarge is returned when a file exceeds the configured limit.
	ErrInputTooLarge = errors.New("input too large")
)

// DefaultMaxBytes bounds a single upload.
const DefaultMaxBytes = 20 << 20

// Request is either Text or File. The interface is sealed: no other
// implementations exist.
type Request interface {
	Kind() string
	isRequest()
}

// Text is inline transaction data.
type Text struct {
	Content string
}

// File is a binary statement (image or PDF) with its media type.
type File struct {
	Payload   []byte
	MediaType string
}

func (Text) Kind() string { return "text" }
func (File) Kind() string { return "file" }
func (Text) isRequest()   {}
func (File) isRequest()   {}

// Bucket is the decoding class of a media type.
type Bucket int

const (
	BucketUnsupported Bucket = iota
	BucketText
	BucketBinary
)

// Classify maps a declared media type to a decoding bucket. Parameters such as
// charset are ignored.
func Classify(mediaType string) Bucket {
	mt := baseType(mediaType)
	switch {
	case mt == "text/csv", mt == "text/plain", mt == "application/json":
		return BucketText
	case strings.HasPrefix(mt, "image/"), mt == "application/pdf":
		return BucketBinary
	default:
		return BucketUnsupported
	}
}

func baseType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(mediaType, ";", 2)[0])
	}
	return strings.ToLower(mt)
}

// DetectMediaType infers a media type from the file extension, then from the
// content, for uploads that arrive without one.
func DetectMediaType(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			return mt
		}
		switch strings.ToLower(ext) {
		case ".csv":
			return "text/csv"
		case ".json":
			return "application/json"
		}
	}
	return http.DetectContentType(data)
}

// Normalizer converts raw user input into requests.
type Normalizer struct {
	MaxBytes int
}

// NewNormalizer returns a normalizer with the given upload limit; a
// non-positive limit means DefaultMaxBytes.
func NewNormalizer(maxBytes int) *Normalizer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Normalizer{MaxBytes: maxBytes}
}

// FromFile classifies the file by its declared media type and decodes it.
func (n *Normalizer) FromFile(name, mediaType string, data []byte) (Request, error) {
	if len(data) > n.MaxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrInputTooLarge, name, len(data), n.MaxBytes)
	}
	if strings.TrimSpace(mediaType) == "" || baseType(mediaType) == "application/octet-stream" {
		mediaType = DetectMediaType(name, data)
	}

	switch Classify(mediaType) {
	case BucketText:
		text := string(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
		return FromText(text)
	case BucketBinary:
		return File{Payload: data, MediaType: baseType(mediaType)}, nil
	default:
		return nil, fmt.Errorf("%w: %q (use CSV, TXT, JSON, PDF or an image)", ErrUnsupportedMediaType, baseType(mediaType))
	}
}

// FromText applies the size limit to pasted text, then behaves like the
// package-level FromText.
func (n *Normalizer) FromText(s string) (Request, error) {
	if len(s) > n.MaxBytes {
		return nil, fmt.Errorf("%w: text is %d bytes, limit %d", ErrInputTooLarge, len(s), n.MaxBytes)
	}
	return FromText(s)
}

// FromText trims pasted text and wraps it as a Text request.
func FromText(s string) (Request, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, ErrEmptyInput
	}
	return Text{Content: trimmed}, nil
}

// Selection is the pending input of the submission form. It holds at most one
// request, so a selected file and pasted text can never coexist.
type Selection struct {
	normalizer *Normalizer
	pending    Request
}

// NewSelection creates an empty selection.
func NewSelection(n *Normalizer) *Selection {
	if n == nil {
		n = NewNormalizer(0)
	}
	return &Selection{normalizer: n}
}

// SelectFile replaces any pending input with the file. On error the previous
// input is kept.
func (s *Selection) SelectFile(name, mediaType string, data []byte) error {
	req, err := s.normalizer.FromFile(name, mediaType, data)
	if err != nil {
		return err
	}
	s.pending = req
	return nil
}

// SetText replaces any pending input with pasted text. Blank text clears it;
// text over the size limit is rejected and the previous input kept.
func (s *Selection) SetText(text string) error {
	req, err := s.normalizer.FromText(text)
	switch {
	case errors.Is(err, ErrEmptyInput):
		s.pending = nil
		return nil
	case err != nil:
		return err
	}
	s.pending = req
	return nil
}

// Clear drops the pending input.
func (s *Selection) Clear() { s.pending = nil }

// Request returns the pending input, or ErrEmptyInput.
func (s *Selection) Request() (Request, error) {
	if s.pending == nil {
		return nil, ErrEmptyInput
	}
	return s.pending, nil
}
