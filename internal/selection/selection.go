// Package selection holds the state of one file field of the confirmation form.
//
// A Field validates every change of its selection against its configuration and reports
// the resulting normalized Value to its owner through a callback.
package selection

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/uniconfirm/confirm/internal/common/constants"
)

// DefaultMaxSizeMB is the per-file limit applied when Config.MaxSizeMB is unset.
const DefaultMaxSizeMB = constants.DefaultMaxFileSizeMB

var (
	// ErrTooLarge is reported when a file exceeds the maximum size of the field.
	ErrTooLarge = errors.New("file too large")
	// ErrTypeNotAccepted is reported when a file does not match the accepted types of the field.
	ErrTypeNotAccepted = errors.New("file type not accepted")
)

// RejectedError is a selection rejected as a whole.
type RejectedError struct {
	Label  string
	Reason error
	msg    string
}

// Error returns the message shown next to the field.
func (e *RejectedError) Error() string {
	return e.msg
}

// Unwrap returns ErrTooLarge or ErrTypeNotAccepted.
func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// File is a local file chosen by the visitor.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// FromMultipart converts a multipart file header.
func FromMultipart(fh *multipart.FileHeader) File {
	return File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// Kind tells what a Value holds.
type Kind int

const (
	// None is an empty selection.
	None Kind = iota
	// Single is one file.
	Single
	// Multiple is a list of files.
	Multiple
	// URL is a file already uploaded.
	URL
)

// Value is the normalized selection emitted to the owner of a Field.
type Value struct {
	kind  Kind
	files []File
	url   string
}

// NoneValue returns an empty selection.
func NoneValue() Value { return Value{} }

// SingleValue returns a one-file selection.
func SingleValue(f File) Value { return Value{kind: Single, files: []File{f}} }

// MultipleValue returns a selection of several files.
func MultipleValue(files []File) Value {
	return Value{kind: Multiple, files: append([]File(nil), files...)}
}

// URLValue returns a pre-resolved selection. An empty url is an empty selection.
func URLValue(url string) Value {
	if url == "" {
		return Value{}
	}
	return Value{kind: URL, url: url}
}

// Kind returns the kind of selection.
func (v Value) Kind() Kind { return v.kind }

// Files returns the selected files, for Single and Multiple values.
func (v Value) Files() []File { return v.files }

// URL returns the pre-resolved URL of a URL value.
func (v Value) URL() string { return v.url }

// Config is the static configuration of a Field.
type Config struct {
	Label string
	// Accept is a comma-separated list of ".ext", "type/*" or exact MIME types. Empty accepts anything.
	Accept    string
	Multiple  bool
	MaxSizeMB float64
}

func (c Config) maxSizeMB() float64 {
	if c.MaxSizeMB <= 0 {
		return DefaultMaxSizeMB
	}
	return c.MaxSizeMB
}

// MaxSizeLabel returns the maximum size as shown to the visitor.
func (c Config) MaxSizeLabel() string {
	return strconv.FormatFloat(c.maxSizeMB(), 'f', -1, 64)
}

// Accepts reports whether a file matches one of the patterns of accept.
// An empty accept list matches everything.
func Accepts(accept, name, contentType string) bool {
	if strings.TrimSpace(accept) == "" {
		return true
	}
	for _, a := range strings.Split(accept, ",") {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case strings.HasPrefix(a, "."):
			if strings.HasSuffix(strings.ToLower(name), strings.ToLower(a)) {
				return true
			}
		case strings.HasSuffix(a, "/*"):
			if strings.HasPrefix(contentType, strings.TrimSuffix(a, "*")) {
				return true
			}
		case contentType == a:
			return true
		}
	}
	return false
}

// Previewer derives a displayable reference for an image and returns a function releasing it.
type Previewer func(File) (ref string, release func())

// Field holds the selection of one file input.
type Field struct {
	cfg      Config
	onSelect func(Value)
	preview  Previewer

	value   Value
	err     *RejectedError
	warning string

	previewRef     string
	releasePreview func()
}

type options struct {
	previewer Previewer
}

// Options represents an optional function to override Field default values.
type Options func(*options)

// WithPreviewer overrides how image previews are derived.
func WithPreviewer(p Previewer) Options {
	return func(o *options) {
		o.previewer = p
	}
}

// NewField returns an empty field. onSelect may be nil.
func NewField(cfg Config, onSelect func(Value), args ...Options) *Field {
	opts := options{
		previewer: DataURIPreview,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Field{
		cfg:      cfg,
		onSelect: onSelect,
		preview:  opts.previewer,
	}
}

// Pick replaces the selection with files chosen through the file dialog.
// In single mode only the first file is considered.
func (f *Field) Pick(files []File) {
	if f.cfg.Multiple {
		f.setMultiple(files)
		return
	}
	if len(files) == 0 {
		f.setSingle(nil)
		return
	}
	f.setSingle(&files[0])
}

// Drop replaces the selection with files dropped on the field.
func (f *Field) Drop(files []File) {
	f.Pick(files)
}

// Resolve replaces the selection with a file already uploaded at url.
func (f *Field) Resolve(url string) {
	f.reset()
	f.value = URLValue(url)
	f.emit()
}

// Clear empties the selection.
func (f *Field) Clear() {
	f.reset()
	f.emit()
}

// Value returns the current selection.
func (f *Field) Value() Value { return f.value }

// Config returns the field configuration.
func (f *Field) Config() Config { return f.cfg }

// Err returns the error that rejected the last selection, if any.
func (f *Field) Err() error {
	if f.err == nil {
		return nil
	}
	return f.err
}

// Warning returns a non-blocking remark on the current selection.
func (f *Field) Warning() string { return f.warning }

// Preview returns the preview reference of the selected image, if any.
func (f *Field) Preview() string { return f.previewRef }

func (f *Field) setSingle(file *File) {
	f.reset()
	if file == nil {
		f.emit()
		return
	}

	if exceeds(*file, f.cfg.maxSizeMB()) {
		f.reject(ErrTooLarge, fmt.Sprintf("File too large, maximum %s MB allowed.", f.cfg.MaxSizeLabel()))
		return
	}

	// A single file of an unexpected type is kept, only flagged.
	if !Accepts(f.cfg.Accept, file.Name, file.ContentType) {
		f.warning = "This file type might not be recommended for this field."
	}

	f.value = SingleValue(*file)
	if strings.HasPrefix(file.ContentType, "image/") && f.preview != nil {
		f.previewRef, f.releasePreview = f.preview(*file)
	}
	f.emit()
}

func (f *Field) setMultiple(files []File) {
	f.reset()
	if len(files) == 0 {
		f.emit()
		return
	}

	for _, file := range files {
		if exceeds(file, f.cfg.maxSizeMB()) {
			f.reject(ErrTooLarge, fmt.Sprintf("One or more files exceed %s MB.", f.cfg.MaxSizeLabel()))
			return
		}
	}
	for _, file := range files {
		if !Accepts(f.cfg.Accept, file.Name, file.ContentType) {
			f.reject(ErrTypeNotAccepted, "One or more files may not be recommended for this field.")
			return
		}
	}

	f.value = MultipleValue(files)
	f.emit()
}

func (f *Field) reject(reason error, msg string) {
	f.err = &RejectedError{Label: f.cfg.Label, Reason: reason, msg: msg}
	f.value = Value{}
	f.emit()
}

// reset drops the previous selection and releases its preview.
func (f *Field) reset() {
	if f.releasePreview != nil {
		f.releasePreview()
	}
	f.previewRef, f.releasePreview = "", nil
	f.value = Value{}
	f.err = nil
	f.warning = ""
}

func (f *Field) emit() {
	if f.onSelect != nil {
		f.onSelect(f.value)
	}
}

func exceeds(file File, maxMB float64) bool {
	return float64(file.Size)/1024/1024 > maxMB
}
