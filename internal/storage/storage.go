// Package storage uploads selected files to object storage and returns their public URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ubuntu/decorate"
	"github.com/uniconfirm/confirm/internal/selection"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidDestination is returned when the destination folder is empty or holds an unresolved placeholder.
	ErrInvalidDestination = errors.New("invalid upload destination")
	// ErrUploadFailed is returned when the storage backend refused or failed the upload.
	ErrUploadFailed = errors.New("upload failed")
)

// Backend names.
const (
	BackendSupabase = "supabase"
	BackendS3       = "s3"
)

// Backend stores an object and returns the path it was stored at, relative to the bucket.
type Backend interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (storedPath string, err error)
}

// Config holds the object storage configuration.
type Config struct {
	Backend string
	BaseURL string
	Bucket  string
	// Key is the upload credential of the supabase backend.
	Key string

	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Complete reports whether the configuration is enough to upload and build public URLs.
func (c Config) Complete() bool {
	if c.BaseURL == "" || c.Bucket == "" {
		return false
	}
	switch c.backend() {
	case BackendSupabase:
		return c.Key != ""
	case BackendS3:
		return true
	default:
		return false
	}
}

func (c Config) backend() string {
	if c.Backend == "" {
		return BackendSupabase
	}
	return strings.ToLower(c.Backend)
}

// Uploader uploads files under a destination folder.
type Uploader struct {
	backend Backend
	baseURL string
	bucket  string

	now     func() time.Time
	uploads *prometheus.CounterVec
}

type options struct {
	backend    Backend
	now        func() time.Time
	registerer prometheus.Registerer
}

// Options represents an optional function to override Uploader default values.
type Options func(*options)

// WithRegisterer sets the registry the upload counter is registered with.
func WithRegisterer(reg prometheus.Registerer) Options {
	return func(o *options) {
		o.registerer = reg
	}
}

// New returns an Uploader for the configured backend.
func New(ctx context.Context, cfg Config, args ...Options) (u *Uploader, err error) {
	defer decorate.OnError(&err, "could not set up %s storage", cfg.backend())

	opts := options{
		now:        time.Now,
		registerer: prometheus.NewRegistry(),
	}
	for _, opt := range args {
		opt(&opts)
	}

	if !cfg.Complete() {
		return nil, errors.New("storage base URL, bucket and credential are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	backend := opts.backend
	if backend == nil {
		switch cfg.backend() {
		case BackendSupabase:
			backend = NewSupabaseBackend(baseURL, cfg.Bucket, cfg.Key)
		case BackendS3:
			if backend, err = NewS3Backend(ctx, baseURL, cfg); err != nil {
				return nil, err
			}
		}
	}

	return &Uploader{
		backend: backend,
		baseURL: baseURL,
		bucket:  cfg.Bucket,
		now:     opts.now,
		uploads: promauto.With(opts.registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirm_uploads_total",
				Help: "Tracks the number of file uploads by result.",
			}, []string{"result"},
		),
	}, nil
}

// Upload stores file under folder and returns its public URL.
//
// Every call creates a new object: keys are prefixed with the current time in milliseconds.
func (u *Uploader) Upload(ctx context.Context, file selection.File, folder string) (publicURL string, err error) {
	defer decorate.OnError(&err, "could not upload %q", file.Name)

	if err := ValidateFolder(folder); err != nil {
		u.uploads.WithLabelValues("invalid_destination").Inc()
		return "", err
	}
	if file.Open == nil {
		u.uploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: file has no content", ErrUploadFailed)
	}

	key := fmt.Sprintf("%s/%d-%s", folder, u.now().UnixMilli(), SanitizeName(file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	body, err := file.Open()
	if err != nil {
		u.uploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer body.Close()

	storedPath, err := u.backend.Put(ctx, key, contentType, body, file.Size)
	if err != nil {
		u.uploads.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	u.uploads.WithLabelValues("success").Inc()
	slog.Debug("Uploaded file", "key", key, "size", file.Size)
	return u.PublicURL(storedPath), nil
}

// PublicURL returns the public address of an object stored at storedPath.
func (u *Uploader) PublicURL(storedPath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.baseURL, u.bucket, escapePath(storedPath))
}

// ValidateFolder rejects empty folders and folders built from unresolved values.
// A placeholder only counts as a whole path segment: a token merely containing "undefined" is accepted.
func ValidateFolder(folder string) error {
	if strings.TrimSpace(folder) == "" {
		return fmt.Errorf("%w: empty folder", ErrInvalidDestination)
	}
	for _, seg := range strings.Split(folder, "/") {
		switch strings.TrimSpace(seg) {
		case "", ".", "..":
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidDestination, folder)
		case "undefined", "null":
			return fmt.Errorf("%w: %q has an unresolved placeholder", ErrInvalidDestination, folder)
		}
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^\w.-]+`)

// SanitizeName reduces a file name to word characters, hyphens and dots.
// Accented letters are transliterated to their base letter first.
func SanitizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}

	name = unsafeNameChars.ReplaceAllString(name, "")
	if strings.Trim(name, ".") == "" {
		return "file"
	}
	return name
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
