// Package attach turns user-supplied image references into attachments.
//
// A reference is a local path, a glob pattern ("photos/**/*.jpg") or an
// object URI ("s3://bucket/key"). Attachments keep the order of the
// references; a glob contributes its matches in lexical order.
package attach

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/reliefdesk/report"
)

// DefaultMaxSize bounds a single attachment.
const DefaultMaxSize = 10 << 20

// ObjectGetter is the subset of *s3.Client used to fetch s3:// references.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads attachments from disk and object storage.
type Loader struct {
	objects ObjectGetter
	maxSize int64
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithObjectStore enables s3:// references.
func WithObjectStore(g ObjectGetter) Option {
	return func(l *Loader) {
		l.objects = g
	}
}

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int64) Option {
	return func(l *Loader) {
		l.maxSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader. Without WithObjectStore, s3:// references fail.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{maxSize: DefaultMaxSize, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves refs into attachments. A glob that matches nothing is an
// error, as is a reference that names a directory.
func (l *Loader) Load(ctx context.Context, refs []string) ([]report.Attachment, error) {
	var out []report.Attachment
	for _, ref := range refs {
		if strings.HasPrefix(ref, "s3://") {
			att, err := l.loadObject(ctx, ref)
			if err != nil {
				return nil, err
			}
			out = append(out, att)
			continue
		}

		paths, err := ResolveFiles([]string{ref})
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			att, err := l.loadFile(p)
			if err != nil {
				return nil, err
			}
			out = append(out, att)
		}
	}
	l.logger.Debug("Loaded attachments", "refs", len(refs), "attachments", len(out))
	return out, nil
}

func (l *Loader) loadFile(p string) (report.Attachment, error) {
	f, err := os.Open(p)
	if err != nil {
		return report.Attachment{}, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	data, err := l.readBounded(f, p)
	if err != nil {
		return report.Attachment{}, err
	}
	name := filepath.Base(p)
	return report.Attachment{
		Filename:    name,
		ContentType: contentType(name, "", data),
		Data:        data,
	}, nil
}

func (l *Loader) loadObject(ctx context.Context, ref string) (report.Attachment, error) {
	if l.objects == nil {
		return report.Attachment{}, fmt.Errorf("attachment %s: object storage is not configured", ref)
	}
	bucket, key, err := ParseObjectURI(ref)
	if err != nil {
		return report.Attachment{}, err
	}

	out, err := l.objects.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return report.Attachment{}, fmt.Errorf("get object %s: %w", ref, err)
	}
	defer out.Body.Close()

	data, err := l.readBounded(out.Body, ref)
	if err != nil {
		return report.Attachment{}, err
	}
	var declared string
	if out.ContentType != nil {
		declared = *out.ContentType
	}
	name := path.Base(key)
	return report.Attachment{
		Filename:    name,
		ContentType: contentType(name, declared, data),
		Data:        data,
	}, nil
}

func (l *Loader) readBounded(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", name, err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, fmt.Errorf("attachment %s exceeds %d bytes", name, l.maxSize)
	}
	return data, nil
}

// ParseObjectURI splits "s3://bucket/key" into bucket and key.
func ParseObjectURI(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 uri needs a bucket and an object key: %q", ref)
	}
	return bucket, key, nil
}

// contentType prefers a declared type, then the extension, then sniffing.
func contentType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// ResolveFiles expands glob patterns to regular files, keeping pattern order
// and dropping duplicates. Supports recursive wildcards (**).
func ResolveFiles(patterns []string) ([]string, error) {
	var resolved []string
	seen := make(map[string]bool)

	for _, pattern := range patterns {
		paths, err := resolvePattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("resolve attachment %q: %w", pattern, err)
		}
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				resolved = append(resolved, p)
			}
		}
	}
	return resolved, nil
}

func resolvePattern(pattern string) ([]string, error) {
	if !containsGlob(pattern) {
		info, err := os.Stat(pattern)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("path is a directory: %s", pattern)
		}
		return []string{pattern}, nil
	}

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob error: %w", err)
	}

	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue // Skip paths that can't be stat'd
		}
		if info.Mode().IsRegular() {
			files = append(files, match)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match pattern: %s", pattern)
	}
	return files, nil
}

func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}
