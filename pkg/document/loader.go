package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/gocolly/colly/v2"

	"github.com/Aquilesorei/strutex/internal/logger"
)

// ErrTooLarge is returned when a document exceeds the loader's size limit.
var ErrTooLarge = errors.New("document exceeds maximum size")

// DefaultMaxSize bounds documents when no limit is configured.
const DefaultMaxSize int64 = 50 << 20

const defaultUserAgent = "strutex/1.0 (+https://github.com/Aquilesorei/strutex)"

// ObjectGetter is the part of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader resolves document references: local paths, file:// and http(s)://
// URLs, and s3://bucket/key objects.
type Loader struct {
	MaxSize   int64
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string

	// S3 is created from the default AWS config on first s3:// reference
	// when nil.
	S3 ObjectGetter
}

// NewLoader returns a loader with default limits.
func NewLoader() *Loader {
	return &Loader{
		MaxSize:   DefaultMaxSize,
		UserAgent: defaultUserAgent,
		Timeout:   60 * time.Second,
	}
}

// Load reads the referenced document.
func (l *Loader) Load(ctx context.Context, ref string) (*Document, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path (a one-letter scheme is a Windows drive)
		return l.loadFile(ref)
	}

	switch u.Scheme {
	case "file":
		return l.loadFile(u.Path)
	case "http", "https":
		return l.loadHTTP(ctx, ref)
	case "s3":
		return l.loadS3(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, fmt.Errorf("unsupported document reference scheme %q", u.Scheme)
	}
}

func (l *Loader) maxSize() int64 {
	if l.MaxSize > 0 {
		return l.MaxSize
	}
	return DefaultMaxSize
}

func (l *Loader) tooLarge(name string, size int64) error {
	return fmt.Errorf("%w: %s is %s, limit is %s", ErrTooLarge, name,
		humanize.IBytes(uint64(size)), humanize.IBytes(uint64(l.maxSize())))
}

func (l *Loader) loadFile(p string) (*Document, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("failed to read document: %s is a directory", p)
	}
	if info.Size() > l.maxSize() {
		return nil, l.tooLarge(p, info.Size())
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	logger.Debug("document loaded", "source", "file", "path", p, "size", len(data))
	return New(data, p, ""), nil
}

func (l *Loader) loadHTTP(ctx context.Context, ref string) (*Document, error) {
	c := colly.NewCollector(
		colly.UserAgent(coalesce(l.UserAgent, defaultUserAgent)),
		colly.StdlibContext(ctx),
		// one byte over the limit so oversize bodies are detectable
		colly.MaxBodySize(int(l.maxSize())+1),
	)
	if l.Timeout > 0 {
		c.SetRequestTimeout(l.Timeout)
	}
	if len(l.Headers) > 0 {
		c.OnRequest(func(r *colly.Request) {
			for k, v := range l.Headers {
				r.Headers.Set(k, v)
			}
		})
	}

	var (
		body        []byte
		contentType string
		fetchErr    error
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		contentType = r.Headers.Get("Content-Type")
		logger.Debug("document response received",
			"url", ref,
			"status", r.StatusCode,
			"content_type", contentType,
			"body_size", len(r.Body))
	})
	c.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch %s (status %d): %w", ref, status, err)
	})

	if err := c.Visit(ref); err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if int64(len(body)) > l.maxSize() {
		return nil, l.tooLarge(ref, int64(len(body)))
	}

	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" || mediaType == "application/octet-stream" || mediaType == "binary/octet-stream" {
		mediaType = DetectMediaType(body, urlName(ref))
	}
	return &Document{Data: body, MediaType: mediaType, Name: urlName(ref)}, nil
}

func (l *Loader) loadS3(ctx context.Context, bucket, key string) (*Document, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid s3 reference: bucket and key are required")
	}
	if l.S3 == nil {
		cfg, err := awscfg.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		l.S3 = s3.NewFromConfig(cfg)
	}

	out, err := l.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()

	if out.ContentLength != nil && *out.ContentLength > l.maxSize() {
		return nil, l.tooLarge("s3://"+bucket+"/"+key, *out.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, l.maxSize()+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	if int64(len(data)) > l.maxSize() {
		return nil, l.tooLarge("s3://"+bucket+"/"+key, int64(len(data)))
	}

	var mediaType string
	if out.ContentType != nil && *out.ContentType != "binary/octet-stream" && *out.ContentType != "application/octet-stream" {
		mediaType, _, _ = strings.Cut(*out.ContentType, ";")
	}
	logger.Debug("document loaded", "source", "s3", "bucket", bucket, "key", key, "size", len(data))
	return New(data, key, mediaType), nil
}

func urlName(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if base := path.Base(u.Path); base != "/" && base != "." {
		return base
	}
	return u.Host
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
