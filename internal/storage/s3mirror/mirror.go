// Package s3mirror copies the output files of completed jobs to an S3 bucket.
package s3mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/SGITme/whisper-MP3transcriber/internal/entity"
)

type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// ObjectPutter is the subset of *s3.Client the mirror needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Mirror struct {
	client ObjectPutter
	bucket string
	prefix string
	log    *zap.Logger
}

// New builds a client from the default AWS credential chain. A custom endpoint
// switches to path-style addressing for S3-compatible stores.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 mirror: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 mirror: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, log), nil
}

func NewWithClient(client ObjectPutter, bucket, prefix string, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
	}
}

// Key is <prefix>/<job id>/<file name>.
func (m *Mirror) Key(jobID, file string) string {
	return path.Join(m.prefix, jobID, filepath.Base(file))
}

// Store uploads every output file of a completed job. It attempts all files
// and returns the joined errors.
func (m *Mirror) Store(ctx context.Context, job *entity.Job) error {
	if job.Result == nil || len(job.Result.Files) == 0 {
		return nil
	}

	formats := make([]entity.Format, 0, len(job.Result.Files))
	for f := range job.Result.Files {
		formats = append(formats, f)
	}
	sort.Slice(formats, func(i, j int) bool { return formats[i] < formats[j] })

	var errs []error
	for _, f := range formats {
		local := job.Result.Files[f]
		if err := m.put(ctx, m.Key(job.ID, local), local, contentType(f)); err != nil {
			errs = append(errs, fmt.Errorf("upload %s: %w", f, err))
			continue
		}
		m.log.Debug("mirrored output", zap.String("job_id", job.ID), zap.String("format", string(f)))
	}
	return errors.Join(errs...)
}

func (m *Mirror) put(ctx context.Context, key, local, ctype string) error {
	fh, err := os.Open(local)
	if err != nil {
		return err
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return err
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          fh,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ctype),
	})
	return err
}

func contentType(f entity.Format) string {
	switch f {
	case entity.FormatJSON:
		return "application/json"
	case entity.FormatVTT:
		return "text/vtt; charset=utf-8"
	case entity.FormatSRT:
		return "application/x-subrip; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
