package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/ajitpratap0/deltaflow/pkg/config"
	"github.com/ajitpratap0/deltaflow/pkg/errors"
	"github.com/ajitpratap0/deltaflow/pkg/logger"
	"github.com/ajitpratap0/deltaflow/pkg/metrics"
)

const (
	defaultUploadPartSize = 5 * 1024 * 1024 // 5MB
	defaultMaxConcurrency = 4
)

// S3Options configures an S3Store.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	AllowHTTP       bool
	UploadPartSize  int64
	MaxConcurrency  int
}

// OptionsFromParameters builds S3Options from a storage parameter map as
// produced by config.ConnectionConfig.ToParameterMap. AWS_REGION takes
// precedence over region.
func OptionsFromParameters(params map[string]string) (S3Options, error) {
	opts := S3Options{
		Endpoint:        params[config.ParamEndpointURL],
		Region:          params[config.ParamAWSRegion],
		AccessKeyID:     params[config.ParamAccessKeyID],
		SecretAccessKey: params[config.ParamSecretAccessKey],
		Bucket:          params[config.ParamBucketName],
	}
	if opts.Region == "" {
		opts.Region = params[config.ParamRegion]
	}
	if raw, ok := params[config.ParamAllowHTTP]; ok && raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			return S3Options{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid "+config.ParamAllowHTTP).
				WithDetail("key", config.ParamAllowHTTP)
		}
		opts.AllowHTTP = allow
	}

	var missing []string
	if opts.Region == "" {
		missing = append(missing, config.ParamRegion)
	}
	if opts.AccessKeyID == "" {
		missing = append(missing, config.ParamAccessKeyID)
	}
	if opts.SecretAccessKey == "" {
		missing = append(missing, config.ParamSecretAccessKey)
	}
	if opts.Bucket == "" {
		missing = append(missing, config.ParamBucketName)
	}
	if len(missing) > 0 {
		return S3Options{}, errors.ConfigMissing(missing...)
	}
	return opts, nil
}

// S3Store is an ObjectStore backed by an S3-compatible service.
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Store builds a client from a storage parameter map. Plain HTTP
// endpoints are refused unless allow_http is true.
func NewS3Store(ctx context.Context, params map[string]string, log *zap.Logger) (*S3Store, error) {
	opts, err := OptionsFromParameters(params)
	if err != nil {
		return nil, err
	}
	return NewS3StoreWithOptions(ctx, opts, log)
}

// NewS3StoreWithOptions builds a client from explicit options.
func NewS3StoreWithOptions(ctx context.Context, opts S3Options, log *zap.Logger) (*S3Store, error) {
	if opts.Endpoint != "" {
		u, err := url.Parse(opts.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid endpoint url %q", opts.Endpoint).
				WithDetail("key", config.ParamEndpointURL)
		}
		if u.Scheme == "http" && !opts.AllowHTTP {
			return nil, errors.Newf(errors.ErrorTypeConfig, "endpoint %s uses plain http but %s is false", opts.Endpoint, config.ParamAllowHTTP).
				WithDetail("key", config.ParamAllowHTTP)
		}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	partSize := opts.UploadPartSize
	if partSize <= 0 {
		partSize = defaultUploadPartSize
	}
	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrency
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})

	l := logger.OrNop(log).With(zap.String("bucket", opts.Bucket), zap.String("endpoint", opts.Endpoint))
	l.Debug("S3 store initialized", zap.String("region", opts.Region))

	return &S3Store{bucket: opts.Bucket, client: client, uploader: uploader, logger: l}, nil
}

func (s *S3Store) Bucket() string { return s.bucket }

// CheckAccess verifies the bucket is reachable with the configured
// credentials.
func (s *S3Store) CheckAccess(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to access bucket "+s.bucket).
			WithDetail("bucket", s.bucket)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s.translate(err, key, "get")
		metrics.ObserveStorage("get", statusOf(err), time.Since(start))
		return nil, err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		metrics.ObserveStorage("get", "error", time.Since(start))
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read object "+key)
	}
	metrics.ObserveStorage("get", "success", time.Since(start))
	metrics.StorageBytes.WithLabelValues("read").Add(float64(len(data)))
	return data, nil
}

// Put uploads data through the multipart uploader; objects above the part
// size are sent in parallel parts.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		err = s.translate(err, key, "put")
	} else {
		metrics.StorageBytes.WithLabelValues("write").Add(float64(len(data)))
	}
	metrics.ObserveStorage("put", statusOf(err), time.Since(start))
	return err
}

// PutIfAbsent issues a conditional PutObject with If-None-Match: *.
func (s *S3Store) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		err = s.translate(err, key, "put_if_absent")
	} else {
		metrics.StorageBytes.WithLabelValues("write").Add(float64(len(data)))
	}
	metrics.ObserveStorage("put_if_absent", statusOf(err), time.Since(start))
	return err
}

func (s *S3Store) Head(ctx context.Context, key string) (ObjectInfo, error) {
	start := time.Now()
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s.translate(err, key, "head")
		metrics.ObserveStorage("head", statusOf(err), time.Since(start))
		return ObjectInfo{}, err
	}
	metrics.ObserveStorage("head", "success", time.Since(start))
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var out []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			err = s.translate(err, prefix, "list")
			metrics.ObserveStorage("list", statusOf(err), time.Since(start))
			return nil, err
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	metrics.ObserveStorage("list", "success", time.Since(start))
	return out, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s.translate(err, key, "delete")
	}
	metrics.ObserveStorage("delete", statusOf(err), time.Since(start))
	return err
}

func (s *S3Store) translate(err error, key, op string) error {
	switch classify(err) {
	case errNotFound:
		return notFound(s.bucket, key)
	case errExists:
		return exists(s.bucket, key)
	}
	s.logger.Warn("object store operation failed",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err))
	return errors.Wrap(err, errors.ErrorTypeConnection, op+" "+key+" failed").
		WithDetail("bucket", s.bucket).
		WithDetail("key", key)
}

type errClass int

const (
	errOther errClass = iota
	errNotFound
	errExists
)

// classify maps S3 API errors onto the store sentinels. MinIO and AWS
// disagree on the code used for a lost conditional write, so both are
// accepted.
func classify(err error) errClass {
	var nsk *types.NoSuchKey
	if stderrors.As(err, &nsk) {
		return errNotFound
	}
	var nf *types.NotFound
	if stderrors.As(err, &nf) {
		return errNotFound
	}
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errNotFound
		case "PreconditionFailed", "ConditionalRequestConflict":
			return errExists
		}
	}
	return errOther
}
