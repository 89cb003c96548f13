package theme

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/keithlinneman/tapcommand-web/internal/cryptoutil"
	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

// Source yields the raw theme document and a version that changes when the
// document does.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (data []byte, version string, err error)
}

// EmbeddedSource serves the built-in default.
type EmbeddedSource struct{}

func (EmbeddedSource) Name() string { return "embedded" }

func (EmbeddedSource) Fetch(context.Context) ([]byte, string, error) {
	return defaultYAML, cryptoutil.SHA256Hex(defaultYAML), nil
}

type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return "file" }

func (s FileSource) Fetch(context.Context) ([]byte, string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "open theme %s", s.Path)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxDocumentBytes))
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read theme %s", s.Path)
	}
	return b, cryptoutil.SHA256Hex(b), nil
}

// S3API is the subset of *s3.Client used here.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type S3Source struct {
	API    S3API
	Bucket string
	Key    string
}

func (s S3Source) Name() string { return "s3" }

// Fetch reads the object; the version is the content hash since ETags are
// not content hashes for multipart uploads.
func (s S3Source) Fetch(ctx context.Context) ([]byte, string, error) {
	out, err := s.API.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.Bucket, s.Key)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(io.LimitReader(out.Body, maxDocumentBytes))
	if err != nil {
		return nil, "", xerrors.Wrapf(err, "read S3 object s3://%s/%s", s.Bucket, s.Key)
	}
	return b, cryptoutil.SHA256Hex(b), nil
}

// LoadS3 fetches and parses a theme document from S3.
func LoadS3(ctx context.Context, api S3API, bucket, key string) (*Theme, error) {
	b, _, err := S3Source{API: api, Bucket: bucket, Key: key}.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", xerrors.Newf("theme uri %q: want s3://bucket/key", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", xerrors.Newf("theme uri %q: want s3://bucket/key", uri)
	}
	return bucket, key, nil
}
