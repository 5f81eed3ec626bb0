package policy

import (
	"context"
	"encoding/base64"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

// maxDocumentSize caps policy documents and signatures.
const maxDocumentSize = 1 << 20

// SigSuffix is appended to a source location to find its detached signature.
const SigSuffix = ".sig"

type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source is a parsed policy location.
type Source struct {
	Scheme string // file, ssm or s3
	Bucket string // s3 only
	Path   string // file path, parameter name or object key
}

// ParseSource accepts file:///etc/gate/policy.yaml, ssm:///gate/prod/policy
// and s3://bucket/key/policy.yaml. A bare path is treated as a file.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, xerrors.New("policy source is empty")
	}
	if !strings.Contains(raw, "://") {
		return Source{Scheme: "file", Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Source{}, xerrors.Wrapf(err, "parse policy source %q", raw)
	}
	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return Source{}, xerrors.Newf("policy source %q has no path", raw)
		}
		return Source{Scheme: "file", Path: u.Path}, nil
	case "ssm":
		if u.Path == "" || u.Path == "/" {
			return Source{}, xerrors.Newf("policy source %q has no parameter name", raw)
		}
		return Source{Scheme: "ssm", Path: u.Path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Source{}, xerrors.Newf("policy source %q needs s3://bucket/key", raw)
		}
		return Source{Scheme: "s3", Bucket: u.Host, Path: key}, nil
	default:
		return Source{}, xerrors.Newf("unsupported policy source scheme %q", u.Scheme)
	}
}

func (s Source) String() string {
	switch s.Scheme {
	case "s3":
		return "s3://" + s.Bucket + "/" + s.Path
	case "ssm":
		return "ssm://" + s.Path
	default:
		return "file://" + s.Path
	}
}

// Signature returns the location of the detached signature for s.
func (s Source) Signature() Source {
	s.Path += SigSuffix
	return s
}

// fetcher reads raw bytes from any Source scheme.
type fetcher struct {
	ssm ssmAPI
	s3  s3API
}

func (f fetcher) fetch(ctx context.Context, src Source) ([]byte, error) {
	switch src.Scheme {
	case "file":
		fh, err := os.Open(src.Path)
		if err != nil {
			return nil, xerrors.Wrapf(err, "open %s", src)
		}
		defer fh.Close()
		return readCapped(fh, src)

	case "ssm":
		if f.ssm == nil {
			return nil, xerrors.New("ssm client is not configured")
		}
		out, err := f.ssm.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(src.Path),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "get SSM parameter %s", src.Path)
		}
		if out.Parameter == nil || out.Parameter.Value == nil {
			return nil, xerrors.Newf("SSM parameter %s has no value", src.Path)
		}
		return []byte(*out.Parameter.Value), nil

	case "s3":
		if f.s3 == nil {
			return nil, xerrors.New("s3 client is not configured")
		}
		out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(src.Bucket),
			Key:    aws.String(src.Path),
		})
		if err != nil {
			return nil, xerrors.Wrapf(err, "get S3 object %s", src)
		}
		defer out.Body.Close()
		return readCapped(out.Body, src)

	default:
		return nil, xerrors.Newf("unsupported policy source scheme %q", src.Scheme)
	}
}

func readCapped(r io.Reader, src Source) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", src)
	}
	if len(data) > maxDocumentSize {
		return nil, xerrors.Newf("%s exceeds %d bytes", src, maxDocumentSize)
	}
	return data, nil
}

// decodeSignature accepts a base64 (std or raw) encoded signature.
func decodeSignature(data []byte) ([]byte, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil, xerrors.New("signature is empty")
	}
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	sig, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, xerrors.Wrap(err, "decode base64 signature")
	}
	return sig, nil
}
