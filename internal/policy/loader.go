package policy

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-gate/internal/log"
	"github.com/keithlinneman/linnemanlabs-gate/internal/xerrors"
)

type LoaderOptions struct {
	Logger log.Logger

	// Source is a file path or file://, ssm:// or s3:// URI
	Source string

	// SigningKeyARN enables detached signature verification when set
	SigningKeyARN string

	// AWS config, loaded from the default chain when nil and a remote
	// source or signing key needs it
	AWSConfig *aws.Config
}

// Loader fetches, verifies and parses a policy document.
type Loader struct {
	src      Source
	fetch    fetcher
	verifier Verifier
	logger   log.Logger
}

func NewLoader(ctx context.Context, opts LoaderOptions) (*Loader, error) {
	src, err := ParseSource(opts.Source)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	l := &Loader{src: src, logger: opts.Logger}
	if src.Scheme == "file" && opts.SigningKeyARN == "" {
		return l, nil
	}

	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}

	switch src.Scheme {
	case "ssm":
		l.fetch.ssm = ssm.NewFromConfig(awsCfg)
	case "s3":
		l.fetch.s3 = s3.NewFromConfig(awsCfg)
	}
	if opts.SigningKeyARN != "" {
		l.verifier = NewKMSVerifier(kms.NewFromConfig(awsCfg), opts.SigningKeyARN)
	}
	return l, nil
}

// Load returns base overridden by the document at the configured source.
func (l *Loader) Load(ctx context.Context, base Policy) (Policy, error) {
	data, err := l.fetch.fetch(ctx, l.src)
	if err != nil {
		return Policy{}, err
	}

	if l.verifier != nil {
		raw, err := l.fetch.fetch(ctx, l.src.Signature())
		if err != nil {
			return Policy{}, xerrors.Wrap(err, "fetch policy signature")
		}
		sig, err := decodeSignature(raw)
		if err != nil {
			return Policy{}, err
		}
		if err := l.verifier.VerifySignature(ctx, data, sig); err != nil {
			return Policy{}, xerrors.Wrapf(err, "verify policy %s", l.src)
		}
	}

	p, err := Parse(data, base)
	if err != nil {
		return Policy{}, xerrors.Wrapf(err, "policy %s", l.src)
	}

	l.logger.Info(ctx, "rate limit policy loaded",
		"source", l.src.String(),
		"verified", l.verifier != nil,
		"max_requests", p.MaxRequests,
		"window", p.Window.String(),
	)
	return p, nil
}
