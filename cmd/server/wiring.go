package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/tapcommand-web/internal/authstate"
	"github.com/keithlinneman/tapcommand-web/internal/cfg"
	"github.com/keithlinneman/tapcommand-web/internal/secrets"
	"github.com/keithlinneman/tapcommand-web/internal/theme"
	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

type awsClients struct {
	s3  *s3.Client
	ssm *ssm.Client
}

func newAWSClients(ctx context.Context, region string) (*awsClients, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "load aws config")
	}
	return &awsClients{
		s3:  s3.NewFromConfig(awsCfg),
		ssm: ssm.NewFromConfig(awsCfg),
	}, nil
}

// newVerifier returns nil when no secret is configured.
func newVerifier(ctx context.Context, conf cfg.App, aws *awsClients) (authstate.TokenVerifier, error) {
	secret := conf.JWTSecret
	if conf.JWTSecretSSMParam != "" {
		if aws == nil {
			return nil, xerrors.New("jwt secret parameter set without aws clients")
		}
		var err error
		if secret, err = secrets.FromSSM(ctx, aws.ssm, conf.JWTSecretSSMParam); err != nil {
			return nil, err
		}
	}
	if secret == "" {
		return nil, nil
	}
	jv, err := authstate.NewJWTVerifier([]byte(secret))
	if err != nil {
		return nil, err
	}
	return jv, nil
}

// themeSource returns nil when only the embedded default is used.
func themeSource(conf cfg.App, aws *awsClients) (theme.Source, error) {
	switch {
	case conf.ThemeFile != "":
		return theme.FileSource{Path: conf.ThemeFile}, nil
	case conf.ThemeS3URI != "":
		if aws == nil {
			return nil, xerrors.New("theme s3 uri set without aws clients")
		}
		bucket, key, err := theme.ParseS3URI(conf.ThemeS3URI)
		if err != nil {
			return nil, err
		}
		return theme.S3Source{API: aws.s3, Bucket: bucket, Key: key}, nil
	}
	return nil, nil
}
