package auth

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

// SSMGetter is the subset of *ssm.Client used to read the signing secret.
type SSMGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretFromSSM reads a SecureString parameter holding the JWT signing key.
func SecretFromSSM(ctx context.Context, client SSMGetter, name string) ([]byte, error) {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if len(v) < MinSecretBytes {
		return nil, xerrors.Newf("SSM parameter %s holds a secret shorter than %d bytes", name, MinSecretBytes)
	}
	return []byte(v), nil
}
