package planstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/canopyproj/canopy/pkg/errdefs"
	"github.com/canopyproj/canopy/pkg/types"
)

// S3Store implements Store on an S3 bucket, one JSON object per
// deployment name. S3 object PUTs are atomic per key, which satisfies
// the atomic-overwrite requirement; readers see either the previous or
// the new object, never a mix.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	ctx    context.Context
}

// NewS3Store builds a store for an s3://bucket/prefix location using the
// ambient AWS credential chain.
func NewS3Store(ctx context.Context, bucket, prefix, region string) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errdefs.Authentication(fmt.Errorf("load AWS config: %w", err))
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
		ctx:    ctx,
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name + ".json"
	}
	return path.Join(s.prefix, name+".json")
}

func (s *S3Store) Load(name string) (*types.DeploymentState, bool, error) {
	out, err := s.client.GetObject(s.ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, false, nil
		}
		return nil, false, errdefs.TransientNetwork(fmt.Errorf("get state object for %s: %w", name, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, errdefs.TransientNetwork(fmt.Errorf("read state object for %s: %w", name, err))
	}

	var state types.DeploymentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, true, errdefs.StateCorrupted(fmt.Errorf("deployment %s: %w", name, err))
	}
	if err := state.CheckIntegrity(); err != nil {
		return nil, true, errdefs.StateCorrupted(err)
	}
	return &state, true, nil
}

func (s *S3Store) Save(name string, state *types.DeploymentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state for %s: %w", name, err)
	}
	_, err = s.client.PutObject(s.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errdefs.TransientNetwork(fmt.Errorf("put state object for %s: %w", name, err))
	}
	return nil
}

func (s *S3Store) Delete(name string) error {
	_, err := s.client.DeleteObject(s.ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return errdefs.TransientNetwork(fmt.Errorf("delete state object for %s: %w", name, err))
	}
	return nil
}

func (s *S3Store) List() ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(s.ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errdefs.TransientNetwork(fmt.Errorf("list state objects: %w", err))
		}
		for _, obj := range out.Contents {
			base := path.Base(aws.ToString(obj.Key))
			if strings.HasSuffix(base, ".json") {
				names = append(names, strings.TrimSuffix(base, ".json"))
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

// Close is a no-op; the S3 client holds no local resources
func (s *S3Store) Close() error {
	return nil
}
