package remote

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = in
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Upload(t *testing.T) {
	fake := &fakeS3{}
	b := &S3BlobStore{client: fake, bucket: "eggs", prefix: "farm-1"}

	p, err := b.Upload(context.Background(), "images/dev/2026-10-19/a.jpg", []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "s3://eggs/farm-1/images/dev/2026-10-19/a.jpg", p)
	assert.Equal(t, "farm-1/images/dev/2026-10-19/a.jpg", aws.ToString(fake.input.Key))
	assert.Equal(t, "image/jpeg", aws.ToString(fake.input.ContentType))
	assert.Equal(t, int64(4), aws.ToInt64(fake.input.ContentLength))
	assert.Equal(t, []byte("jpeg"), fake.body)
}

func TestS3ErrorTranslation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}, KindRejected},
		{"request timeout", &smithy.GenericAPIError{Code: "RequestTimeout", Fault: smithy.FaultClient}, KindNetwork},
		{"server", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, KindNetwork},
		{"transport", io.ErrUnexpectedEOF, KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &S3BlobStore{client: &fakeS3{err: tt.err}, bucket: "eggs"}
			_, err := b.Upload(context.Background(), "a.jpg", nil, "image/jpeg")
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}
