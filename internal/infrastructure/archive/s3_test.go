package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockObjectAPI implements ObjectAPI
type MockObjectAPI struct {
	PutObjectFunc func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error)
}

func (m *MockObjectAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return m.PutObjectFunc(ctx, params)
}

func TestS3Archive_Put(t *testing.T) {
	var got *s3.PutObjectInput
	var body []byte
	api := &MockObjectAPI{
		PutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			got = params
			body, _ = io.ReadAll(params.Body)
			return &s3.PutObjectOutput{}, nil
		},
	}

	a := NewWithAPI(api, "raw-bucket", "raw")
	err := a.Put(context.Background(), "C1/invoices/inv-1.json", []byte(`{"id":"inv-1"}`))
	require.NoError(t, err)

	assert.Equal(t, "raw-bucket", aws.ToString(got.Bucket))
	assert.Equal(t, "raw/C1/invoices/inv-1.json", aws.ToString(got.Key))
	assert.Equal(t, "application/json", aws.ToString(got.ContentType))
	assert.JSONEq(t, `{"id":"inv-1"}`, string(body))
}

func TestS3Archive_PutError(t *testing.T) {
	api := &MockObjectAPI{
		PutObjectFunc: func(ctx context.Context, params *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			return nil, errors.New("access denied")
		},
	}

	err := NewWithAPI(api, "raw-bucket", "").Put(context.Background(), "k.json", []byte(`{}`))
	assert.ErrorContains(t, err, "access denied")
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}
