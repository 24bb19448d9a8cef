package aws

import (
	"context"
	"fmt"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: awssdk.String("msg-1")}, nil
}

func TestSNSClient_PublishAlert(t *testing.T) {
	api := &fakeSNS{}
	client := newSNSClientWithAPI(api)

	id, err := client.PublishAlert(context.Background(),
		"arn:aws:sns:us-east-1:123456789012:retriever-alerts",
		"Retrieval failed",
		"all strategies failed",
		map[string]string{"event": "RetrievalError"},
	)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.NotNil(t, api.input)
	assert.Equal(t, "Retrieval failed", awssdk.ToString(api.input.Subject))
	assert.Equal(t, "all strategies failed", awssdk.ToString(api.input.Message))
	assert.Equal(t, "RetrievalError", awssdk.ToString(api.input.MessageAttributes["event"].StringValue))
}

func TestSNSClient_PublishAlert_Error(t *testing.T) {
	client := newSNSClientWithAPI(&fakeSNS{err: fmt.Errorf("throttled")})

	_, err := client.PublishAlert(context.Background(), "arn:topic", "s", "m", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
