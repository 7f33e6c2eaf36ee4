package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type fakeSNSClient struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNSClient) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("id")}, nil
}

func TestSNSPublishesEachProduct(t *testing.T) {
	client := &fakeSNSClient{}
	s := &SNS{topicARN: "arn:aws:sns:eu-north-1:123:drops", client: client}
	if err := s.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(client.inputs) != 2 {
		t.Fatalf("published %d, want 2", len(client.inputs))
	}
	in := client.inputs[0]
	if aws.ToString(in.TopicArn) != "arn:aws:sns:eu-north-1:123:drops" {
		t.Errorf("topic = %s", aws.ToString(in.TopicArn))
	}
	if attr := in.MessageAttributes["product_id"]; aws.ToString(attr.StringValue) != "100" {
		t.Errorf("product_id attribute = %+v", attr)
	}
	var msg snsMessage
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &msg); err != nil {
		t.Fatalf("message not JSON: %v", err)
	}
	if msg.Product.ID != "100" || msg.DiscoveredAt.IsZero() {
		t.Errorf("message = %+v", msg)
	}
}

func TestSNSPublishError(t *testing.T) {
	client := &fakeSNSClient{err: errors.New("throttled")}
	s := &SNS{topicARN: "arn", client: client}
	if err := s.Send(context.Background(), sample()); err == nil {
		t.Fatal("expected error")
	}
	if len(client.inputs) != 2 {
		t.Errorf("attempted %d, want all products attempted", len(client.inputs))
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("åäöåäö", 3); got != "åäö" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("ok", 10); got != "ok" {
		t.Errorf("truncate() = %q", got)
	}
}
