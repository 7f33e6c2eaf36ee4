package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/onnwee/dropwatch/catalog"
)

// snsClient defines the minimal subset of the SNS client used by SNS.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS publishes one message per product to a topic.
type SNS struct {
	topicARN string
	client   snsClient
}

func NewSNS(ctx context.Context, topicARN, region string) (*SNS, error) {
	var opts []func(*awscfg.LoadOptions) error
	if region != "" {
		opts = append(opts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNS{topicARN: topicARN, client: sns.NewFromConfig(cfg)}, nil
}

func (s *SNS) Name() string { return "sns" }

type snsMessage struct {
	Product      catalog.Product `json:"product"`
	DiscoveredAt time.Time       `json:"discovered_at"`
}

func (s *SNS) Send(ctx context.Context, products map[string]catalog.Product) error {
	now := time.Now().UTC()
	var errs []error
	for _, p := range sorted(products) {
		payload, err := json.Marshal(snsMessage{Product: p, DiscoveredAt: now})
		if err != nil {
			errs = append(errs, fmt.Errorf("product %s: marshal: %w", p.ID, err))
			continue
		}
		input := &sns.PublishInput{
			TopicArn: aws.String(s.topicARN),
			Message:  aws.String(string(payload)),
			Subject:  aws.String(truncate(title(p), 100)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"product_id": {
					DataType:    aws.String("String"),
					StringValue: aws.String(p.ID),
				},
			},
		}
		if _, err := s.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("product %s: publish to sns: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
