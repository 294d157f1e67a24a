package events

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQSBroadcaster implementation
type SQSBroadcaster struct {
	QueueURL string
	queue    *sqs.SQS
}

// InitSQSBroadcaster ...
func InitSQSBroadcaster(cfg Config) Broadcaster {
	ssn := session.Must(session.NewSession(&aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewSharedCredentials(cfg.CredentialsFile, cfg.CredentialsProfile),
		MaxRetries:  aws.Int(cfg.Retries),
	}))
	queue := sqs.New(ssn)
	URL := fmt.Sprintf("%s/%s", cfg.URL, cfg.Name)
	return &SQSBroadcaster{
		queue:    queue,
		QueueURL: URL,
	}
}

// Publish - fire-and-forget; send failures are logged, never returned.
func (b *SQSBroadcaster) Publish(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.WithFields(log.Fields{
			"event":   "event_serialize_failed",
			"channel": "aws_sqs",
		}).Error(err)
		return
	}
	msg := &sqs.SendMessageInput{
		MessageBody:  aws.String(string(body)),
		QueueUrl:     aws.String(b.QueueURL),
		DelaySeconds: aws.Int64(0),
	}
	sendResponse, err := b.queue.SendMessage(msg)
	if err != nil {
		log.WithFields(log.Fields{
			"event":   "event_publish_failed",
			"channel": "aws_sqs",
		}).Error(err)
		return
	}
	log.WithFields(log.Fields{
		"event":   "event_published",
		"channel": "aws_sqs",
	}).Debug(*sendResponse.MessageId)
}
