package pipeline

import (
	"context"

	"tbkb-submission-go/pkg/log"
)

// Message 是发送给用户的一条通知。
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// Notifier 负责把通知投递给用户。
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier 只把通知写入日志，用于没有配置邮件服务的部署。
type LogNotifier struct{}

// Notify 记录一条通知。
func (LogNotifier) Notify(_ context.Context, msg Message) error {
	log.Infow("notification", "recipients", msg.Recipients, "subject", msg.Subject, "body", msg.Body)
	return nil
}
