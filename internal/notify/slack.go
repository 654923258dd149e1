package notify

import (
	"context"

	"github.com/kestral/convoke/internal/task"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier posts workflow announcements to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

func NewSlackNotifier(botToken, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) NotifyWorkflow(ctx context.Context, exec *task.Execution) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(formatExecution(exec), false))
	if err != nil {
		return err
	}
	s.logger.Debug("slack notification sent",
		zap.String("workflow", exec.WorkflowID), zap.String("channel", s.channel))
	return nil
}
