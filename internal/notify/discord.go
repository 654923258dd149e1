package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/kestral/convoke/internal/task"
	"go.uber.org/zap"
)

// DiscordNotifier posts workflow announcements to a Discord channel.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

func NewDiscordNotifier(botToken, channelID string, logger *zap.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) NotifyWorkflow(_ context.Context, exec *task.Execution) error {
	if _, err := d.session.ChannelMessageSend(d.channelID, formatExecution(exec)); err != nil {
		return err
	}
	d.logger.Debug("discord notification sent",
		zap.String("workflow", exec.WorkflowID), zap.String("channel", d.channelID))
	return nil
}

// Close releases the Discord session.
func (d *DiscordNotifier) Close() error {
	return d.session.Close()
}
