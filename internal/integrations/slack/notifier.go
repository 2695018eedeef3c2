package slackbot

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"pulsecheck/internal/report"
)

// Notifier posts finished status reports to one channel.
type Notifier struct {
	api       *slack.Client
	channelID string
	logger    *zap.Logger
}

func NewNotifier(token, channelID string, httpClient *http.Client, logger *zap.Logger, opts ...slack.Option) (*Notifier, error) {
	if token == "" || channelID == "" {
		return nil, errors.New("slack bot token and report channel are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient != nil {
		opts = append([]slack.Option{slack.OptionHTTPClient(httpClient)}, opts...)
	}
	return &Notifier{
		api:       slack.New(token, opts...),
		channelID: channelID,
		logger:    logger,
	}, nil
}

func (n *Notifier) PostReport(ctx context.Context, r report.Report) error {
	text := toSlackMrkdwn(report.Markdown(r))
	channel, ts, err := n.api.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		return err
	}
	n.logger.Info("slack report posted",
		zap.String("channel", channel),
		zap.String("ts", ts),
		zap.Int("items", len(r.Items)),
	)
	return nil
}

var (
	headingRe = regexp.MustCompile(`^#{1,6}\s+(.*)$`)
	boldRe    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// toSlackMrkdwn rewrites headings and bold markup; Slack has no headings.
func toSlackMrkdwn(md string) string {
	lines := strings.Split(md, "\n")
	for i, line := range lines {
		line = boldRe.ReplaceAllString(line, "*$1*")
		if m := headingRe.FindStringSubmatch(line); m != nil {
			line = "*" + strings.TrimSpace(m[1]) + "*"
		}
		if strings.TrimSpace(line) == "---" {
			line = ""
		}
		lines[i] = line
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
