package services

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/tessera/internal/models"
	pkglogger "github.com/BradenHooton/tessera/pkg/logger"
)

// Mailer delivers magic login links.
type Mailer interface {
	SendLoginLink(ctx context.Context, to, link string, expiresIn time.Duration) error
}

// SESAPI is the subset of the SES client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends emails using AWS SES
type SESMailer struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESMailer loads the default AWS config for region and builds an SES client.
func NewSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

// NewSESMailerWithClient wraps an existing SES client.
func NewSESMailerWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *SESMailer {
	return &SESMailer{
		client:      client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendLoginLink mails link to the given address.
func (m *SESMailer) SendLoginLink(ctx context.Context, to, link string, expiresIn time.Duration) error {
	htmlBody, textBody := renderLoginLink(link, expiresIn)

	input := &ses.SendEmailInput{
		Source: aws.String(m.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String("Your sign-in link"),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data:    aws.String(htmlBody),
					Charset: aws.String("UTF-8"),
				},
				Text: &types.Content{
					Data:    aws.String(textBody),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		m.logger.Error("failed to send login link via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("%w: %w", models.ErrMailUnavailable, err)
	}

	m.logger.Info("login link sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// ConsoleMailer writes login links to the log instead of sending them.
// Only meant for local development.
type ConsoleMailer struct {
	logger *slog.Logger
}

func NewConsoleMailer(logger *slog.Logger) *ConsoleMailer {
	return &ConsoleMailer{logger: logger}
}

func (m *ConsoleMailer) SendLoginLink(ctx context.Context, to, link string, expiresIn time.Duration) error {
	m.logger.InfoContext(ctx, "login link (console mailer)",
		slog.String("email", to),
		slog.String("link", link),
		slog.Duration("expires_in", expiresIn))
	return nil
}

func renderLoginLink(link string, expiresIn time.Duration) (string, string) {
	minutes := int(expiresIn.Round(time.Minute) / time.Minute)
	escaped := html.EscapeString(link)

	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign in</h1>
        <p>Click the button below to finish signing in. The link works for %d minutes.</p>
        <p><a href="%s" class="button">Sign in</a></p>
        <p>Or copy and paste this link in your browser:<br>
        <code>%s</code></p>
        <p>If you did not try to sign in, you can ignore this email.</p>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, minutes, escaped, escaped)

	textBody := fmt.Sprintf(`Sign in

Open the link below to finish signing in. The link works for %d minutes.

%s

If you did not try to sign in, you can ignore this email.
`, minutes, link)

	return htmlBody, textBody
}
