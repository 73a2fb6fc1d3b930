package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"fixit/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Message is one outbound email or SMS.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Provider delivers messages over one channel.
type Provider interface {
	Send(ctx context.Context, message *Message) error
	Name() string
	Channel() models.Channel
}

// SendGridProvider sends email through the SendGrid v3 API.
type SendGridProvider struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

func NewSendGridProvider(apiKey, from, fromName string) *SendGridProvider {
	return &SendGridProvider{client: sendgrid.NewSendClient(apiKey), from: from, fromName: fromName}
}

func (p *SendGridProvider) Send(ctx context.Context, message *Message) error {
	m := mail.NewSingleEmail(
		mail.NewEmail(p.fromName, p.from),
		message.Subject,
		mail.NewEmail("", message.To),
		message.Body,
		"",
	)
	resp, err := p.client.SendWithContext(ctx, m)
	if err != nil {
		return fmt.Errorf("sendgrid send failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (p *SendGridProvider) Name() string            { return "SendGrid" }
func (p *SendGridProvider) Channel() models.Channel { return models.ChannelEmail }

// SMTPProvider sends plain-text email with PLAIN auth.
type SMTPProvider struct {
	host     string
	port     string
	username string
	password string
	from     string
	fromName string
}

func NewSMTPProvider(host string, port int, username, password, from, fromName string) *SMTPProvider {
	return &SMTPProvider{
		host:     host,
		port:     fmt.Sprintf("%d", port),
		username: username,
		password: password,
		from:     from,
		fromName: fromName,
	}
}

func (p *SMTPProvider) Send(ctx context.Context, message *Message) error {
	from := p.from
	if p.fromName != "" {
		from = fmt.Sprintf("%s <%s>", p.fromName, p.from)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", message.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", message.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(message.Body)

	var auth smtp.Auth
	if p.username != "" {
		auth = smtp.PlainAuth("", p.username, p.password, p.host)
	}
	addr := net.JoinHostPort(p.host, p.port)

	// net/smtp has no context support; run it aside and honour cancellation.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, p.from, []string{message.To}, []byte(b.String()))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *SMTPProvider) Name() string            { return "SMTP" }
func (p *SMTPProvider) Channel() models.Channel { return models.ChannelEmail }

// SNSProvider sends SMS through AWS SNS.
type SNSProvider struct {
	client   *sns.Client
	senderID string
}

func NewSNSProvider(ctx context.Context, region, accessKeyID, secretAccessKey, senderID string) (*SNSProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	// explicit keys win over the default credential chain
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SNSProvider{client: sns.NewFromConfig(cfg), senderID: senderID}, nil
}

func (p *SNSProvider) Send(ctx context.Context, message *Message) error {
	input := &sns.PublishInput{
		Message:     aws.String(message.Body),
		PhoneNumber: aws.String(message.To),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	}
	if p.senderID != "" {
		input.MessageAttributes["AWS.SNS.SMS.SenderID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(p.senderID),
		}
	}
	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("SNS send failed: %w", err)
	}
	return nil
}

func (p *SNSProvider) Name() string            { return "AWS SNS" }
func (p *SNSProvider) Channel() models.Channel { return models.ChannelSMS }

// TwilioProvider posts to the Twilio Messages API.
type TwilioProvider struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

func NewTwilioProvider(accountSID, authToken, from string) *TwilioProvider {
	return &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    "https://api.twilio.com",
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *TwilioProvider) Send(ctx context.Context, message *Message) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, p.accountSID)
	form := url.Values{}
	form.Set("To", message.To)
	form.Set("From", p.from)
	form.Set("Body", message.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("twilio returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *TwilioProvider) Name() string            { return "Twilio" }
func (p *TwilioProvider) Channel() models.Channel { return models.ChannelSMS }

// LogProvider writes messages to the log instead of sending them.
type LogProvider struct {
	channel models.Channel
	logger  *logrus.Logger
}

func NewLogProvider(channel models.Channel, logger *logrus.Logger) *LogProvider {
	return &LogProvider{channel: channel, logger: logger}
}

func (p *LogProvider) Send(_ context.Context, message *Message) error {
	// bodies can carry one-time tokens and public links
	p.logger.WithFields(logrus.Fields{
		"channel": p.channel,
		"to":      message.To,
		"subject": message.Subject,
		"length":  len(message.Body),
	}).Info("notification delivered to log")
	return nil
}

func (p *LogProvider) Name() string            { return "log" }
func (p *LogProvider) Channel() models.Channel { return p.channel }

// BreakerProvider wraps a provider with a circuit breaker and a per-send timeout.
type BreakerProvider struct {
	next    Provider
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewBreakerProvider(next Provider, timeout time.Duration, logger *logrus.Logger) *BreakerProvider {
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("notification provider circuit breaker state changed")
		},
	}
	return &BreakerProvider{next: next, breaker: gobreaker.NewCircuitBreaker(settings), timeout: timeout}
}

func (p *BreakerProvider) Send(ctx context.Context, message *Message) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Send(ctx, message)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s unavailable: %w", p.next.Name(), err)
	}
	return err
}

func (p *BreakerProvider) Name() string            { return p.next.Name() }
func (p *BreakerProvider) Channel() models.Channel { return p.next.Channel() }
