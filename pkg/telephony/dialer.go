package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxline/voxline/pkg/logging"
)

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	// PublicURL is the externally reachable host for the answer webhook.
	PublicURL string `mapstructure:"public_url"`
	VoicePath string `mapstructure:"voice_path"`
}

func (c Config) withDefaults() Config {
	if c.VoicePath == "" {
		c.VoicePath = "/v1/voice/answer"
	}
	return c
}

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer places outbound calls through Twilio so an agent script can
// reach a caller proactively.
type Dialer struct {
	cfg    Config
	client callCreator
	logger *slog.Logger
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{
		cfg:    cfg.withDefaults(),
		logger: logging.NewComponentLogger(slog.Default(), "telephony"),
	}
}

// Dial creates the call and returns the provider call id. An empty
// answer URL falls back to the configured public webhook.
func (d *Dialer) Dial(_ context.Context, to, from, answerURL string) (string, error) {
	if to == "" {
		return "", errors.New("to is required")
	}
	if from == "" {
		from = d.cfg.From
	}
	if from == "" {
		return "", errors.New("from is required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	if answerURL == "" {
		answerURL = d.answerWebhookURL()
	}

	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		})
		client = rest.Api
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(answerURL)

	resp, err := client.CreateCall(params)
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	d.logger.Info("outbound call created", "to", to, "call_sid", *resp.Sid)
	return *resp.Sid, nil
}

func (d *Dialer) answerWebhookURL() string {
	host := strings.TrimPrefix(strings.TrimPrefix(d.cfg.PublicURL, "https://"), "http://")
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		host = "localhost:8080"
		return "http://" + host + d.cfg.VoicePath
	}
	return "https://" + host + d.cfg.VoicePath
}
