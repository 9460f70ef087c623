package alert

// Config holds operator alert delivery settings. Without Postmark tokens
// alerts are only logged.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"ALERT_SENDER_EMAIL"`
	RecipientEmail       string `env:"ALERT_RECIPIENT_EMAIL"`
	Tag                  string `env:"ALERT_TAG" envDefault:"subsync-dead-letter"`
}

// Enabled reports whether email delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != "" && c.RecipientEmail != ""
}
