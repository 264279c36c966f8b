package mailer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/wneessen/go-mail"

	"github.com/freemre/avatargen/internal/config"
)

const subject = "Your Altspace avatar is ready"

var bodyTemplate = template.Must(template.New("body").Parse(`Hi {{.Username}},

Your regenerated Altspace avatar is attached to this email as an FBX model.

Import it into your favorite 3D tool or upload it to a platform of your
choice. This copy was requested for {{.Email}}; if that wasn't you, you can
safely ignore this message.

- The Free MRE Foundation
`))

// Mailer submits rendered artifacts over SMTP. The attachment is handed to
// the mail client by path, so large models are streamed at send time rather
// than held in memory.
type Mailer struct {
	client *mail.Client
	from   string
}

func New(cfg config.MailConfig) (*Mailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("configure smtp client: %w", err)
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &Mailer{client: client, from: from}, nil
}

// Deliver composes the templated message and sends the artifact to the
// requester. The artifact stays on disk whether or not the send succeeds.
func (m *Mailer) Deliver(ctx context.Context, email, username, artifactPath string) error {
	body, err := renderBody(email, username)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(email); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	msg.AttachFile(artifactPath, mail.WithFileName(filepath.Base(artifactPath)))

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func renderBody(email, username string) (string, error) {
	var sb strings.Builder
	err := bodyTemplate.Execute(&sb, struct {
		Username string
		Email    string
	}{Username: username, Email: email})
	if err != nil {
		return "", fmt.Errorf("render mail body: %w", err)
	}
	return sb.String(), nil
}
