package email

import (
	"embed"
	"fmt"

	"github.com/aymerick/raymond"
)

//go:embed templates/*.hbs
var templatesFS embed.FS

// ResetParams fills the reset confirmation template.
type ResetParams struct {
	Username  string
	Email     string
	IPAddress string
	Date      string
}

// Templates renders the Handlebars email bodies. Parsed templates are
// safe for concurrent use.
type Templates struct {
	forgot  *raymond.Template
	confirm *raymond.Template
}

// NewTemplates parses the embedded templates.
func NewTemplates() (*Templates, error) {
	forgot, err := parse("forgot_password.hbs")
	if err != nil {
		return nil, err
	}
	confirm, err := parse("reset_confirmation.hbs")
	if err != nil {
		return nil, err
	}
	return &Templates{forgot: forgot, confirm: confirm}, nil
}

func parse(name string) (*raymond.Template, error) {
	src, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("socialq/email: read template %s: %w", name, err)
	}
	tpl, err := raymond.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("socialq/email: parse template %s: %w", name, err)
	}
	return tpl, nil
}

// ForgotPassword renders the reset-link email.
func (t *Templates) ForgotPassword(username, resetLink string) (string, error) {
	out, err := t.forgot.Exec(map[string]string{
		"username":  username,
		"resetLink": resetLink,
	})
	if err != nil {
		return "", fmt.Errorf("socialq/email: render forgot password: %w", err)
	}
	return out, nil
}

// ResetConfirmation renders the password-changed email.
func (t *Templates) ResetConfirmation(p ResetParams) (string, error) {
	out, err := t.confirm.Exec(map[string]string{
		"username":  p.Username,
		"email":     p.Email,
		"ipaddress": p.IPAddress,
		"date":      p.Date,
	})
	if err != nil {
		return "", fmt.Errorf("socialq/email: render reset confirmation: %w", err)
	}
	return out, nil
}
