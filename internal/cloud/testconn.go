package cloud

import (
	"context"
	"strings"
)

// Validation messages reported by TestConnection.
const (
	MsgHostMissing          = "Lab Manager host is not specified"
	MsgHostNotHTTPS         = "Lab Manager host must start with https://"
	MsgOrganizationMissing  = "Lab Manager organization is not specified"
	MsgConfigurationMissing = "Lab Manager configuration is not specified"
	MsgUsernameMissing      = "Username is not specified"
	MsgPasswordMissing      = "Password is not specified"
	MsgConnected            = "Connected successfully"
	MsgLoginFailed          = "Could not login and retrieve basic information to confirm setup"
)

// ValidationResult is the outcome of TestConnection.
// Err holds the underlying failure when the probe reached the control plane.
type ValidationResult struct {
	OK      bool
	Message string
	Err     error
}

// TestConnection validates cloud settings and probes the control plane once.
//
// Field checks run in a fixed order and the first failure is reported. The
// probe fetches the configured configuration and confirms its name matches.
// It never returns an error; every failure is reported in the result.
func TestConnection(ctx context.Context, opts ProfileOptions, options ...Option) ValidationResult {
	host := strings.TrimSpace(opts.Host)
	switch {
	case host == "":
		return ValidationResult{Message: MsgHostMissing}
	case !strings.HasPrefix(host, "https://"):
		return ValidationResult{Message: MsgHostNotHTTPS}
	case strings.TrimSpace(opts.Organization) == "":
		return ValidationResult{Message: MsgOrganizationMissing}
	case strings.TrimSpace(opts.Configuration) == "":
		return ValidationResult{Message: MsgConfigurationMissing}
	case strings.TrimSpace(opts.Username) == "":
		return ValidationResult{Message: MsgUsernameMissing}
	case opts.Password == "":
		return ValidationResult{Message: MsgPasswordMissing}
	}

	p := NewProfile(opts, options...)
	client, err := p.OpenSession(ctx)
	if err != nil {
		return ValidationResult{Message: MsgLoginFailed, Err: err}
	}
	cfg, err := client.GetConfigurationByName(ctx, p.Configuration())
	if err != nil {
		return ValidationResult{Message: MsgLoginFailed, Err: err}
	}
	if cfg.Name != p.Configuration() {
		return ValidationResult{Message: MsgLoginFailed}
	}
	return ValidationResult{OK: true, Message: MsgConnected}
}

// Test runs TestConnection against the profile's own settings.
func (p *Profile) Test(ctx context.Context) ValidationResult {
	var options []Option
	if p.opener != nil {
		options = append(options, WithSessionOpener(p.opener))
	}
	return TestConnection(ctx, p.Options(), options...)
}
