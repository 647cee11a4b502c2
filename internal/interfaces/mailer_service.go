package interfaces

// MailerService sends notification email to site owners and the admin
type MailerService interface {
	// SendEmail sends a plain text message. An empty to address routes the
	// message to the admin; the admin is copied on every message either way.
	// replyTo is optional.
	SendEmail(replyTo, to, subject, body string) error

	// IsConfigured reports whether an SMTP host has been set
	IsConfigured() bool
}
