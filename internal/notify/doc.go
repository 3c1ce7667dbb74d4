// Package notify delivers outbound auth messages such as verification
// emails.
//
// Three transports implement auth.Notifier:
//
//   - LogNotifier writes the message to the log (development)
//   - SMTPNotifier relays through an SMTP server with STARTTLS and PLAIN auth
//   - MQTTNotifier publishes a JSON mail request to the site mail outbox
//     topic for an external relay
//
// FromConfig selects one from the email section of config.yaml.
package notify
