package mqtt

import "fmt"

// TopicRoot is the first level of every tempsys topic.
const TopicRoot = "tempsys"

// Topics builds the topics of one site.
//
//	topics := mqtt.Topics{Site: "site-001"}
//	topics.MailOutbox() // "tempsys/site-001/mail/outbox"
type Topics struct {
	Site string
}

func (t Topics) prefix() string {
	return fmt.Sprintf("%s/%s", TopicRoot, t.Site)
}

// SystemStatus is the retained online/offline status topic, also used for
// the LWT.
//
// Example: tempsys/site-001/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// MailOutbox carries outbound mail requests for the relay.
//
// Example: tempsys/site-001/mail/outbox
func (t Topics) MailOutbox() string {
	return t.prefix() + "/mail/outbox"
}

// All matches every topic of the site.
func (t Topics) All() string {
	return t.prefix() + "/#"
}
