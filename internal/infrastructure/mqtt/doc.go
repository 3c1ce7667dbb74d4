// Package mqtt publishes tempsys messages to an MQTT broker.
//
// The service never subscribes. Everything lives under tempsys/{site}/:
// a retained system/status topic doubling as the LWT, and mail/outbox,
// which an external relay drains to send verification email.
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.PublishContext(ctx, client.Topics().MailOutbox(), payload, 1, false)
//
// Outbox payloads contain verification links. Use TLS and restrict the
// topic with a broker ACL.
package mqtt
