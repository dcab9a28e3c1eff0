/*
Package event carries configuration change notifications between components.

Publishers are the config store and the managers built on it. Subscribers are
anything that must react to a change without polling the store: a running
agent reloading its extensions, a UI refreshing a settings page, a test
asserting that a write happened.

# Architecture

In-process subscribers are called directly so Data keeps its Go type. Every
event is also marshalled to JSON and published on a watermill gochannel topic
named after the event type, for consumers that prefer message channels.

A nil *Bus is valid and drops events, so components built without a bus need
no special casing.

# Event Types

Config Events:
  - config.set: Plain key written
  - config.deleted: Plain key removed
  - config.file_changed: Key changed by an edit outside this process

Secret Events:
  - secret.set: Secret written (the value is never included)
  - secret.deleted: Secret removed
  - secret.storage_degraded: Keyring unavailable, encrypted file in use

Extension Events:
  - extension.added, extension.updated, extension.removed
  - extension.toggled: Enabled flag changed
  - extension.warning: Enabled with required settings missing

Permission Events:
  - permission.changed: Level stored for an extension or tool
  - permission.removed: All records of an extension removed

Experiment Events:
  - experiment.toggled

# Basic Usage

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.Subscribe(event.ExtensionToggled, func(e event.Event) {
		data := e.Data.(event.ExtensionData)
		log.Info().Str("extension", data.Name).Bool("enabled", data.Enabled).Msg("toggled")
	})
	defer unsubscribe()

Consuming through watermill:

	msgs, err := bus.Messages(ctx, event.ConfigSet)
	for msg := range msgs {
		// msg.Payload is the JSON encoded Event
		msg.Ack()
	}

# Subscriber Safety

PublishSync calls subscribers in the publisher's goroutine, which may hold the
config file lock. Subscribers must return quickly and must not write to the
store from inside the callback.
*/
package event
