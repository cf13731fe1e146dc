// Package mqtt connects the overlay server to an MQTT broker.
//
// The broker is an optional side channel. The server mirrors every snapshot
// to retained topics so tools that cannot hold a WebSocket (stream deck
// plugins, home automation, recorders) can read the current state, and it
// accepts commands on a single command topic.
//
// Topics, with the default prefix "overlay":
//
//	overlay/status             online/offline, retained, also the LWT
//	overlay/snapshot           full snapshot JSON, retained
//	overlay/scenes/{id}/live   one scene's visibility and live layers, retained
//	overlay/command            command JSON in, same format as WebSocket
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(client.Topics().Snapshot(), payload)
//
// Security: enable TLS (broker.tls) and broker credentials outside a
// single studio machine.
package mqtt
