// Package mqttlan implements the local-area-network transport adapter over
// an MQTT broker.
//
// Devices on the LAN publish retained presence announcements and serve a
// request/response RPC surface on per-device topics. Session loss is
// detected from presence going offline or the broker connection dropping;
// either path fires the session's OnClose hook so the connection
// coordinator can schedule a reconnect.
package mqttlan
