// Package ingest bridges device measurements from an MQTT broker into the
// reading store. Devices publish CBOR or JSON payloads on a per-device
// topic; the last topic level names the device.
package ingest
