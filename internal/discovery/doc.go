// Package discovery builds Home Assistant MQTT discovery payloads.
//
// All channels hang off one logical device. Global entities cover the
// bridge itself (connectivity, error text, diagnostics); per-channel
// entities cover the three counters plus two config entities, a text
// entity for renaming the channel and a number entity for correcting
// its total. Payloads are published retained under
// <prefix>/<component>/<base>/<unique_id>/config; publishing an empty
// retained payload on the same topic removes the entity again, which is
// how ghost channels from earlier runs are cleaned up.
package discovery
