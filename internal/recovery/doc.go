// Package recovery rebuilds the accounting state at startup.
//
// Durability is delegated entirely to the broker's retained messages: there
// is no local state file. After the MQTT connection is up and before the
// first telegram may be processed, the reconciler subscribes to the
// per-channel counter topics, the shared date topic and the discovery
// metadata tree, passively collects retained messages for a fixed window,
// and merges what it finds into the shared state.
//
// Channel identity is the hard part: counter topics may be addressed by
// numeric index or by a human-assigned name, inconsistently across runs.
// Numeric-topic values are merged first; names recovered from discovery
// metadata then map name-addressed values onto their channels, taking the
// per-field maximum to guard against stale duplicates. Channels whose total
// is still zero afterwards fall back to a single read-only query of the Home
// Assistant states API, biased toward false negatives: an entity is only
// accepted when its id references the channel and a meter-related keyword,
// and its value survives locale-tolerant number normalization.
package recovery
