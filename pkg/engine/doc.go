// Package engine is the entry point for hosts embedding compass.
//
// An Engine owns one policy per domain, built lazily from the config
// registry, and an experiment coordinator. Requests for a domain with a
// registered experiment go through the coordinator; other domains are
// served directly by their policy. Learned state can be exported to and
// restored from a snapshot backend.
package engine
