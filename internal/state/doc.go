// Package state provides the small filesystem-backed stores that sit
// beside the event logs: the replication cursor and the send meta log.
package state
