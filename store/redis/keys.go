package redis

// Redis key naming for deadletter data. All keys are prefixed with
// "deadletter:" to avoid collisions with the host application.

const keyPrefix = "deadletter:"

// entryKey returns the Hash key for one entry: deadletter:entry:{id}
func entryKey(id string) string { return keyPrefix + "entry:" + id }

// entryIDsKey is the Set tracking all entry IDs for enumeration.
const entryIDsKey = keyPrefix + "entry_ids"

// dedupKey is the Hash mapping idempotency key → entry ID. It plays the
// role of the file backend's index log; unlike that log it is pruned on
// hard delete, since Redis hash fields are cheap to remove.
const dedupKey = keyPrefix + "dedup"
