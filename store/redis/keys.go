package redis

// Key layout. Everything lives under "socialq:" to avoid collisions with
// the cache keys sharing the same Redis.
const keyPrefix = "socialq:"

// jobKey returns the Hash key for a job: socialq:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// queueKey returns the Sorted Set of due jobs for a queue, scored by run-at
// in unix milliseconds: socialq:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// dlqKey returns the Hash key for a DLQ entry: socialq:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Sorted Set of DLQ entry IDs scored by failed-at ms.
const dlqIDsKey = keyPrefix + "dlq_ids"
