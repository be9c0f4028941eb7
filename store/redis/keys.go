package redis

import "github.com/darkroomhq/darkroom/job"

// Redis key naming conventions for darkroom data.
// All keys are prefixed with "darkroom:" to avoid collisions.

const keyPrefix = "darkroom:"

// ── Job keys ──

// jobKey returns the key for a job record: darkroom:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// pendingKey returns the Sorted Set key holding due pending jobs for a
// priority band, scored by enqueue time: darkroom:pending:{priority}
func pendingKey(p job.Priority) string { return keyPrefix + "pending:" + p.String() }

// delayedKey is the Sorted Set holding pending jobs whose RunAt is in
// the future, scored by RunAt.
const delayedKey = keyPrefix + "delayed"

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Schedule keys ──

// scheduleKey returns the key for a schedule record: darkroom:schedule:{id}
func scheduleKey(id string) string { return keyPrefix + "schedule:" + id }

// scheduleIDsKey is the Set tracking all schedule IDs for enumeration.
const scheduleIDsKey = keyPrefix + "schedule_ids"

// scheduleNamesKey maps schedule names to IDs for duplicate detection.
const scheduleNamesKey = keyPrefix + "schedule_names"

// claimQueues is the claim scan order: highest priority first.
var claimQueues = []job.Priority{job.PriorityHigh, job.PriorityMedium, job.PriorityLow}
