package queue

import "github.com/redis/go-redis/v9"

// Every state change of a job is a single script so that concurrent workers and
// producers never observe a job in two sets at once. Computed numbers are passed
// through fmtint before reaching redis.call to keep them in integer form.
const luaHelpers = `
local function fmtint(n)
  return string.format("%d", n)
end

local function pushWaiting(jobKey, waitKey, seqKey, id)
  local prio = tonumber(redis.call("HGET", jobKey, "priority") or "0")
  local seq = redis.call("INCR", seqKey)
  redis.call("ZADD", waitKey, fmtint(prio * 4294967296 + seq), id)
  redis.call("HSET", jobKey, "state", "waiting")
end
`

// KEYS: job, wait, delayed, seq
// ARGV: id, kind, data, max_attempts, priority, delay_ms, now_ms
// Returns 1 when added, 0 when a job with the same id already exists.
var enqueueScript = redis.NewScript(luaHelpers + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end

local delay = tonumber(ARGV[6])
local now = tonumber(ARGV[7])

redis.call("HSET", KEYS[1],
  "id", ARGV[1],
  "kind", ARGV[2],
  "data", ARGV[3],
  "state", "delayed",
  "attempts_made", "0",
  "max_attempts", ARGV[4],
  "priority", ARGV[5],
  "delay_ms", ARGV[6],
  "enqueued_at", ARGV[7])

if delay > 0 then
  redis.call("ZADD", KEYS[3], fmtint(now + delay), ARGV[1])
else
  pushWaiting(KEYS[1], KEYS[2], KEYS[4], ARGV[1])
end
return 1
`)

// KEYS: wait, delayed, active, meta, limiter, seq
// ARGV: job key prefix, now_ms, lease_ms, rate_max, rate_window_ms, lock token
// Returns {0} when nothing is runnable, {-1, retry_after_ms} when rate limited,
// {1, HGETALL(job)} when a job was moved to active.
var claimScript = redis.NewScript(luaHelpers + `
local prefix = ARGV[1]
local now = tonumber(ARGV[2])

local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[2], "LIMIT", 0, 100)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[2], id)
  if redis.call("EXISTS", prefix .. id) == 1 then
    pushWaiting(prefix .. id, KEYS[1], KEYS[6], id)
  end
end

if redis.call("HGET", KEYS[4], "paused") == "1" then
  return {0}
end

local rateMax = tonumber(ARGV[4])
if rateMax > 0 then
  local used = tonumber(redis.call("GET", KEYS[5]) or "0")
  if used >= rateMax then
    local ttl = redis.call("PTTL", KEYS[5])
    if ttl < 0 then
      redis.call("PEXPIRE", KEYS[5], ARGV[5])
      ttl = tonumber(ARGV[5])
    end
    return {-1, ttl}
  end
end

while true do
  local popped = redis.call("ZPOPMIN", KEYS[1])
  if #popped == 0 then
    return {0}
  end
  local id = popped[1]
  local jobKey = prefix .. id
  if redis.call("EXISTS", jobKey) == 1 then
    if rateMax > 0 then
      if redis.call("INCR", KEYS[5]) == 1 then
        redis.call("PEXPIRE", KEYS[5], ARGV[5])
      end
    end
    redis.call("ZADD", KEYS[3], fmtint(now + tonumber(ARGV[3])), id)
    redis.call("HINCRBY", jobKey, "attempts_made", 1)
    redis.call("HSET", jobKey, "state", "active", "processed_at", ARGV[2], "lock", ARGV[6])
    return {1, redis.call("HGETALL", jobKey)}
  end
end
`)

// KEYS: job, active
// ARGV: id, token, lease_expiry_ms
var extendLeaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lock") ~= ARGV[2] then
  return 0
end
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// KEYS: job
// ARGV: token, progress json
var progressScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "lock") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], "progress", ARGV[2])
return 1
`)

// KEYS: job, active, finished set (completed or failed)
// ARGV: id, token, state, now_ms, retention_ms, result json, failed reason
// Retention -1 keeps the record, 0 removes it at once.
var finishScript = redis.NewScript(luaHelpers + `
if redis.call("HGET", KEYS[1], "lock") ~= ARGV[2] then
  return -1
end
redis.call("ZREM", KEYS[2], ARGV[1])

local keep = tonumber(ARGV[5])
if keep == 0 then
  redis.call("DEL", KEYS[1])
  return 1
end

redis.call("HDEL", KEYS[1], "lock")
redis.call("HSET", KEYS[1],
  "state", ARGV[3],
  "finished_at", ARGV[4],
  "result", ARGV[6],
  "failed_reason", ARGV[7])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])

if keep > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
  redis.call("ZREMRANGEBYSCORE", KEYS[3], "-inf", "(" .. fmtint(tonumber(ARGV[4]) - keep))
end
return 1
`)

// KEYS: job, active, delayed
// ARGV: id, token, now_ms, delay_ms, failed reason
var retryScript = redis.NewScript(luaHelpers + `
if redis.call("HGET", KEYS[1], "lock") ~= ARGV[2] then
  return -1
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[1], "lock", "progress")
redis.call("HSET", KEYS[1], "state", "delayed", "failed_reason", ARGV[5])
redis.call("ZADD", KEYS[3], fmtint(tonumber(ARGV[3]) + tonumber(ARGV[4])), ARGV[1])
return 1
`)

// KEYS: job, active, wait, seq
// ARGV: id, token, reason
// Gives back the attempt taken at claim and queues the job again.
var releaseScript = redis.NewScript(luaHelpers + `
if redis.call("HGET", KEYS[1], "lock") ~= ARGV[2] then
  return -1
end
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("HDEL", KEYS[1], "lock", "progress", "processed_at")
local made = tonumber(redis.call("HGET", KEYS[1], "attempts_made") or "0")
if made > 0 then
  redis.call("HSET", KEYS[1], "attempts_made", fmtint(made - 1))
end
redis.call("HSET", KEYS[1], "failed_reason", ARGV[3])
pushWaiting(KEYS[1], KEYS[3], KEYS[4], ARGV[1])
return 1
`)

// KEYS: active, wait, failed, seq
// ARGV: job key prefix, now_ms, failed retention ms
// Returns {requeued ids, failed ids}.
var recoverStalledScript = redis.NewScript(luaHelpers + `
local prefix = ARGV[1]
local keep = tonumber(ARGV[3])
local stalled = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2], "LIMIT", 0, 100)
local requeued = {}
local failed = {}

for _, id in ipairs(stalled) do
  redis.call("ZREM", KEYS[1], id)
  local jobKey = prefix .. id
  if redis.call("EXISTS", jobKey) == 1 then
    redis.call("HDEL", jobKey, "lock", "progress")
    local made = tonumber(redis.call("HGET", jobKey, "attempts_made") or "0")
    local max = tonumber(redis.call("HGET", jobKey, "max_attempts") or "1")
    if made >= max then
      redis.call("HSET", jobKey,
        "state", "failed",
        "failed_reason", "job stalled more than allowable limit",
        "finished_at", ARGV[2])
      redis.call("ZADD", KEYS[3], ARGV[2], id)
      if keep > 0 then
        redis.call("PEXPIRE", jobKey, ARGV[3])
      end
      table.insert(failed, id)
    else
      pushWaiting(jobKey, KEYS[2], KEYS[4], id)
      table.insert(requeued, id)
    end
  end
end
return {requeued, failed}
`)

// KEYS: wait, delayed
// ARGV: job key prefix
var drainScript = redis.NewScript(`
local n = 0
for _, key in ipairs({KEYS[1], KEYS[2]}) do
  local ids = redis.call("ZRANGE", key, 0, -1)
  for _, id in ipairs(ids) do
    redis.call("DEL", ARGV[1] .. id)
    n = n + 1
  end
  redis.call("DEL", key)
end
return n
`)
