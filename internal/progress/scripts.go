package progress

import "github.com/redis/go-redis/v9"

// KEYS: creator
// ARGV: new status, error, now_ms, batch key prefix, required previous status ("" = any)
// Returns {0} when the creator is unknown, {1, batch_id, previous, flipped, applied}.
// Moving one unit between the two creator buckets and the completion check run in
// the same script, so the batch flips to completed exactly once.
var creatorStatusScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end

local batchID = redis.call("HGET", KEYS[1], "batch_id")
local batchKey = ARGV[4] .. batchID
local prev = redis.call("HGET", KEYS[1], "status") or "pending"
local new = ARGV[1]

if ARGV[5] ~= "" and prev ~= ARGV[5] then
  return {1, batchID, prev, 0, 0}
end

redis.call("HSET", KEYS[1], "status", new, "updated_at", ARGV[3])
if ARGV[2] ~= "" then
  redis.call("HSET", KEYS[1], "error", ARGV[2])
elseif new ~= "failed" then
  redis.call("HDEL", KEYS[1], "error")
end

if prev == new or redis.call("EXISTS", batchKey) == 0 then
  return {1, batchID, prev, 0, 1}
end

redis.call("HINCRBY", batchKey, prev .. "_creators", -1)
redis.call("HINCRBY", batchKey, new .. "_creators", 1)
redis.call("HSET", batchKey, "updated_at", ARGV[3])

local flipped = 0
local status = redis.call("HGET", batchKey, "status")
if status ~= "completed" and status ~= "failed" then
  local total = tonumber(redis.call("HGET", batchKey, "total_creators") or "0")
  local done = tonumber(redis.call("HGET", batchKey, "completed_creators") or "0")
    + tonumber(redis.call("HGET", batchKey, "failed_creators") or "0")
  if done >= total then
    redis.call("HSET", batchKey, "status", "completed", "completed_at", ARGV[3])
    flipped = 1
  end
end
return {1, batchID, prev, flipped, 1}
`)

// KEYS: creator
// ARGV: platform, status, error, now_ms
// Returns false when the creator is unknown, {batch_id, applied}.
// A terminal platform never goes back to pending or processing.
var platformStatusScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end

local batchID = redis.call("HGET", KEYS[1], "batch_id")
local field = "platform:" .. ARGV[1] .. ":"
local status = ARGV[2]
local current = redis.call("HGET", KEYS[1], field .. "status")
if (current == "completed" or current == "failed") and status ~= "completed" and status ~= "failed" then
  return {batchID, 0}
end

redis.call("HSET", KEYS[1], field .. "status", status, "updated_at", ARGV[4])

if status == "processing" and redis.call("HEXISTS", KEYS[1], field .. "started_at") == 0 then
  redis.call("HSET", KEYS[1], field .. "started_at", ARGV[4])
end
if status == "completed" or status == "failed" then
  redis.call("HSET", KEYS[1], field .. "completed_at", ARGV[4])
else
  redis.call("HDEL", KEYS[1], field .. "completed_at")
end
if ARGV[3] ~= "" then
  redis.call("HSET", KEYS[1], field .. "error", ARGV[3])
elseif status ~= "failed" then
  redis.call("HDEL", KEYS[1], field .. "error")
end
return {batchID, 1}
`)

// KEYS: creator
// ARGV: batch key prefix, total delta, completed delta, failed delta, now_ms
// Returns the batch id, or false when the creator is unknown.
var videoProgressScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end

local batchID = redis.call("HGET", KEYS[1], "batch_id")
local batchKey = ARGV[1] .. batchID

redis.call("HINCRBY", KEYS[1], "videos_total", ARGV[2])
redis.call("HINCRBY", KEYS[1], "videos_completed", ARGV[3])
redis.call("HINCRBY", KEYS[1], "videos_failed", ARGV[4])
redis.call("HSET", KEYS[1], "updated_at", ARGV[5])

if redis.call("EXISTS", batchKey) == 1 then
  redis.call("HINCRBY", batchKey, "total_videos", ARGV[2])
  redis.call("HINCRBY", batchKey, "completed_videos", ARGV[3])
  redis.call("HINCRBY", batchKey, "failed_videos", ARGV[4])
  redis.call("HSET", batchKey, "updated_at", ARGV[5])
end
return batchID
`)

// KEYS: creator, media
// ARGV: batch key prefix, now_ms, member...
// Returns false when the creator is unknown, {batch_id, added}.
// Only members new to the set raise the totals, so admitting the same media twice is a no-op.
var mediaAddScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end

local batchID = redis.call("HGET", KEYS[1], "batch_id")
local added = 0
for i = 3, #ARGV do
  added = added + redis.call("SADD", KEYS[2], ARGV[i])
end
if added == 0 then
  return {batchID, 0}
end

redis.call("HINCRBY", KEYS[1], "videos_total", added)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
local batchKey = ARGV[1] .. batchID
if redis.call("EXISTS", batchKey) == 1 then
  redis.call("HINCRBY", batchKey, "total_videos", added)
  redis.call("HSET", batchKey, "updated_at", ARGV[2])
end
return {batchID, added}
`)

// KEYS: creator, done
// ARGV: batch key prefix, now_ms, member, outcome (completed|failed)
// Returns false when the creator is unknown, {batch_id, counted}.
var mediaFinishScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end

local batchID = redis.call("HGET", KEYS[1], "batch_id")
if redis.call("SADD", KEYS[2], ARGV[3]) == 0 then
  return {batchID, 0}
end

redis.call("HINCRBY", KEYS[1], "videos_" .. ARGV[4], 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
local batchKey = ARGV[1] .. batchID
if redis.call("EXISTS", batchKey) == 1 then
  redis.call("HINCRBY", batchKey, ARGV[4] .. "_videos", 1)
  redis.call("HSET", batchKey, "updated_at", ARGV[2])
end
return {batchID, 1}
`)

// KEYS: batch
// ARGV: status, error, now_ms
// Returns 0 when the batch is unknown.
var batchOverrideScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "updated_at", ARGV[3], "completed_at", ARGV[3])
if ARGV[2] ~= "" then
  redis.call("HSET", KEYS[1], "error", ARGV[2])
end
return 1
`)
