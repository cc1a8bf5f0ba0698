// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package taskqueue

import "github.com/redis/go-redis/v9"

// Each state transition runs as one script so the idempotency guard and the
// pending/leased bookkeeping never diverge.

// KEYS: active, task, pending. ARGV: id, session, created_ms.
var enqueueScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  return 0
end
redis.call('HSET', KEYS[2], 'session', ARGV[2], 'created_at', ARGV[3], 'attempts', 0)
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

// KEYS: pending, leased. ARGV: task prefix, owner, expiry_ms.
var leaseScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
local tk = ARGV[1] .. id
redis.call('ZADD', KEYS[2], ARGV[3], id)
local attempts = redis.call('HINCRBY', tk, 'attempts', 1)
redis.call('HSET', tk, 'lease_owner', ARGV[2], 'lease_expiry', ARGV[3])
return {id, redis.call('HGET', tk, 'session'), redis.call('HGET', tk, 'created_at'), attempts}
`)

// KEYS: leased, task. ARGV: id, owner, now_ms, expiry_ms.
var extendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[2], 'lease_owner') ~= ARGV[2] then
  return 0
end
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or tonumber(score) <= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
redis.call('HSET', KEYS[2], 'lease_expiry', ARGV[4])
return 1
`)

// KEYS: leased, task. ARGV: id, owner, active prefix.
var completeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[2], 'lease_owner') ~= ARGV[2] then
  return 0
end
local ak = ARGV[3] .. redis.call('HGET', KEYS[2], 'session')
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
if redis.call('GET', ak) == ARGV[1] then
  redis.call('DEL', ak)
end
return 1
`)

// KEYS: leased, pending, dead. ARGV: task prefix, now_ms, max_attempts,
// active prefix, dead retention seconds.
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local max = tonumber(ARGV[3])
local requeued, dead = 0, 0
for i = #ids, 1, -1 do
  local id = ids[i]
  local tk = ARGV[1] .. id
  redis.call('ZREM', KEYS[1], id)
  redis.call('HDEL', tk, 'lease_owner', 'lease_expiry')
  local attempts = tonumber(redis.call('HGET', tk, 'attempts') or '0')
  if max > 0 and attempts >= max then
    local sess = redis.call('HGET', tk, 'session')
    if sess then
      local ak = ARGV[4] .. sess
      if redis.call('GET', ak) == id then
        redis.call('DEL', ak)
      end
    end
    redis.call('EXPIRE', tk, ARGV[5])
    redis.call('RPUSH', KEYS[3], id)
    redis.call('LTRIM', KEYS[3], -1000, -1)
    dead = dead + 1
  else
    redis.call('LPUSH', KEYS[2], id)
    requeued = requeued + 1
  end
end
return {requeued, dead}
`)
