package counterstore

import "github.com/redis/go-redis/v9"

// ScriptResult is the raw {allowed, remaining-or-tokens, resetInSec} triple
// every script in spec.md §4.1 returns.
type ScriptResult struct {
	Allowed      bool
	Remaining    int64
	ResetInSec   int64
}

// tokenBucketScript implements spec.md §4.1's token-bucket script.
//
// KEYS[1] = state key
// ARGV[1] = capacity
// ARGV[2] = refillRate (tokens/sec)
// ARGV[3] = nowMs
// ARGV[4] = requested
// ARGV[5] = ttlSec
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttlSec = tonumber(ARGV[5])

local tokens
local lastRefillMs

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
if state[1] == false then
  tokens = capacity
  lastRefillMs = nowMs
else
  tokens = tonumber(state[1])
  lastRefillMs = tonumber(state[2])
  local elapsedMs = nowMs - lastRefillMs
  if elapsedMs < 0 then elapsedMs = 0 end
  tokens = math.min(capacity, tokens + refillRate * elapsedMs / 1000)
  lastRefillMs = nowMs
end

local allowed = 0
local resetInSec = 0

if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  if refillRate > 0 then
    resetInSec = math.ceil((requested - tokens) / refillRate)
  else
    resetInSec = ttlSec
  end
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', lastRefillMs)
redis.call('EXPIRE', key, ttlSec)

return {allowed, math.floor(tokens), resetInSec}
`)

// fixedWindowScript implements spec.md §4.1's fixed-window script.
//
// KEYS[1] = base key (subkey is computed here with the window id)
// ARGV[1] = maxRequests
// ARGV[2] = windowSec
// ARGV[3] = nowSec
// ARGV[4] = increment
var fixedWindowScript = redis.NewScript(`
local baseKey = KEYS[1]
local maxRequests = tonumber(ARGV[1])
local windowSec = tonumber(ARGV[2])
local nowSec = tonumber(ARGV[3])
local increment = tonumber(ARGV[4])

local windowId = math.floor(nowSec / windowSec)
local subkey = baseKey .. ':' .. windowId
local resetInSec = (windowId + 1) * windowSec - nowSec

local c = tonumber(redis.call('GET', subkey))
if c == nil then c = 0 end

local allowed = 0
local remaining = 0

if c + increment <= maxRequests then
  c = redis.call('INCRBY', subkey, increment)
  redis.call('EXPIRE', subkey, windowSec + 1)
  allowed = 1
  remaining = maxRequests - c
else
  remaining = 0
end

return {allowed, remaining, resetInSec}
`)

// slidingLogScript implements spec.md §4.1's sliding-log script.
//
// KEYS[1] = sorted-set key
// ARGV[1] = maxRequests
// ARGV[2] = windowMs
// ARGV[3] = nowMs
// ARGV[4] = increment
// ARGV[5] = ttlSec
// ARGV[6] = memberPrefix (caller-supplied uniqueness prefix — see DESIGN.md)
var slidingLogScript = redis.NewScript(`
local key = KEYS[1]
local maxRequests = tonumber(ARGV[1])
local windowMs = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])
local increment = tonumber(ARGV[4])
local ttlSec = tonumber(ARGV[5])
local memberPrefix = ARGV[6]

redis.call('ZREMRANGEBYSCORE', key, '-inf', nowMs - windowMs)

local c = redis.call('ZCARD', key)

local resetInSec = 0
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest and oldest[2] then
  local oldestScore = tonumber(oldest[2])
  resetInSec = math.ceil((oldestScore + windowMs - nowMs) / 1000)
  if resetInSec < 0 then resetInSec = 0 end
end

local allowed = 0
local remaining = 0

if c + increment <= maxRequests then
  for i = 1, increment do
    redis.call('ZADD', key, nowMs, memberPrefix .. ':' .. i)
  end
  allowed = 1
  remaining = maxRequests - c - increment
else
  remaining = 0
end

redis.call('EXPIRE', key, ttlSec)

return {allowed, remaining, resetInSec}
`)
