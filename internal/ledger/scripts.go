package ledger

import "github.com/redis/go-redis/v9"

// Script replies are flat arrays {applied, code, available, reserved, total}.
// Counters are -1 when the stock hash does not exist. All state transitions
// happen inside a single script so concurrent callers serialize on the Redis
// command loop, never on application locks.
//
// KEYS[1] = stock hash   {total, available, reserved}
// KEYS[2] = reservation hash {status, resource, qty, expires_at, created_at}
// KEYS[3] = expiry index (sorted set scored by expiry millis)

var reserveScript = redis.NewScript(`
local qty = tonumber(ARGV[1])
if not qty or qty <= 0 then
  return {0, 'INVALID_QUANTITY', -1, -1, -1}
end

local t = tonumber(redis.call('HGET', KEYS[1], 'total') or '-1')
local a = tonumber(redis.call('HGET', KEYS[1], 'available') or '-1')
local r = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '-1')

local status = redis.call('HGET', KEYS[2], 'status')
if status then
  if status == 'RESERVED' then
    return {0, 'ALREADY_RESERVED', a, r, t}
  elseif status == 'CONFIRMED' then
    return {0, 'ALREADY_CONFIRMED', a, r, t}
  end
  return {0, 'ALREADY_CANCELLED', a, r, t}
end

if a < qty then
  return {0, 'INSUFFICIENT_STOCK', a, r, t}
end

redis.call('HINCRBY', KEYS[1], 'available', -qty)
redis.call('HINCRBY', KEYS[1], 'reserved', qty)

local ttl = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
redis.call('HSET', KEYS[2],
  'status', 'RESERVED',
  'resource', ARGV[5],
  'qty', qty,
  'expires_at', now + ttl,
  'created_at', now)
redis.call('PEXPIRE', KEYS[2], ttl * 2)
redis.call('ZADD', KEYS[3], now + ttl, ARGV[4])

return {1, 'SUCCESS', a - qty, r + qty, t}
`)

var confirmScript = redis.NewScript(`
local qty = tonumber(ARGV[1])
if not qty or qty <= 0 then
  return {0, 'INVALID_QUANTITY', -1, -1, -1}
end

local t = tonumber(redis.call('HGET', KEYS[1], 'total') or '-1')
local a = tonumber(redis.call('HGET', KEYS[1], 'available') or '-1')
local r = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '-1')

local status = redis.call('HGET', KEYS[2], 'status')
if not status then
  return {0, 'RESERVATION_NOT_FOUND', a, r, t}
end
if status == 'CONFIRMED' then
  return {0, 'ALREADY_CONFIRMED', a, r, t}
end
if status == 'CANCELLED' or status == 'EXPIRED' then
  return {0, 'ALREADY_CANCELLED', a, r, t}
end
if r < qty then
  return {0, 'INSUFFICIENT_RESERVED', a, r, t}
end

redis.call('HINCRBY', KEYS[1], 'reserved', -qty)
redis.call('HINCRBY', KEYS[1], 'total', -qty)
redis.call('HSET', KEYS[2], 'status', 'CONFIRMED')
redis.call('PEXPIRE', KEYS[2], tonumber(ARGV[3]))
redis.call('ZREM', KEYS[3], ARGV[2])

return {1, 'SUCCESS', a, r - qty, t - qty}
`)

var cancelScript = redis.NewScript(`
local qty = tonumber(ARGV[1])
if not qty or qty <= 0 then
  return {0, 'INVALID_QUANTITY', -1, -1, -1}
end

local t = tonumber(redis.call('HGET', KEYS[1], 'total') or '-1')
local a = tonumber(redis.call('HGET', KEYS[1], 'available') or '-1')
local r = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '-1')

local status = redis.call('HGET', KEYS[2], 'status')
if not status then
  return {0, 'RESERVATION_NOT_FOUND', a, r, t}
end
if status == 'CONFIRMED' then
  return {0, 'ALREADY_CONFIRMED', a, r, t}
end
if status == 'CANCELLED' or status == 'EXPIRED' then
  return {0, 'ALREADY_CANCELLED', a, r, t}
end
if r < qty then
  return {0, 'INSUFFICIENT_RESERVED', a, r, t}
end

redis.call('HINCRBY', KEYS[1], 'available', qty)
redis.call('HINCRBY', KEYS[1], 'reserved', -qty)
redis.call('HSET', KEYS[2], 'status', 'CANCELLED')
redis.call('PEXPIRE', KEYS[2], tonumber(ARGV[3]))
redis.call('ZREM', KEYS[3], ARGV[2])

return {1, 'SUCCESS', a + qty, r - qty, t}
`)

// expireScript releases a single timed-out reservation found via the expiry
// index. A missing reservation hash (Redis TTL fired first) still restores
// the counters; the index member is authoritative for the quantity.
var expireScript = redis.NewScript(`
local qty = tonumber(ARGV[2])
local status = redis.call('HGET', KEYS[2], 'status')

if status == 'CONFIRMED' or status == 'CANCELLED' or status == 'EXPIRED' then
  redis.call('ZREM', KEYS[3], ARGV[1])
  return 0
end

redis.call('HINCRBY', KEYS[1], 'available', qty)
redis.call('HINCRBY', KEYS[1], 'reserved', -qty)
if status then
  redis.call('HSET', KEYS[2], 'status', 'EXPIRED')
end
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)
