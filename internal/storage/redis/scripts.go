package redis

const (
	// saveStateScript atomically replaces the state snapshot iff the stored
	// version still matches the version the caller loaded. The caller
	// marshals the payload with the bumped version already inside; the
	// script only validates and swaps.
	saveStateScript = `
local version_key = KEYS[1]   -- intentgate:state:version
local state_key = KEYS[2]     -- intentgate:state

local expected = tonumber(ARGV[1])
local payload = ARGV[2]

local current = tonumber(redis.call('GET', version_key) or '0')
if current ~= expected then
  return -1
end

local next_version = current + 1
redis.call('SET', version_key, next_version)
redis.call('SET', state_key, payload)

return next_version
`
)
