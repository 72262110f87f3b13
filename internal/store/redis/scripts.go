package redis

import "github.com/redis/go-redis/v9"

const saveResultConflict = "CONFLICT"

var (
	// saveRecordScript atomically writes a record hash and its indexes,
	// guarded by a compare-and-set on modified_at.
	saveRecordScript = redis.NewScript(`
local rec_key = KEYS[1]      -- kastlog:rec:{recordID}
local idx_key = KEYS[2]      -- kastlog:idx:{sessionID}
local records_set = KEYS[3]  -- kastlog:records

local guard = ARGV[1]        -- expected modified_at ('' = unguarded)
local record_id = ARGV[2]

-- Compare-and-set: refuse to clobber a concurrent update
if guard ~= '' then
  local current = redis.call('HGET', rec_key, 'modified_at')
  if current and current ~= guard then
    return 'CONFLICT'
  end
end

redis.call('HSET', rec_key,
  'record_id', record_id,
  'schema_version', ARGV[3],
  'session_id', ARGV[4],
  'date', ARGV[5],
  'target', ARGV[6],
  'total_kubbs', ARGV[7],
  'total_batons', ARGV[8],
  'start_time', ARGV[9],
  'end_time', ARGV[10],
  'is_complete', ARGV[11],
  'created_at', ARGV[12],
  'modified_at', ARGV[13],
  'rounds', ARGV[14]
)

redis.call('SADD', idx_key, record_id)
redis.call('SADD', records_set, record_id)

return 'OK'
`)

	// deleteRecordScript atomically removes a record and its index entries.
	deleteRecordScript = redis.NewScript(`
local rec_key = KEYS[1]      -- kastlog:rec:{recordID}
local idx_key = KEYS[2]      -- kastlog:idx:{sessionID}
local records_set = KEYS[3]  -- kastlog:records

local record_id = ARGV[1]

redis.call('DEL', rec_key)
redis.call('SREM', idx_key, record_id)
redis.call('SREM', records_set, record_id)

return 'OK'
`)
)
