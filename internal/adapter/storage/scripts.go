package storage

// admissionScriptSource checks membership, then stock, and on success
// decrements stock, records the buyer and appends the order to the stream.
//
// KEYS[1] stock counter, KEYS[2] buyer set, KEYS[3] order stream
// ARGV[1] order id, ARGV[2] user id, ARGV[3] item id
// Returns 0 accepted, 1 out of stock, 2 already purchased.
const admissionScriptSource = `
local stockKey = KEYS[1]
local buyersKey = KEYS[2]
local streamKey = KEYS[3]

local orderId = ARGV[1]
local userId = ARGV[2]
local itemId = ARGV[3]

if redis.call('sismember', buyersKey, userId) == 1 then
	return 2
end

local stock = tonumber(redis.call('get', stockKey))
if not stock or stock <= 0 then
	return 1
end

redis.call('decr', stockKey)
redis.call('sadd', buyersKey, userId)
redis.call('xadd', streamKey, '*', 'userId', userId, 'itemId', itemId, 'id', orderId)
return 0
`

// releaseLockScriptSource deletes KEYS[1] only when it still holds ARGV[1].
const releaseLockScriptSource = `
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`

const (
	stockKeyPrefix  = "seckill:stock:"
	buyersKeyPrefix = "seckill:order:"
)

// StockKey is the cache-side stock counter for an item.
func StockKey(itemID string) string {
	return stockKeyPrefix + itemID
}

// BuyersKey is the set of users admitted for an item.
func BuyersKey(itemID string) string {
	return buyersKeyPrefix + itemID
}
