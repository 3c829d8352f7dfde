package infrastructure

const (
	createPendingScriptName = "order_create_pending"
	updateScriptName        = "order_update"
	promoteScriptName       = "order_promote"
	deletePendingScriptName = "order_delete_pending"
)

// 所有脚本涉及的 key 共享 {order} 哈希标签，集群模式下落在同一个槽。
var orderScripts = map[string]string{
	createPendingScriptName: createPendingScript,
	updateScriptName:        updateScript,
	promoteScriptName:       promoteScript,
	deletePendingScriptName: deletePendingScript,
}

var createPendingScript = `
-- KEYS[1]: 待支付订单 hash
-- KEYS[2]: 已确认订单 hash
-- KEYS[3]: 订单版本 hash
-- KEYS[4]: 下单时间索引 zset
-- ARGV[1]: 订单 ID, ARGV[2]: 订单 JSON, ARGV[3]: 下单时间 (unix 秒), ARGV[4]: 初始版本

-- 1. ID 在两个集合中都必须不存在
if redis.call('hexists', KEYS[2], ARGV[1]) == 1 then
    return 0
end
if redis.call('hsetnx', KEYS[1], ARGV[1], ARGV[2]) == 0 then
    return 0
end

-- 2. 写入版本和时间索引
redis.call('hset', KEYS[3], ARGV[1], ARGV[4])
redis.call('zadd', KEYS[4], ARGV[3], ARGV[1])
return 1
`

var updateScript = `
-- KEYS[1]: 订单所在集合 hash
-- KEYS[2]: 订单版本 hash
-- ARGV[1]: 订单 ID, ARGV[2]: 期望版本, ARGV[3]: 新 JSON, ARGV[4]: 新版本

if redis.call('hexists', KEYS[1], ARGV[1]) == 0 then
    return -1 -- 订单不在该集合中
end
if redis.call('hget', KEYS[2], ARGV[1]) ~= ARGV[2] then
    return 0 -- 版本不一致，已被并发修改
end
redis.call('hset', KEYS[1], ARGV[1], ARGV[3])
redis.call('hset', KEYS[2], ARGV[1], ARGV[4])
return 1
`

var promoteScript = `
-- KEYS[1]: 待支付订单 hash
-- KEYS[2]: 已确认订单 hash
-- KEYS[3]: 订单版本 hash
-- ARGV[1]: 订单 ID, ARGV[2]: 期望版本, ARGV[3]: 新 JSON, ARGV[4]: 新版本

if redis.call('hexists', KEYS[1], ARGV[1]) == 0 then
    return -1
end
if redis.call('hget', KEYS[3], ARGV[1]) ~= ARGV[2] then
    return 0
end

-- 删除与写入在同一个脚本内，不存在两个集合都有或都没有的中间状态
redis.call('hdel', KEYS[1], ARGV[1])
redis.call('hset', KEYS[2], ARGV[1], ARGV[3])
redis.call('hset', KEYS[3], ARGV[1], ARGV[4])
return 1
`

var deletePendingScript = `
-- KEYS[1]: 待支付订单 hash
-- KEYS[2]: 订单版本 hash
-- KEYS[3]: 下单时间索引 zset
-- ARGV[1]: 订单 ID, ARGV[2]: 期望版本

if redis.call('hexists', KEYS[1], ARGV[1]) == 0 then
    return -1
end
if redis.call('hget', KEYS[2], ARGV[1]) ~= ARGV[2] then
    return 0
end
redis.call('hdel', KEYS[1], ARGV[1])
redis.call('hdel', KEYS[2], ARGV[1])
redis.call('zrem', KEYS[3], ARGV[1])
return 1
`
