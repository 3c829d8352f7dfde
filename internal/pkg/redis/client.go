// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"
)

// Nil 透传 go-redis 的空值错误，调用方无需直接依赖 go-redis。
const Nil = goredis.Nil

// Client 封装了 UniversalClient 以及按名字注册的 Lua 脚本。
// 单地址时是普通客户端，多地址时是集群客户端。
type Client struct {
	rdb     goredis.UniversalClient
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// Options 是创建客户端所需的连接参数。
type Options struct {
	Addrs    string // 逗号分隔
	Password string
	DB       int
}

// NewClient 创建客户端并立即 PING 一次，连接失败直接返回错误。
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	addrs := strings.Split(opts.Addrs, ",")
	for i := range addrs {
		addrs[i] = strings.TrimSpace(addrs[i])
	}
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    addrs,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", opts.Addrs, err)
	}
	return Wrap(rdb), nil
}

// Wrap 用已有的 go-redis 客户端构造 Client (测试中配合 miniredis 使用)。
func Wrap(rdb goredis.UniversalClient) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}
}

// GetClient 返回底层客户端，用于 pipeline 等原生操作。
func (c *Client) GetClient() goredis.UniversalClient {
	return c.rdb
}

// LoadScriptFromContent 注册脚本并预加载到 Redis。
func (c *Client) LoadScriptFromContent(name, content string) error {
	script := goredis.NewScript(content)
	if err := script.Load(context.Background(), c.rdb).Err(); err != nil {
		return fmt.Errorf("failed to load script %s: %w", name, err)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本，脚本缓存被清空时自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
