package notify

import "sync"

// Cache 口令缓存（以 CA 指纹为键）
// 失败的续期绝不自动使缓存失效，清除只能由操作员显式触发
type Cache struct {
	mu          sync.RWMutex
	passphrases map[string]string
}

// NewCache 创建口令缓存
func NewCache() *Cache {
	return &Cache{passphrases: make(map[string]string)}
}

// Get 按 CA 指纹查询缓存的口令
func (c *Cache) Get(caFingerprint string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	passphrase, ok := c.passphrases[caFingerprint]
	return passphrase, ok
}

// Put 缓存口令
func (c *Cache) Put(caFingerprint, passphrase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passphrases[caFingerprint] = passphrase
}

// Forget 显式清除某个 CA 的口令
func (c *Cache) Forget(caFingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.passphrases, caFingerprint)
}
