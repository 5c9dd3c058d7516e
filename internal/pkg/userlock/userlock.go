package userlock

import (
	"sync"
)

// Locker 按用户 ID 串行化账本写操作。
// MySQL 行锁负责跨进程互斥；进程内再按用户加锁，
// 保证测试环境（SQLite 不支持 FOR UPDATE）下同样没有双花。
// 锁对象按用户懒创建后常驻进程：删除可能正被等待的 mutex
// 不安全，映射大小以出现过的活跃用户数为上界。
type Locker struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New() *Locker {
	return &Locker{
		locks: make(map[int64]*sync.Mutex),
	}
}

// Lock 锁定指定用户，返回解锁函数
func (l *Locker) Lock(userID int64) func() {
	l.mu.Lock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
