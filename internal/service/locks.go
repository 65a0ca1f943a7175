package service

import (
	"slices"
	"sync"
)

// keyedMutex сериализует операции по ключам сущностей, не блокируя несвязанные ключи.
// Несколько ключей захватываются в отсортированном порядке.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock захватывает все ключи и возвращает функцию освобождения.
func (k *keyedMutex) Lock(keys ...string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		l := k.acquire(key)
		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		k.release(keys)
	}
}

func (k *keyedMutex) acquire(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyedMutex) release(keys []string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, key := range keys {
		if key == "" {
			continue
		}
		l := k.locks[key]
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}

func orderKey(id string) string   { return entityKey("order", id) }
func userKey(id string) string    { return entityKey("user", id) }
func partnerKey(id string) string { return entityKey("partner", id) }

func entityKey(kind, id string) string {
	if id == "" {
		return ""
	}
	return kind + ":" + id
}
