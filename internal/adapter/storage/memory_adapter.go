package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/port"
)

// MemoryAdapter runs the pipeline's cache-side state inside one process. The
// admission gate executes the same Lua source as RedisAdapter, serialized by
// a mutex the way Redis serializes EVAL. It also serves as port.KVStore,
// port.Counter and port.Locker, and hands out MemoryStream queues.
type MemoryAdapter struct {
	mu      sync.Mutex // guards strings, sets, streams and the Lua state
	strings map[string]string
	sets    map[string]map[string]struct{}
	streams map[string]*MemoryStream
	stream  string

	state     *lua.LState
	admission *lua.FunctionProto

	kv      *cache.Cache
	locksMu sync.Mutex
}

func NewMemoryAdapter(stream string) (*MemoryAdapter, error) {
	proto, err := compileScript("admission.lua", admissionScriptSource)
	if err != nil {
		return nil, err
	}

	m := &MemoryAdapter{
		strings:   make(map[string]string),
		sets:      make(map[string]map[string]struct{}),
		streams:   make(map[string]*MemoryStream),
		stream:    stream,
		state:     lua.NewState(lua.Options{SkipOpenLibs: true}),
		admission: proto,
		kv:        cache.New(cache.NoExpiration, time.Minute),
	}

	// Only the base library is needed for tonumber.
	lua.OpenBase(m.state)
	redisTable := m.state.NewTable()
	m.state.SetField(redisTable, "call", m.state.NewFunction(m.call))
	m.state.SetGlobal("redis", redisTable)

	return m, nil
}

func compileScript(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return proto, nil
}

func (m *MemoryAdapter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Close()
}

func (m *MemoryAdapter) Admit(ctx context.Context, orderID int64, userID, itemID string) (domain.AdmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	keys := []string{StockKey(itemID), BuyersKey(itemID), m.stream}
	args := []string{strconv.FormatInt(orderID, 10), userID, itemID}

	m.mu.Lock()
	defer m.mu.Unlock()

	ret, err := m.eval(m.admission, keys, args)
	if err != nil {
		return 0, fmt.Errorf("run admission script: %w", err)
	}

	n, ok := ret.(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("admission script returned %s", ret.Type())
	}
	switch res := domain.AdmissionResult(n); res {
	case domain.Accepted, domain.OutOfStock, domain.AlreadyPurchased:
		return res, nil
	default:
		return 0, fmt.Errorf("admission script returned %d", int(n))
	}
}

func (m *MemoryAdapter) SetStock(ctx context.Context, itemID string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[StockKey(itemID)] = strconv.Itoa(stock)
	return nil
}

// Stock returns the cache-side stock counter, or false if it was never set.
func (m *MemoryAdapter) Stock(itemID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.strings[StockKey(itemID)]
	if !ok {
		return 0, false
	}
	n, _ := strconv.Atoi(raw)
	return n, true
}

// Buyers returns the number of users admitted for an item.
func (m *MemoryAdapter) Buyers(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets[BuyersKey(itemID)])
}

// Stream returns the queue behind a stream key, creating it if needed.
func (m *MemoryAdapter) Stream(name string) *MemoryStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamLocked(name)
}

func (m *MemoryAdapter) streamLocked(name string) *MemoryStream {
	s, ok := m.streams[name]
	if !ok {
		s = NewMemoryStream()
		m.streams[name] = s
	}
	return s
}

// eval must be called with m.mu held.
func (m *MemoryAdapter) eval(proto *lua.FunctionProto, keys, args []string) (lua.LValue, error) {
	L := m.state
	L.SetGlobal("KEYS", stringTable(L, keys))
	L.SetGlobal("ARGV", stringTable(L, args))

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

func stringTable(L *lua.LState, values []string) *lua.LTable {
	t := L.CreateTable(len(values), 0)
	for _, v := range values {
		t.Append(lua.LString(v))
	}
	return t
}

// call is the redis.call binding. It covers the commands the scripts use.
func (m *MemoryAdapter) call(L *lua.LState) int {
	cmd := strings.ToLower(L.CheckString(1))
	args := make([]string, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, L.CheckAny(i).String())
	}

	switch cmd {
	case "get":
		if v, ok := m.strings[args[0]]; ok {
			L.Push(lua.LString(v))
		} else {
			L.Push(lua.LFalse)
		}
	case "decr":
		n, err := strconv.ParseInt(m.strings[args[0]], 10, 64)
		if err != nil && m.strings[args[0]] != "" {
			L.RaiseError("ERR value is not an integer")
			return 0
		}
		n--
		m.strings[args[0]] = strconv.FormatInt(n, 10)
		L.Push(lua.LNumber(n))
	case "sismember":
		_, ok := m.sets[args[0]][args[1]]
		L.Push(boolNumber(ok))
	case "sadd":
		set, ok := m.sets[args[0]]
		if !ok {
			set = make(map[string]struct{})
			m.sets[args[0]] = set
		}
		added := 0
		for _, member := range args[1:] {
			if _, ok := set[member]; !ok {
				set[member] = struct{}{}
				added++
			}
		}
		L.Push(lua.LNumber(added))
	case "xadd":
		if len(args) < 4 || len(args)%2 != 0 {
			L.RaiseError("ERR wrong number of arguments for 'xadd' command")
			return 0
		}
		values := make(map[string]string, (len(args)-2)/2)
		for i := 2; i+1 < len(args); i += 2 {
			values[args[i]] = args[i+1]
		}
		L.Push(lua.LString(m.streamLocked(args[0]).append(values)))
	default:
		L.RaiseError("ERR unknown command '%s'", cmd)
		return 0
	}
	return 1
}

func boolNumber(b bool) lua.LNumber {
	if b {
		return 1
	}
	return 0
}

// KV

func (m *MemoryAdapter) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.kv.Get(key)
	if !ok {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, fmt.Errorf("key %s does not hold a string", key)
	}
	return s, true, nil
}

func (m *MemoryAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.kv.Set(key, value, expiration(ttl))
	return nil
}

func (m *MemoryAdapter) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return m.kv.Add(key, value, expiration(ttl)) == nil, nil
}

func (m *MemoryAdapter) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		m.kv.Delete(k)
	}
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return cache.NoExpiration
	}
	return ttl
}

// Counter

func (m *MemoryAdapter) Incr(ctx context.Context, key string) (int64, error) {
	_ = m.kv.Add(key, int64(0), cache.NoExpiration)
	return m.kv.IncrementInt64(key, 1)
}

// Locker

func (m *MemoryAdapter) Obtain(ctx context.Context, key string, ttl time.Duration) (port.Lock, error) {
	token := uuid.NewString()

	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if err := m.kv.Add(key, token, expiration(ttl)); err != nil {
		return nil, domain.ErrLockNotObtained
	}
	return &memoryLock{owner: m, key: key, token: token}, nil
}

type memoryLock struct {
	owner *MemoryAdapter
	key   string
	token string
}

func (l *memoryLock) Key() string { return l.key }

func (l *memoryLock) Release(ctx context.Context) error {
	l.owner.locksMu.Lock()
	defer l.owner.locksMu.Unlock()

	v, ok := l.owner.kv.Get(l.key)
	if !ok || v != l.token {
		return domain.ErrLockNotHeld
	}
	l.owner.kv.Delete(l.key)
	return nil
}
