// Package persistence 交易记录、账户快照与事件日志的落盘
// 所有写入都是 fire-and-forget: 失败只记日志，绝不阻塞交易路径
package persistence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/pkg/logger"
)

// maxSnapshots 内存中保留的快照上限
const maxSnapshots = 1000

// Event 一条结构化事件记录
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// Store 交易数据存储
// Badger 为主存储，内存副本始终保留: 数据库不可用时机器人照常交易
type Store struct {
	mu        sync.RWMutex
	db        *badger.DB // 可能为 nil（纯内存模式）
	trades    map[string]*domain.Trade
	snapshots []domain.AccountSnapshot
}

// Open 打开存储
// path 为空或数据库打开失败时降级为纯内存模式
func Open(path string) *Store {
	s := &Store{trades: make(map[string]*domain.Trade)}
	if path == "" {
		logger.Warnf("[persistence] 未配置数据目录, 交易记录仅保留在内存")
		return s
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		logger.Errorf("[persistence] 打开数据库失败, 降级为纯内存模式: %v", err)
		return s
	}
	s.db = db
	logger.Infof("[persistence] 数据库已打开: %s", path)
	return s
}

// Close 关闭底层数据库
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Durable 是否有可用的落盘存储
func (s *Store) Durable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// SaveTrade 开仓时写入交易记录
func (s *Store) SaveTrade(t *domain.Trade) {
	s.mu.Lock()
	s.trades[t.ID] = t
	s.mu.Unlock()

	s.put(tradeKey(t.ID), t)
}

// UpdateTrade 平仓时更新交易记录，记录不存在时整条写入
func (s *Store) UpdateTrade(t *domain.Trade) {
	s.mu.Lock()
	s.trades[t.ID] = t
	s.mu.Unlock()

	s.put(tradeKey(t.ID), t)
}

// Trade 按 id 查询交易记录（内存副本）
func (s *Store) Trade(id string) (*domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	return t, ok
}

// Trades 全部交易记录（内存副本）
func (s *Store) Trades() []*domain.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	return out
}

// DailyTradeCount 指定日期（UTC）开仓的交易笔数
func (s *Store) DailyTradeCount(date time.Time) int {
	day := date.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.trades {
		opened := t.OpenedAt.UTC()
		if !opened.Before(day) && opened.Before(next) {
			n++
		}
	}
	return n
}

// SaveSnapshot 保存账户快照，内存中只保留最近 maxSnapshots 条
func (s *Store) SaveSnapshot(snap domain.AccountSnapshot) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > maxSnapshots {
		s.snapshots = s.snapshots[len(s.snapshots)-maxSnapshots:]
	}
	s.mu.Unlock()

	metrics.SnapshotSaves.Add(1)
	s.put(snapshotKey(snap.Timestamp), snap)
}

// LatestSnapshot 最近一次账户快照
func (s *Store) LatestSnapshot() (domain.AccountSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return domain.AccountSnapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// LogEvent 追加一条事件记录
func (s *Store) LogEvent(level, component, message string) {
	ev := Event{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: component,
		Message:   message,
	}
	s.put(eventKey(ev.Timestamp), ev)
}

// put 把 JSON 编码后的值写入 Badger，失败只记日志
func (s *Store) put(key string, value interface{}) {
	s.mu.RLock()
	db := s.db
	s.mu.RUnlock()
	if db == nil {
		return
	}

	b, err := json.Marshal(value)
	if err != nil {
		logger.Errorf("[persistence] 序列化失败: key=%s %v", key, err)
		return
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), b)
	})
	if err != nil {
		logger.Errorf("[persistence] 写入失败: key=%s %v", key, err)
	}
}

// LoadTrades 从数据库恢复全部交易记录到内存，启动时调用
func (s *Store) LoadTrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0
	}

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("trade:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var t domain.Trade
				if err := json.Unmarshal(val, &t); err != nil {
					logger.Warnf("[persistence] 交易记录损坏, 跳过: %v", err)
					return nil
				}
				s.trades[t.ID] = &t
				n++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Errorf("[persistence] 恢复交易记录失败: %v", err)
	}
	return n
}

func tradeKey(id string) string {
	return "trade:" + id
}

func snapshotKey(ts time.Time) string {
	return fmt.Sprintf("snapshot:%s", ts.UTC().Format(time.RFC3339Nano))
}

func eventKey(ts time.Time) string {
	return fmt.Sprintf("event:%s:%s", ts.UTC().Format(time.RFC3339Nano), uuid.NewString())
}
