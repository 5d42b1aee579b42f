package http

import (
	"container/list"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
	applog "github.com/bolotov-775-hue/finance-bot/internal/log"
	"github.com/bolotov-775-hue/finance-bot/internal/services"
	"github.com/bolotov-775-hue/finance-bot/internal/storage"
)

// ReminderPublisher schedules a reminder for later delivery. Nil when the
// broker is not configured; the handler then answers 503.
type ReminderPublisher interface {
	Publish(ctx context.Context, userID int64, text string, fireAt time.Time) error
}

// lruCache with TTL and size-based eviction, keyed by string.
type lruCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

func newLRUCache[T any](maxSize int, ttl time.Duration) *lruCache[T] {
	return &lruCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

func (c *lruCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	if time.Now().After(item.expiresAt) {
		c.removeElement(elem)
		return zero, false
	}

	c.lru.MoveToFront(elem)
	return item.data, true
}

func (c *lruCache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := &cacheItem[T]{key: key, data: data, expiresAt: time.Now().Add(c.ttl)}

	if elem, exists := c.items[key]; exists {
		elem.Value = item
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(item)
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *lruCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.items[key]; exists {
		c.removeElement(elem)
	}
}

func (c *lruCache[T]) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
}

type Server struct {
	http.Server
	store     storage.Store
	ledger    *services.LedgerService
	reminders ReminderPublisher
	location  *time.Location

	// statsCache keeps recent monthly aggregates; invalidated when a
	// transaction lands in the cached month.
	statsCache *lruCache[core.MonthlyStats]
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, store storage.Store, ledger *services.LedgerService, reminders ReminderPublisher, location *time.Location, logger *applog.Logger) *Server {
	mux := http.NewServeMux()

	// The middleware puts the request logger on the context; handlers pick
	// it up with applog.FromContext.
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           applog.Middleware(logger.WithComponent(applog.ComponentHTTP))(mux),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		store:      store,
		ledger:     ledger,
		reminders:  reminders,
		location:   location,
		statsCache: newLRUCache[core.MonthlyStats](100, 5*time.Minute),
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/users", s.handleCreateUser)
	mux.HandleFunc("/transactions", s.handleCreateTransaction)
	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/expenses/today", s.handleExpensesToday)
	mux.HandleFunc("/expenses", s.handleExpensesInPeriod)
	mux.HandleFunc("/stats/monthly", s.handleMonthlyStats)
	mux.HandleFunc("/goal", s.handleGoal)
	mux.HandleFunc("/limit", s.handleLimit)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/reminders", s.handleCreateReminder)

	return s
}

func (s *Server) statsCacheKey(userID int64, year, month int) string {
	return strconv.FormatInt(userID, 10) + ":" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

// invalidateStats drops the cached month holding at. The month is derived
// in the configured location, the same way reads derive it, so entries near
// a month boundary do not survive in a stale cache.
func (s *Server) invalidateStats(userID int64, at time.Time) {
	local := at.In(s.location)
	s.statsCache.Delete(s.statsCacheKey(userID, local.Year(), int(local.Month())))
}

// monthlyStats serves aggregates through the cache.
func (s *Server) monthlyStats(ctx context.Context, userID int64, year, month int) (core.MonthlyStats, error) {
	key := s.statsCacheKey(userID, year, month)
	if stats, found := s.statsCache.Get(key); found {
		return stats, nil
	}

	stats, err := s.store.MonthlyStats(ctx, userID, year, month)
	if err != nil {
		return core.MonthlyStats{}, err
	}
	s.statsCache.Set(key, stats)
	return stats, nil
}
