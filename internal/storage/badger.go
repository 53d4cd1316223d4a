package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Dir is the storage directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in memory. Used by tests.
	InMemory bool

	// GCInterval is the interval between value log GC runs.
	// Default: 10m
	GCInterval time.Duration

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5
	GCThreshold float64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 16MB; peer records are tiny.
	ValueLogFileSize int64

	// SyncWrites enables fsync after each write.
	// Default: false
	SyncWrites bool
}

// DefaultBadgerConfig returns the default configuration for dir.
func DefaultBadgerConfig(dir string) BadgerConfig {
	return BadgerConfig{
		Dir:              dir,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		ValueLogFileSize: 16 << 20,
	}
}

// Stats contains storage statistics.
type Stats struct {
	Peers        int
	LSMSize      uint64
	ValueLogSize uint64
	// LastGCTime is the last GC run (Unix milliseconds).
	LastGCTime int64
}

// BadgerStore is a peer store backed by Badger v3.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	closed     atomic.Bool
	lastGCTime atomic.Int64

	metricsPeers      prometheus.GaugeFunc
	metricsLSMSize    prometheus.GaugeFunc
	metricsVLogSize   prometheus.GaugeFunc
	metricsGCRuns     prometheus.Counter
	metricsRegistered atomic.Bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// OpenBadger opens or creates a BadgerStore.
func OpenBadger(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBadgerConfig(cfg.Dir)
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = def.GCInterval
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = def.GCThreshold
	}
	if cfg.ValueLogFileSize <= 0 {
		cfg.ValueLogFileSize = def.ValueLogFileSize
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("peer store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

// SavePeer inserts or replaces a peer record.
func (s *BadgerStore) SavePeer(_ context.Context, p PeerRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := p.Validate(); err != nil {
		return err
	}
	value, err := encodePeer(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(peerKey(p.Address), value)
	})
}

// GetPeer returns the record for addr or ErrPeerNotFound.
func (s *BadgerStore) GetPeer(_ context.Context, addr string) (PeerRecord, error) {
	if s.closed.Load() {
		return PeerRecord{}, ErrClosed
	}
	var rec PeerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(peerKey(addr))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrPeerNotFound
			}
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = decodePeer(value)
		return err
	})
	return rec, err
}

// DeletePeer removes addr. Deleting a missing peer is not an error.
func (s *BadgerStore) DeletePeer(_ context.Context, addr string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(peerKey(addr))
	})
}

// ListPeers returns all records sorted by address. Undecodable records are
// skipped and logged.
func (s *BadgerStore) ListPeers(ctx context.Context) ([]PeerRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []PeerRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(peerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodePeer(value)
			if err != nil {
				s.logger.Warn("skipping corrupt peer record", "key", string(item.Key()), "error", err)
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// GC runs value log GC until nothing more can be rewritten and returns the
// number of rewrite passes.
func (s *BadgerStore) GC(_ context.Context) (int, error) {
	if s.closed.Load() || s.cfg.InMemory {
		return 0, nil
	}
	runs := 0
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
				break
			}
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}
	s.lastGCTime.Store(time.Now().UnixMilli())
	if s.metricsGCRuns != nil {
		s.metricsGCRuns.Add(float64(runs))
	}
	s.logger.Debug("peer store gc completed", "rewrites", runs)
	return runs, nil
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	peers, err := s.ListPeers(ctx)
	if err != nil {
		return Stats{}, err
	}
	lsm, vlog := s.db.Size()
	return Stats{
		Peers:        len(peers),
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   s.lastGCTime.Load(),
	}, nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("peer store closed")
	return nil
}

// RegisterMetrics registers peer store gauges with reg. It returns the
// store for chaining and is a no-op after the first call.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer) *BadgerStore {
	if !s.metricsRegistered.CompareAndSwap(false, true) {
		return s
	}

	s.metricsPeers = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "routemesh",
		Subsystem: "peer_store",
		Name:      "peers",
		Help:      "Number of cached peers.",
	}, func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		peers, err := s.ListPeers(ctx)
		if err != nil {
			return 0
		}
		return float64(len(peers))
	})
	s.metricsLSMSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "routemesh",
		Subsystem: "peer_store",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes.",
	}, func() float64 {
		if s.closed.Load() {
			return 0
		}
		lsm, _ := s.db.Size()
		return float64(lsm)
	})
	s.metricsVLogSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "routemesh",
		Subsystem: "peer_store",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes.",
	}, func() float64 {
		if s.closed.Load() {
			return 0
		}
		_, vlog := s.db.Size()
		return float64(vlog)
	})
	s.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "routemesh",
		Subsystem: "peer_store",
		Name:      "gc_rewrites_total",
		Help:      "Badger value log GC rewrite passes.",
	})

	reg.MustRegister(s.metricsPeers, s.metricsLSMSize, s.metricsVLogSize, s.metricsGCRuns)
	return s
}

func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("peer store gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
