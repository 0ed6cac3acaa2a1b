package database

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/jordanlanch/commissionengine/pkg/logger"
)

// replicaHealthInterval is how often replicas are pinged
const replicaHealthInterval = 30 * time.Second

type replica struct {
	drv     *entsql.Driver
	url     string
	healthy atomic.Bool
}

type replicaSet struct {
	replicas []*replica
	rrIndex  atomic.Uint64
	log      logger.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func connectReplicas(ctx context.Context, cfg Config, log logger.Logger) *replicaSet {
	set := &replicaSet{log: log, stop: make(chan struct{})}

	// Read replicas get half the primary's connections
	readPool := cfg.Pool
	readPool.MaxOpenConns = cfg.Pool.MaxOpenConns / 2
	if readPool.MaxOpenConns < 5 {
		readPool.MaxOpenConns = 5
	}

	for _, u := range cfg.ReplicaURLs {
		db, d, err := openDB(DriverPostgres, u, readPool, cfg.SSL)
		if err != nil {
			log.Warn("failed to open read replica", "error", err)
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			db.Close()
			log.Warn("failed to connect to read replica", "error", err)
			continue
		}
		r := &replica{drv: entsql.OpenDB(d, db), url: u}
		r.healthy.Store(true)
		set.replicas = append(set.replicas, r)
	}

	if len(set.replicas) == 0 {
		log.Info("no read replicas reachable, all queries will use primary")
		return nil
	}
	log.Info("read replicas connected", "count", len(set.replicas))
	set.startHealthChecking()
	return set
}

// pick returns the next healthy replica round-robin, or nil
func (s *replicaSet) pick() *entsql.Driver {
	if s == nil || len(s.replicas) == 0 {
		return nil
	}
	n := uint64(len(s.replicas))
	start := s.rrIndex.Add(1)
	for i := uint64(0); i < n; i++ {
		r := s.replicas[(start+i)%n]
		if r.healthy.Load() {
			return r.drv
		}
	}
	return nil
}

func (s *replicaSet) startHealthChecking() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(replicaHealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.checkHealth()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *replicaSet) checkHealth() {
	for _, r := range s.replicas {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.drv.DB().PingContext(ctx)
		cancel()

		wasHealthy := r.healthy.Swap(err == nil)
		switch {
		case wasHealthy && err != nil:
			s.log.Warn("read replica became unhealthy", "error", err)
		case !wasHealthy && err == nil:
			s.log.Info("read replica recovered")
		}
	}
}

func (s *replicaSet) close() {
	if s == nil {
		return
	}
	close(s.stop)
	s.wg.Wait()
	for _, r := range s.replicas {
		if err := r.drv.Close(); err != nil {
			s.log.Warn("error closing replica connection", "error", err)
		}
	}
}
