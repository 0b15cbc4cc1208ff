package retention

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pnotato/VSDocs/internal/db"
)

type Config struct {
	Interval      time.Duration
	KeepSnapshots int
}

// Service prunes each room's snapshot history down to a keep count in the
// background. Pruning only touches the durable store; live room state is
// never involved.
type Service struct {
	database *db.Database
	log      *slog.Logger
	config   Config
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(database *db.Database, logger *slog.Logger, config Config) *Service {
	return &Service{
		database: database,
		log:      logger,
		config:   config,
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("retention.started", "interval", s.config.Interval, "keep", s.config.KeepSnapshots)
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info("retention.stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.pruneAllRooms()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pruneAllRooms()
		}
	}
}

func (s *Service) pruneAllRooms() {
	rooms, err := s.database.ListRooms(1000, 0)
	if err != nil {
		s.log.Warn("retention.list_rooms", "err", err)
		return
	}

	prunedCount := 0
	for _, room := range rooms {
		count, err := s.database.GetSnapshotCount(room.ID)
		if err != nil || count <= s.config.KeepSnapshots {
			continue
		}
		if err := s.database.PruneSnapshots(room.ID, s.config.KeepSnapshots); err != nil {
			s.log.Warn("retention.prune", "room", room.ID, "err", err)
			continue
		}
		prunedCount++
	}

	if prunedCount > 0 {
		s.log.Info("retention.pruned", "rooms", prunedCount)
	}
}
