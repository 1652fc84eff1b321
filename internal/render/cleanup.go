package render

import (
	"go.uber.org/zap"
)

// CleanupReport describes one periodic sweep.
type CleanupReport struct {
	Sequence       int64
	AfterCompleted int64
	ImagesRemoved  int
	OrphansPurged  int
	GCPasses       int
}

// sweep is the heavy cleanup that runs every CleanupEvery completed renders.
func (s *Serializer) sweep(logger *zap.Logger, completed int64) {
	report := CleanupReport{AfterCompleted: completed}

	if n, err := s.host.RemoveUnusedImages(); err != nil {
		logger.Warn("remove unused images failed", zap.Error(err))
	} else {
		report.ImagesRemoved = n
	}
	if n, err := s.host.PurgeOrphans(); err != nil {
		logger.Warn("purge orphans failed", zap.Error(err))
	} else {
		report.OrphansPurged = n
	}
	for i := 0; i < s.cfg.GCPasses; i++ {
		if i > 0 && s.cfg.GCPause > 0 {
			s.sleep(s.cfg.GCPause)
		}
		s.host.CollectGarbage()
		report.GCPasses++
	}
	s.syncGPU(logger)

	s.mu.Lock()
	s.cleanups++
	report.Sequence = s.cleanups
	hook := s.onCleanup
	s.mu.Unlock()

	logger.Info("periodic cleanup",
		zap.Int64("cleanup_count", report.Sequence),
		zap.Int64("completed", completed),
		zap.Int("images_removed", report.ImagesRemoved),
		zap.Int("orphans_purged", report.OrphansPurged),
	)
	if hook != nil {
		hook(report)
	}
}
