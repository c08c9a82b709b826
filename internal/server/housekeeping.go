package server

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const statsInterval = time.Minute

// startHousekeeping schedules the idle reaper and the periodic stats line
func (s *Server) startHousekeeping() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if s.opts.IdleTimeout > 0 {
		interval := min(max(s.opts.IdleTimeout/4, 50*time.Millisecond), 30*time.Second)
		if _, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(s.reapIdleConnections),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("failed to schedule idle reaper: %w", err)
		}
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(statsInterval),
		gocron.NewTask(s.logStats),
	); err != nil {
		return fmt.Errorf("failed to schedule stats job: %w", err)
	}

	sched.Start()
	s.housekeeping = sched
	return nil
}

// reapIdleConnections closes connections that have sent nothing for the
// idle timeout; their workers then run the normal disconnect path
func (s *Server) reapIdleConnections() {
	cutoff := time.Now().Add(-s.opts.IdleTimeout)
	for _, c := range s.conns.Items() {
		if c.LastSeen().Before(cutoff) {
			s.logger.Info("Closing idle connection %s (last seen %s ago)", c.ID, time.Since(c.LastSeen()).Round(time.Second))
			c.Close()
		}
	}
}

func (s *Server) logStats() {
	st := s.Stats()
	s.logger.Info("Stats: %d connections, %d online, %d waiting, %d sessions, %d modifiers",
		st.Connections, st.Online, st.Waiting, st.Sessions, st.Modifiers)
}
