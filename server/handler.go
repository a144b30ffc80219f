package server

import (
	"time"

	"github.com/kirk91/stats"

	"github.com/kirk91/miniredis/command"
	"github.com/kirk91/miniredis/resp"
)

const (
	// stats scope for commands outside command.Names
	unrecognizedCommand = "unrecognized"
	// stats scope for requests that are not a valid command at all
	invalidCommand = "invalid"
)

type commandStats struct {
	Total         *stats.Counter
	Success       *stats.Counter
	Error         *stats.Counter
	LatencyMicros *stats.Histogram
}

func newCommandStats(scope *stats.Scope, cmd string) *commandStats {
	cmdScope := scope.NewChild(cmd)
	return &commandStats{
		Total:         cmdScope.Counter("total"),
		Success:       cmdScope.Counter("success"),
		Error:         cmdScope.Counter("error"),
		LatencyMicros: cmdScope.Histogram("latency_micros"),
	}
}

func (s *Server) initCommandStats() {
	scope := s.stats.NewChild("cmd")
	for _, cmd := range command.Names {
		s.cmdStats[cmd] = newCommandStats(scope, cmd)
	}
	s.cmdStats[unrecognizedCommand] = newCommandStats(scope, unrecognizedCommand)
	s.cmdStats[invalidCommand] = newCommandStats(scope, invalidCommand)
}

func (s *Server) findCmdStats(cmd string) *commandStats {
	if st, ok := s.cmdStats[cmd]; ok {
		return st
	}
	return s.cmdStats[unrecognizedCommand]
}

// handleRequest turns one request frame into its reply. An error means the
// request was not a valid command and the connection must be dropped.
func (s *Server) handleRequest(f resp.Frame) (resp.Frame, error) {
	start := time.Now()
	cmd, err := command.FromFrame(f)
	if err != nil {
		st := s.cmdStats[invalidCommand]
		st.Total.Inc()
		st.Error.Inc()
		return nil, err
	}

	st := s.findCmdStats(cmd.Name())
	st.Total.Inc()
	reply := cmd.Execute(s.backend)
	switch reply.(type) {
	case resp.SimpleError:
		st.Error.Inc()
	default:
		st.Success.Inc()
	}
	st.LatencyMicros.Record(uint64(time.Since(start) / time.Microsecond))
	return reply, nil
}
