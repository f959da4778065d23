package gcn

import "go.uber.org/zap"

// fatal reports an internal invariant violation and terminates the process,
// mirroring writelog(LOG_FATAL, ...)'s behavior in the reference node: a
// corrupted table is not something the protocol can recover from, so it is
// logged and the node exits rather than continuing on bad state. zap.Fatal
// calls os.Exit(1) itself after logging, the same exit(1) writelog performs.
func (s *Service) fatal(msg string, kv ...any) {
	fields := make([]zap.Field, 0, len(kv)/2+1)
	fields = append(fields, zap.Uint64("node", uint64(s.config.NodeID)))
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields = append(fields, zap.Any(key, kv[i+1]))
		}
	}
	zap.L().Fatal(msg, fields...)
}
