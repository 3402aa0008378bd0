// Package logger provides the structured logging interface used across
// vkphotos.
//
// It wraps zerolog behind a small Logger interface so components receive a
// logger at construction time and tests can swap in NewNopLogger or a
// capturing TestLogger.
//
//	log, err := logger.New(&cfg.Logging)
//	pager := photosync.NewPager(api, photosync.WithPagerLogger(log))
//
//	log.WithField("scope", "group:6492").Info("Sync started")
//	log.WithError(err).WarnWithFields("Record skipped", map[string]interface{}{
//	    "remote_id": "-6492_17071606",
//	})
//
// Console output is colorized and written to stderr. When Logging.File is
// set, lines are also appended to that file.
package logger
