// Package logging builds the process-wide zap logger from the logging
// section of the configuration.
//
//	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
package logging
