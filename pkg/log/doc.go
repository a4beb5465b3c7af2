/*
Package log provides structured logging over zerolog.

One global logger, initialized once from configuration, with child logger
constructors for the fields every component tags its lines with:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("scheduler")
	logger.Info().Int64("job_id", id).Msg("Worker dispatched")

Console output with RFC3339 timestamps is the default; JSONOutput
switches to raw JSON lines for machine collection. WithJobID and WithUser
exist because job id and user name are the two fields almost every log
line in the job pipeline wants.
*/
package log
