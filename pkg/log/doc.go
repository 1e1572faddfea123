/*
Package log provides coco's structured logging on top of zerolog.

One global zerolog.Logger is configured via Init, and every subsystem
pulls a component-scoped child logger from it with WithComponent, or a
field-scoped one with WithHost, WithEndpoint, or WithQueueKey.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("coco starting")

	frontendLog := log.WithComponent("frontend")
	frontendLog.Info().Msg("listening")

	hostLog := log.WithHost("10.0.0.5:9000")
	hostLog.Warn().Msg("forward failed")
*/
package log
