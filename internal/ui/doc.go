// Package ui renders udpdiscover output in the terminal.
//
// Two output styles are provided. One-shot commands print styled blocks and
// exit: a Header describing the scan, a Progress list with one line per
// interface, a Result box and either a device table or, in verbose mode,
// per-device payload dumps. The watch command runs WatchModel, a Bubble Tea
// program that rescans periodically and keeps a live table of every device
// that answered.
//
// # Usage Pattern
//
//	runner := ui.NewScanRunner(ui.ScanRunnerConfig{
//	    Title:   "Device Scan",
//	    Command: "udpdiscover scan --profile brd",
//	    Params:  []ui.Param{{Key: "Port", Value: "65535"}},
//	})
//	pkgs, err := runner.Run(ctx, detector, req)
//
// # Logging Integration
//
// Logging is controlled by UDPDISCOVER_LOG_LEVEL or --log-level. When unset,
// zap logging is silent so the rendered output is not interleaved with log
// lines.
package ui
