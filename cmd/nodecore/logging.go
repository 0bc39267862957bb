package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging wires the go-ethereum slog-based logger the same way the
// teacher's CLI entrypoints do: a glog-style verbosity filter over either a
// color terminal handler or a JSON handler, writing to stderr or, when
// logFileFlag is set, to a lumberjack-rotated file.
func setupLogging(ctx *cli.Context) error {
	var writer io.Writer = os.Stderr
	usecolor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"

	if file := ctx.String(logFileFlag.Name); file != "" {
		writer = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
		}
		usecolor = false
	} else if usecolor {
		writer = colorable.NewColorable(os.Stderr)
	}

	var handler slog.Handler
	if ctx.Bool(logJSONFlag.Name) {
		handler = slog.NewJSONHandler(writer, nil)
	} else {
		handler = log.NewTerminalHandler(writer, usecolor)
	}

	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)))
	log.SetDefault(log.NewLogger(glogger))
	return nil
}
