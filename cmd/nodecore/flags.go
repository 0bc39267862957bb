package main

import (
	"github.com/urfave/cli/v2"

	"github.com/ethereum-mive/coreshell/internal/flags"
)

var (
	configFileFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "TOML configuration file",
		Category: flags.MiscCategory,
	}
	dataDirFlag = &cli.StringFlag{
		Name:     "datadir",
		Usage:    "Chain store root directory",
		Value:    "./data",
		Category: flags.StoreCategory,
	}
	chainIDFlag = &cli.StringFlag{
		Name:     "chain-id",
		Usage:    "Chain identifier; also the name of its subdirectory under datadir",
		Value:    "main",
		Category: flags.ChainCategory,
	}
	historyModeFlag = &cli.StringFlag{
		Name:     "history-mode",
		Usage:    "archive | full[:offset] | rolling[:offset]",
		Value:    "full",
		Category: flags.StoreCategory,
	}
	validatorBinaryFlag = &cli.StringFlag{
		Name:     "validator-binary",
		Usage:    "Path to the external validator subprocess; when empty, no block validator is started",
		Category: flags.ValidatorCategory,
	}
	readOnlyFlag = &cli.BoolFlag{
		Name:     "readonly",
		Usage:    "Refuse to start when the store consistency check reports a problem (otherwise it is logged and startup continues); no repair is attempted either way",
		Category: flags.StoreCategory,
	}

	verbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value:    3,
		Category: flags.LoggingCategory,
	}
	logFileFlag = &cli.StringFlag{
		Name:     "log.file",
		Usage:    "Write log records to this file, rotated with lumberjack, instead of stderr",
		Category: flags.LoggingCategory,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:     "log.json",
		Usage:    "Format logs as JSON",
		Category: flags.LoggingCategory,
	}
)

var appFlags = []cli.Flag{
	configFileFlag,
	dataDirFlag,
	chainIDFlag,
	historyModeFlag,
	validatorBinaryFlag,
	readOnlyFlag,
	verbosityFlag,
	logFileFlag,
	logJSONFlag,
}
