// Package flags groups the CLI flag categories and the shared App
// constructor used by cmd/nodecore, the same way go-ethereum's own
// internal/flags package backs geth's CLI.
package flags

import (
	"github.com/urfave/cli/v2"
)

// Flag categories, printed as section headers by cli.App's help template.
const (
	StoreCategory    = "CHAIN STORE"
	ChainCategory    = "CHAIN STATE"
	ValidatorCategory = "BLOCK VALIDATOR"
	MempoolCategory  = "MEMPOOL"
	LoggingCategory  = "LOGGING AND DEBUGGING"
	MiscCategory     = "MISC"
)

// NewApp creates an app with sane defaults and the given usage string.
func NewApp(usage string) *cli.App {
	app := cli.NewApp()
	app.EnableBashCompletion = true
	app.Usage = usage
	app.Copyright = "Copyright 2013-2024 The coreshell Authors"
	app.Before = func(ctx *cli.Context) error {
		MigrateGlobalFlags(ctx)
		return nil
	}
	return app
}

// MigrateGlobalFlags makes every ancestor context's flag values visible on
// ctx, matching the upstream geth behaviour where `nodecore --flag cmd` and
// `nodecore cmd --flag` are equivalent.
func MigrateGlobalFlags(ctx *cli.Context) {
	for _, name := range ctx.FlagNames() {
		if ctx.IsSet(name) {
			continue
		}
		for _, parent := range ctx.Lineage()[1:] {
			if parent.IsSet(name) {
				ctx.Set(name, parent.String(name))
				break
			}
		}
	}
}
