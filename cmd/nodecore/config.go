package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-mive/coreshell/params"
)

// tomlSettings makes TOML keys use the exact same names as the Go struct
// fields, the same normalization the upstream node config loader applies.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// nodeConfig is the complete on-disk/CLI configuration surface.
type nodeConfig struct {
	StoreDir        string
	ChainID         string
	ValidatorBinary string
	ReadOnly        bool
	Chain           params.ChainConfig
}

func loadConfigFile(file string, cfg *nodeConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func defaultNodeConfig() nodeConfig {
	return nodeConfig{
		StoreDir: "./data",
		ChainID:  "main",
		Chain: params.ChainConfig{
			HistoryMode: params.FullMode(nil),
		},
	}
}

// loadNodeConfig builds the effective configuration: defaults, then an
// optional TOML file, then CLI flag overrides -- the same precedence order
// the teacher's loadBaseConfig uses.
func loadNodeConfig(ctx *cli.Context) (nodeConfig, error) {
	cfg := defaultNodeConfig()

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return cfg, fmt.Errorf("loading config file: %w", err)
		}
	}

	if ctx.IsSet(dataDirFlag.Name) {
		cfg.StoreDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(chainIDFlag.Name) {
		cfg.ChainID = ctx.String(chainIDFlag.Name)
	}
	if ctx.IsSet(validatorBinaryFlag.Name) {
		cfg.ValidatorBinary = ctx.String(validatorBinaryFlag.Name)
	}
	if ctx.IsSet(readOnlyFlag.Name) {
		cfg.ReadOnly = ctx.Bool(readOnlyFlag.Name)
	}
	if ctx.IsSet(historyModeFlag.Name) {
		mode, err := parseHistoryMode(ctx.String(historyModeFlag.Name))
		if err != nil {
			return cfg, err
		}
		cfg.Chain.HistoryMode = mode
	}
	return cfg, nil
}

// parseHistoryMode accepts "archive", "full", "full:<offset>", "rolling"
// and "rolling:<offset>".
func parseHistoryMode(s string) (params.HistoryMode, error) {
	kind, rest, _ := strings.Cut(s, ":")
	var offset *uint16
	if rest != "" {
		n, err := strconv.ParseUint(rest, 10, 16)
		if err != nil {
			return params.HistoryMode{}, fmt.Errorf("invalid history mode offset %q: %w", rest, err)
		}
		o := uint16(n)
		offset = &o
	}
	switch strings.ToLower(kind) {
	case "archive":
		return params.ArchiveMode(), nil
	case "full":
		return params.FullMode(offset), nil
	case "rolling":
		return params.RollingMode(offset), nil
	default:
		return params.HistoryMode{}, fmt.Errorf("unknown history mode %q", s)
	}
}
