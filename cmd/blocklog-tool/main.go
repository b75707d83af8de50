// Copyright © 2026 ANTDBlockLog Contributors
// Licensed under the MIT License (MIT). See LICENSE in the repository root
// for more information.

// Command blocklog-tool exposes the blocklog package's maintenance
// operations as subcommands: construct-index, repair, trim-front,
// trim-end, smoke-test, extract-genesis, and extract-chain-id.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/antdaza/antdblocklog/blocklog"
)

func main() {
	app := &cli.App{
		Name:  "blocklog-tool",
		Usage: "maintenance operations for an antdblocklog data directory",
		Commands: []*cli.Command{
			constructIndexCommand(),
			repairCommand(),
			trimFrontCommand(),
			trimEndCommand(),
			smokeTestCommand(),
			extractGenesisCommand(),
			extractChainIDCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("blocklog-tool failed")
	}
}

func constructIndexCommand() *cli.Command {
	return &cli.Command{
		Name:      "construct-index",
		Usage:     "rebuild a log's index from its trailing back-pointer chain",
		ArgsUsage: "<log-path> <index-path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("construct-index requires <log-path> <index-path>", 1)
			}
			if err := blocklog.ConstructIndex(c.Args().Get(0), c.Args().Get(1)); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println("index constructed")
			return nil
		},
	}
}

func repairCommand() *cli.Command {
	return &cli.Command{
		Name:      "repair",
		Usage:     "salvage a corrupted log tail",
		ArgsUsage: "<data-dir>",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "truncate-at", Usage: "stop repair after this block number (0 = no limit)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("repair requires <data-dir>", 1)
			}
			backupDir, err := blocklog.RepairLog(c.Args().Get(0), uint32(c.Uint("truncate-at")))
			if err != nil {
				fmt.Fprintf(os.Stderr, "repair stopped: %v (backup kept at %s)\n", err, backupDir)
				return cli.Exit("", 1)
			}
			fmt.Printf("repaired; original data backed up at %s\n", backupDir)
			return nil
		},
	}
}

func trimFrontCommand() *cli.Command {
	return &cli.Command{
		Name:      "trim-front",
		Usage:     "drop blocks before a given block number",
		ArgsUsage: "<block-dir> <temp-dir> <truncate-at>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return cli.Exit("trim-front requires <block-dir> <temp-dir> <truncate-at>", 1)
			}
			var truncateAt uint
			if _, err := fmt.Sscanf(c.Args().Get(2), "%d", &truncateAt); err != nil {
				return cli.Exit("truncate-at must be a number", 1)
			}
			if err := blocklog.TrimFront(c.Args().Get(0), c.Args().Get(1), uint32(truncateAt)); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println("trimmed front")
			return nil
		},
	}
}

func trimEndCommand() *cli.Command {
	return &cli.Command{
		Name:      "trim-end",
		Usage:     "drop blocks after a given block number",
		ArgsUsage: "<block-dir> <n>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("trim-end requires <block-dir> <n>", 1)
			}
			var n uint
			if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &n); err != nil {
				return cli.Exit("n must be a number", 1)
			}
			code, err := blocklog.TrimEnd(c.Args().Get(0), uint32(n))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			switch code {
			case 0:
				fmt.Println("trimmed end")
			case 1:
				fmt.Println("n is before the first block")
			case 2:
				fmt.Println("n is after the last block")
			}
			return cli.Exit("", code)
		},
	}
}

func smokeTestCommand() *cli.Command {
	return &cli.Command{
		Name:      "smoke-test",
		Usage:     "cross-check log/index counts and light-validate a sample of entries",
		ArgsUsage: "<block-dir>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "interval", Value: 1000, Usage: "validate every Nth entry"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("smoke-test requires <block-dir>", 1)
			}
			if err := blocklog.SmokeTest(c.Args().Get(0), c.Int("interval")); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println("smoke test passed")
			return nil
		},
	}
}

func extractGenesisCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract-genesis",
		Usage:     "print the genesis state embedded in a log's preamble",
		ArgsUsage: "<log-path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("extract-genesis requires <log-path>", 1)
			}
			g, err := blocklog.ExtractGenesisState(c.Args().Get(0))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			enc, err := json.MarshalIndent(g, "", "  ")
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println(string(enc))
			return nil
		},
	}
}

func extractChainIDCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract-chain-id",
		Usage:     "print the chain id a log resolves to",
		ArgsUsage: "<log-path>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("extract-chain-id requires <log-path>", 1)
			}
			id, err := blocklog.ExtractChainID(c.Args().Get(0))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Println(id.String())
			return nil
		},
	}
}
