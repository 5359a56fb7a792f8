package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
	vcrypto "github.com/VeltarosLabs/powledger/internal/crypto"
	"github.com/VeltarosLabs/powledger/pkg/api"
	"github.com/VeltarosLabs/powledger/pkg/version"
)

func main() {
	app := &cli.App{
		Name:    "powledger-cli",
		Usage:   "Inspect and extend a powledger node",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "node", Aliases: []string{"n"}, Usage: "Node base URL", Value: "http://127.0.0.1:3001", EnvVars: []string{"POWLEDGER_NODE"}},
			&cli.StringFlag{Name: "api-key", Usage: "API key for write endpoints", EnvVars: []string{"POWLEDGER_API_KEY"}},
			&cli.DurationFlag{Name: "timeout", Usage: "Request timeout", Value: 2 * time.Minute},
		},
		Commands: []*cli.Command{
			versionCommand(),
			statusCommand(),
			blocksCommand(),
			mineCommand(),
			verifyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func client(c *cli.Context) (*api.Client, error) {
	return api.New(c.String("node"), api.WithAPIKey(c.String("api-key")))
}

func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	if d := c.Duration("timeout"); d > 0 {
		return context.WithTimeout(c.Context, d)
	}
	return context.WithCancel(c.Context)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print CLI and node versions",
		Action: func(c *cli.Context) error {
			v := version.Get()
			rows := pterm.TableData{
				{"", "Version", "Commit", "Go", "Platform"},
				{"cli", v.Version, v.Commit, v.GoVersion, v.Platform},
			}

			cl, err := client(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()
			if nv, err := cl.Version(ctx); err == nil {
				rows = append(rows, []string{"node", nv.Version, nv.Commit, nv.GoVersion, nv.Platform})
			} else {
				pterm.Warning.Printfln("node unreachable: %v", err)
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the node's chain status",
		Action: func(c *cli.Context) error {
			cl, err := client(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			st, err := cl.Status(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch status")
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"Height", strconv.FormatUint(st.Height, 10)},
				{"Length", strconv.Itoa(st.Length)},
				{"Tip", st.TipHash},
				{"Difficulty", strconv.Itoa(st.Difficulty)},
				{"Hash", st.HashAlgorithm},
				{"Feed subscribers", strconv.Itoa(st.Subscribers)},
				{"Started", st.StartedAt},
				{"Uptime", (time.Duration(st.UptimeSec) * time.Second).String()},
			}).Render()
		},
	}
}

func blocksCommand() *cli.Command {
	return &cli.Command{
		Name:  "blocks",
		Usage: "List the node's chain",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print raw JSON"},
		},
		Action: func(c *cli.Context) error {
			cl, err := client(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			blocks, err := cl.Blocks(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch blocks")
			}
			if c.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(blocks)
			}
			return pterm.DefaultTable.WithHasHeader().WithData(blockRows(blocks)).Render()
		},
	}
}

func mineCommand() *cli.Command {
	return &cli.Command{
		Name:  "mine",
		Usage: "Ask the node to mine a block",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "Payload, sent as a JSON string", Required: true},
			&cli.BoolFlag{Name: "raw", Usage: "Send --data as a JSON value instead of a string"},
		},
		Action: func(c *cli.Context) error {
			payload, err := payloadFromFlag(c.String("data"), c.Bool("raw"))
			if err != nil {
				return err
			}
			cl, err := client(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			spinner, _ := pterm.DefaultSpinner.Start("Mining block...")
			start := time.Now()
			b, err := cl.MineBlock(ctx, payload)
			if err != nil {
				if spinner != nil {
					spinner.Fail("mining failed")
				}
				return err
			}
			if spinner != nil {
				spinner.Success(fmt.Sprintf("Mined block %d in %s", b.Index, time.Since(start).Round(time.Millisecond)))
			}
			return pterm.DefaultTable.WithHasHeader().WithData(blockRows([]blockchain.Block{b})).Render()
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Download the chain and validate it locally",
		Action: func(c *cli.Context) error {
			cl, err := client(c)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(c)
			defer cancel()

			st, err := cl.Status(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch status")
			}
			blocks, err := cl.Blocks(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch blocks")
			}

			if err := verifyLocal(blocks, st.HashAlgorithm, st.Difficulty); err != nil {
				return err
			}
			pterm.Success.Printfln("chain of %d blocks is valid (difficulty %d, %s)", len(blocks), st.Difficulty, st.HashAlgorithm)
			return nil
		},
	}
}

// verifyLocal re-runs the full validation with the node's parameters and
// also checks that the chain starts from the well-known genesis block.
func verifyLocal(blocks []blockchain.Block, hash string, difficulty int) error {
	alg, err := vcrypto.ParseAlgorithm(hash)
	if err != nil {
		return err
	}
	v := blockchain.NewValidator(blockchain.NewHasher(alg), difficulty, nil)
	if err := v.ValidateChain(blocks); err != nil {
		return errors.Wrap(err, "chain is invalid")
	}
	if len(blocks) > 0 && blocks[0].Hash != blockchain.Genesis().Hash {
		return errors.Errorf("unexpected genesis hash %s", blocks[0].Hash)
	}
	return nil
}

func payloadFromFlag(data string, raw bool) (json.RawMessage, error) {
	if !raw {
		return json.Marshal(data)
	}
	if !json.Valid([]byte(data)) {
		return nil, errors.New("--data is not valid JSON")
	}
	if data == "null" {
		return nil, errors.New("--data must not be null")
	}
	return json.RawMessage(data), nil
}

func blockRows(blocks []blockchain.Block) pterm.TableData {
	rows := pterm.TableData{{"Index", "Timestamp", "Nonce", "Hash", "Previous", "Data"}}
	for _, b := range blocks {
		rows = append(rows, []string{
			strconv.FormatUint(b.Index, 10),
			time.UnixMilli(b.Timestamp).UTC().Format(time.RFC3339),
			strconv.FormatUint(b.Nonce, 10),
			short(b.Hash),
			short(b.PreviousHash),
			short(string(b.Data)),
		})
	}
	return rows
}

func short(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "…"
}
