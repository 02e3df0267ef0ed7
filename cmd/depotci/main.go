package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"depotci/internal/app"
	"depotci/internal/config"
	"depotci/internal/core"
	"depotci/internal/ledger"
)

var (
	configFlag = cli.StringFlag{
		Name:   "config, c",
		Usage:  "Main configuration file",
		Value:  "config.toml",
		EnvVar: "DEPOTCI_CONFIG",
	}
	pipelineFlag = cli.StringFlag{
		Name:   "pipeline, p",
		Usage:  "Pipeline definition (.toml or .yaml)",
		Value:  "pipeline.toml",
		EnvVar: "DEPOTCI_PIPELINE",
	}
)

func main() {
	a := cli.NewApp()
	a.Name = "depotci"
	a.Usage = "Run build pipelines against Perforce streams"
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run a pipeline",
			Action: runPipeline,
			Flags:  []cli.Flag{configFlag, pipelineFlag},
		},
		{
			Name:   "validate",
			Usage:  "Load a pipeline and build its actions without running them",
			Action: validatePipeline,
			Flags:  []cli.Flag{configFlag, pipelineFlag},
		},
		{
			Name:   "submit",
			Usage:  "Queue a pipeline on a depotci server",
			Action: submitPipeline,
			Flags: []cli.Flag{
				pipelineFlag,
				cli.StringFlag{
					Name:   "server, s",
					Usage:  "Server base URL",
					Value:  "http://localhost:8080",
					EnvVar: "DEPOTCI_SERVER",
				},
			},
		},
		{
			Name:  "ledger",
			Usage: "Inspect the run ledger",
			Subcommands: []cli.Command{
				{
					Name:   "inspect",
					Usage:  "Print every ledger block",
					Action: inspectLedger,
					Flags:  []cli.Flag{configFlag},
				},
				{
					Name:   "verify",
					Usage:  "Check hashes, links and signatures",
					Action: verifyLedger,
					Flags:  []cli.Flag{configFlag},
				},
			},
		},
	}

	if err := a.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func build(c *cli.Context) (*app.App, *core.Pipeline, error) {
	a, err := app.Setup(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	def, err := core.LoadPipeline(c.String("pipeline"))
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	p, err := a.Dispatcher.Build(context.Background(), def)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, p, nil
}

func runPipeline(c *cli.Context) error {
	a, p, err := build(c)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Dispatcher.Run(context.Background(), p)
}

func validatePipeline(c *cli.Context) error {
	a, p, err := build(c)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintf(c.App.Writer, "Pipeline OK: %d action(s)\n", len(p.Actions))
	for i, action := range p.Actions {
		fmt.Fprintf(c.App.Writer, "  %d. %s (%s)\n", i+1, action.Name, action.Kind)
	}
	return nil
}

func submitPipeline(c *cli.Context) error {
	path := c.String("pipeline")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	contentType := "application/x-yaml"
	if core.FormatOf(path) == core.FormatTOML {
		contentType = "application/toml"
	}
	url := strings.TrimRight(c.String("server"), "/") + "/pipelines"
	resp, err := http.Post(url, contentType, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server answered %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Fprintln(c.App.Writer, strings.TrimSpace(string(body)))
	return nil
}

func openLedger(c *cli.Context) (*ledger.Ledger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	return ledger.Open(app.LedgerPath(cfg))
}

func inspectLedger(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	for _, b := range l.Blocks() {
		fmt.Fprintln(c.App.Writer, b)
	}
	return nil
}

func verifyLedger(c *cli.Context) error {
	l, err := openLedger(c)
	if err != nil {
		return err
	}
	if err := l.VerifyChain(); err != nil {
		return fmt.Errorf("ledger verification failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Ledger verification OK (%d blocks, head %s)\n", len(l.Blocks()), l.LastHash())
	return nil
}
