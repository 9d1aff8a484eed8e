// Command overlord runs one control-plane cycle: it reads a session's metrics
// from a JSON file (or stdin), runs risk detection, signal application, and
// plan generation, commits the session to the baseline, and prints the
// synthesis report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/grail-labs/overlord/internal/config"
	"github.com/grail-labs/overlord/internal/controlplane"
	"github.com/grail-labs/overlord/internal/report"
)

func main() {
	var (
		configPath  = flag.String("config", "overlord.yaml", "path to config file")
		metricsPath = flag.String("metrics", "-", "path to session metrics JSON ('-' for stdin)")
		asJSON      = flag.Bool("json", false, "print the report as JSON instead of text")
	)
	flag.Parse()

	if err := run(*configPath, *metricsPath, *asJSON); err != nil {
		log.Fatalf("[ORCH] %v", err)
	}
}

func run(configPath, metricsPath string, asJSON bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	metrics, err := readMetrics(metricsPath)
	if err != nil {
		return err
	}

	sys, err := controlplane.Open(cfg)
	if err != nil {
		return err
	}
	defer sys.Close()

	rep, err := sys.RunCycle(metrics)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(report.Render(rep))
	return nil
}

func readMetrics(path string) (map[string]float64, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}

	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return metrics, nil
}
