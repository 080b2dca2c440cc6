// Command assign solves one assignment instance offline.
//
// The instance is a YAML file (or stdin with "-"):
//
//	agents:  [[-13, 1], [-8, -4], [-8, 6]]
//	targets: [[-14, 0], [-9, -5], [-9, 5]]
//
// or, to use a formation from the config file:
//
//	formation: kickoff
//	agents:    [[-13, 1], [-8, -4], [-8, 6], [-3, 0], [-1, 2]]
//
// Usage:
//
//	go run ./cmd/assign [-config configs/development.yaml] [-json] [-verify] instance.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/service"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/formation"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
)

// instance is the YAML input file.
type instance struct {
	Formation string             `yaml:"formation"`
	Agents    []assignment.Point `yaml:"agents"`
	Targets   []assignment.Point `yaml:"targets"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("assign", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file with formations (optional)")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	verify := fs.Bool("verify", false, "check the result for blocking pairs")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: assign [flags] <instance.yaml | ->")
		return 2
	}
	logger.SetupWriter(stderr, *logLevel, "text")

	inst, err := readInstance(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "reading instance: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	svc, err := newService(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "loading formations: %v\n", err)
		return 1
	}

	ctx := context.Background()
	var resp *proto.AssignResponse
	if inst.Formation != "" {
		resp, err = svc.AssignFormation(ctx, proto.FormationAssignRequest{Formation: inst.Formation, Agents: inst.Agents, Verify: *verify})
	} else {
		resp, err = svc.Assign(ctx, proto.AssignRequest{Agents: inst.Agents, Targets: inst.Targets, Verify: *verify})
	}
	if err != nil {
		fmt.Fprintf(stderr, "assignment failed: %v\n", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(stderr, "writing result: %v\n", err)
			return 1
		}
	} else {
		printTable(stdout, inst.Agents, resp)
	}
	if resp.Stable != nil && !*resp.Stable {
		return 3
	}
	return 0
}

func readInstance(path string, stdin io.Reader) (*instance, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var inst instance
	if err := yaml.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return &inst, nil
}

// newService builds an in-process service over the configured formations.
func newService(cfg *config.Config) (*service.Service, error) {
	formations, err := formation.FromConfig(cfg.Formations)
	if err != nil {
		return nil, err
	}
	store := formation.NewMemoryStore()
	if _, err := formation.Seed(context.Background(), store, formations, cfg.Assignment.MaxAgents); err != nil {
		return nil, err
	}
	slog.Debug("formations loaded", "count", len(formations))
	cfg.Assignment.CacheEnabled = false
	return service.New(cfg.Assignment, service.Deps{Formations: store}), nil
}

func printTable(w io.Writer, agents []assignment.Point, resp *proto.AssignResponse) {
	ids := make([]int, 0, len(resp.Assignments))
	for id := range resp.Assignments {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tFROM\tTO\tDISTANCE")
	for _, id := range ids {
		from, to := agents[id-1], resp.Assignments[id]
		fmt.Fprintf(tw, "%d\t(%g, %g)\t(%g, %g)\t%.3f\n", id, from.X, from.Y, to.X, to.Y, assignment.Distance(from, to))
	}
	tw.Flush()
	fmt.Fprintf(w, "\nproposals=%d rejections=%d displacements=%d total_cost=%.3f\n",
		resp.Proposals, resp.Rejections, resp.Displacements, resp.TotalCost)
	if resp.Stable != nil {
		fmt.Fprintf(w, "stable=%t blocking_pairs=%d\n", *resp.Stable, len(resp.BlockingPairs))
	}
}
