package commands

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
	"github.com/lianxiangcloud/ringroute/libs/p2p/simnet"
)

type simulateOptions struct {
	nodes    int
	seed     int64
	loss     float64
	fail     int
	settle   time.Duration
	joinGap  time.Duration
	latency  time.Duration
	jitter   time.Duration
	leafSize int
	verbose  bool
}

var simFlags = simulateOptions{
	nodes:    32,
	seed:     1,
	settle:   10 * time.Minute,
	joinGap:  time.Second,
	latency:  20 * time.Millisecond,
	jitter:   30 * time.Millisecond,
	leafSize: 2,
}

func init() {
	f := SimulateCmd.Flags()
	f.IntVar(&simFlags.nodes, "nodes", simFlags.nodes, "Nodes in the simulated ring")
	f.Int64Var(&simFlags.seed, "seed", simFlags.seed, "Seed of the simulation")
	f.Float64Var(&simFlags.loss, "loss", simFlags.loss, "Fraction of packets dropped")
	f.IntVar(&simFlags.fail, "fail", simFlags.fail, "Nodes failed after the ring settles")
	f.DurationVar(&simFlags.settle, "settle", simFlags.settle, "Virtual time each phase runs for")
	f.DurationVar(&simFlags.joinGap, "join_gap", simFlags.joinGap, "Virtual time between two joins")
	f.DurationVar(&simFlags.latency, "latency", simFlags.latency, "Minimum one way latency")
	f.DurationVar(&simFlags.jitter, "jitter", simFlags.jitter, "Random latency added per link")
	f.IntVar(&simFlags.leafSize, "leaf_set_size", simFlags.leafSize, "Nodes on each side of the leaf set")
	f.BoolVar(&simFlags.verbose, "verbose", simFlags.verbose, "Log what every simulated router does")
}

// SimulateCmd joins many routers on a simulated network in virtual time and
// reports whether their leaf sets converge into a ring.
var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run routers on a simulated network and check the ring converges",
	RunE: func(cmd *cobra.Command, args []string) error {
		simLogger := log.NewNopLogger()
		if simFlags.verbose {
			simLogger = logger.With("module", "simnet")
		}
		misplaced, err := simulate(os.Stdout, simFlags, simLogger)
		if err != nil {
			return err
		}
		if misplaced > 0 {
			return errors.Errorf("%d nodes did not converge", misplaced)
		}
		return nil
	},
}

func simAddr(i int) pastry.Addr {
	return pastry.Addr(fmt.Sprintf("10.2.%d.%d:7000", i/250, i%250+1))
}

// simulate runs the scenario and returns how many live nodes are misplaced
// at the end.
func simulate(w io.Writer, opts simulateOptions, logger log.Logger) (int, error) {
	if opts.nodes < 1 || opts.fail < 0 || opts.fail >= opts.nodes {
		return 0, errors.Errorf("need at least one node and fewer failures than nodes")
	}
	rnd := rand.New(rand.NewSource(opts.seed))
	jitter := make(map[pastry.Addr]time.Duration, opts.nodes)
	for i := 0; i < opts.nodes; i++ {
		if opts.jitter > 0 {
			jitter[simAddr(i)] = time.Duration(rnd.Int63n(int64(opts.jitter)))
		}
	}
	net := simnet.New(simnet.Config{
		Seed:     opts.seed,
		LossRate: opts.loss,
		Latency: func(from, to pastry.Addr) time.Duration {
			return opts.latency + (jitter[from]+jitter[to])/2
		},
	}, logger)

	routers := make([]*pastry.Router, 0, opts.nodes)
	for i := 0; i < opts.nodes; i++ {
		cfg := pastry.DefaultConfig()
		cfg.LeafSetSize = opts.leafSize
		if i > 0 {
			cfg.Gateways = []pastry.Addr{simAddr(rnd.Intn(i))}
		}
		r, err := net.NewRouter(simAddr(i), cfg)
		if err != nil {
			return 0, err
		}
		r.Start()
		routers = append(routers, r)
		net.RunFor(opts.joinGap)
	}
	net.RunFor(opts.settle)
	report(w, "joined", net, routers)

	live := routers
	if opts.fail > 0 {
		perm := rnd.Perm(len(routers))
		dead := make(map[int]bool, opts.fail)
		for _, i := range perm[:opts.fail] {
			dead[i] = true
			net.SetDown(routers[i].Self().Addr, true)
		}
		live = live[:0:0]
		for i, r := range routers {
			if !dead[i] {
				live = append(live, r)
			}
		}
		net.RunFor(opts.settle)
		report(w, fmt.Sprintf("after %d failures", opts.fail), net, live)
	}
	return len(simnet.Misplaced(live)), nil
}

func report(w io.Writer, phase string, net *simnet.Network, routers []*pastry.Router) {
	initialized := 0
	for _, r := range routers {
		if r.Initialized() {
			initialized++
		}
	}
	sent, dropped, delivered := net.Stats()
	fmt.Fprintf(w, "%s: %d nodes, %d initialized, %d misplaced; packets sent=%d dropped=%d delivered=%d\n",
		phase, len(routers), initialized, len(simnet.Misplaced(routers)), sent, dropped, delivered)
}
