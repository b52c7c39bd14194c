package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/lianxiangcloud/ringroute/libs/log"
	"github.com/lianxiangcloud/ringroute/libs/p2p/pastry"
)

var leafSetsFlags struct {
	laddr    string
	timeout  time.Duration
	deadline time.Duration
	parallel int
	output   string
}

func init() {
	f := LeafSetsCmd.Flags()
	f.StringVar(&leafSetsFlags.laddr, "laddr", "0.0.0.0:0", "Local address to query from")
	f.DurationVar(&leafSetsFlags.timeout, "timeout", 5*time.Second, "How long to wait for each node")
	f.DurationVar(&leafSetsFlags.deadline, "deadline", time.Minute, "How long the whole crawl may take")
	f.IntVar(&leafSetsFlags.parallel, "parallel", 16, "Nodes queried at once")
	f.StringVarP(&leafSetsFlags.output, "output", "o", "text", "Output format (text|json)")
}

// LeafSetsCmd crawls a running ring and prints every node's leaf set.
var LeafSetsCmd = &cobra.Command{
	Use:   "leafsets <gateway>",
	Short: "Crawl the ring from a gateway and print each node's leaf set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch leafSetsFlags.output {
		case "text", "json":
		default:
			return errors.Errorf("unsupported output format: %s", leafSetsFlags.output)
		}

		tr, err := pastry.ListenUDP(leafSetsFlags.laddr, pastry.UDPConfig{}, log.NewNopLogger())
		if err != nil {
			return errors.Wrap(err, "listening for answers")
		}
		defer tr.Close()

		crawler := pastry.NewCrawler(tr, log.NewFilter(logger, log.AllowWarn()).With("module", "crawler"))
		crawler.Timeout = leafSetsFlags.timeout
		crawler.Parallel = leafSetsFlags.parallel

		ctx, cancel := context.WithTimeout(context.Background(), leafSetsFlags.deadline)
		defer cancel()
		results, err := crawler.Crawl(ctx, pastry.Addr(args[0]))
		if err != nil {
			return err
		}
		if leafSetsFlags.output == "json" {
			return writeCrawlJSON(os.Stdout, results)
		}
		writeCrawlText(os.Stdout, results)
		return nil
	},
}

type crawlEntry struct {
	Node         pastry.NeighborInfo   `json:"node"`
	LeafSet      []pastry.NeighborInfo `json:"leaf_set,omitempty"`
	Error        string                `json:"error,omitempty"`
	Inconsistent bool                  `json:"inconsistent,omitempty"`
}

func crawlEntries(results []pastry.CrawlResult) []crawlEntry {
	bad := map[pastry.Addr]bool{}
	for _, ni := range pastry.Inconsistent(results) {
		bad[ni.Addr] = true
	}
	entries := make([]crawlEntry, len(results))
	for i, res := range results {
		entries[i] = crawlEntry{
			Node:         res.Node,
			LeafSet:      res.LeafSet,
			Inconsistent: bad[res.Node.Addr],
		}
		if res.Err != nil {
			entries[i].Error = res.Err.Error()
		}
	}
	return entries
}

func writeCrawlJSON(w io.Writer, results []pastry.CrawlResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(crawlEntries(results))
}

var (
	failedColor       = color.New(color.FgYellow)
	inconsistentColor = color.New(color.FgRed, color.Bold)
	okColor           = color.New(color.FgGreen)
)

func writeCrawlText(w io.Writer, results []pastry.CrawlResult) {
	var failed, inconsistent int
	for _, e := range crawlEntries(results) {
		switch {
		case e.Error != "":
			failed++
			failedColor.Fprintf(w, "%-22s unreachable: %s\n", e.Node.Addr, e.Error)
			continue
		case e.Inconsistent:
			inconsistent++
			inconsistentColor.Fprintf(w, "%s ", e.Node)
		default:
			okColor.Fprintf(w, "%s ", e.Node)
		}
		members := make([]string, len(e.LeafSet))
		for i, ni := range e.LeafSet {
			members[i] = ni.String()
		}
		fmt.Fprintf(w, "[%s]\n", strings.Join(members, " "))
	}
	fmt.Fprintf(w, "%d nodes, %d unreachable, %d inconsistent\n", len(results), failed, inconsistent)
}
