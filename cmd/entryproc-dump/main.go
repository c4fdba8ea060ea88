// entryproc-dump is a small operator tool that polls entryprocd's /dump
// endpoint and prints the per-stage counters as a table, the terminal
// equivalent of the pipeline's dump() output (spec.md §4.8) for an operator
// who only has network access to the daemon.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"
)

type stageSnapshot struct {
	Name      string  `json:"name"`
	Waiting   int     `json:"waiting"`
	Running   int     `json:"running"`
	Done      int     `json:"done"`
	Processed int64   `json:"processed"`
	MsPerOp   float64 `json:"ms_per_op"`
	First     string  `json:"first,omitempty"`
	Last      string  `json:"last,omitempty"`
}

type workerHealth struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CurrentOp    string `json:"current_op,omitempty"`
	CurrentStage string `json:"current_stage,omitempty"`
	Processed    int64  `json:"processed"`
}

type dumpSnapshot struct {
	Stages         []stageSnapshot `json:"stages"`
	AdmissionInUse int             `json:"admission_in_use"`
	Workers        []workerHealth  `json:"workers"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8090", "entryprocd observatory base URL")
	interval := flag.Duration("interval", 0, "repeat every interval (0 = fetch once)")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	for {
		if err := fetchAndPrint(client, *addr); err != nil {
			fmt.Fprintln(os.Stderr, "entryproc-dump:", err)
			os.Exit(1)
		}
		if *interval <= 0 {
			return
		}
		time.Sleep(*interval)
	}
}

func fetchAndPrint(client *http.Client, addr string) error {
	resp, err := client.Get(addr + "/dump")
	if err != nil {
		return fmt.Errorf("fetch dump: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dump endpoint returned %s", resp.Status)
	}

	var snap dumpSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode dump: %w", err)
	}
	printSnapshot(snap)
	return nil
}

func printSnapshot(snap dumpSnapshot) {
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tWAITING\tRUNNING\tDONE\tPROCESSED\tMS/OP\tFIRST\tLAST")
	for _, s := range snap.Stages {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%.2f\t%s\t%s\n",
			s.Name, s.Waiting, s.Running, s.Done, s.Processed, s.MsPerOp, s.First, s.Last)
	}
	w.Flush()
	fmt.Printf("admission_in_use=%d workers=%d\n", snap.AdmissionInUse, len(snap.Workers))
}
