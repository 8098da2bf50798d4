package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/r3e-network/dbft"
	"github.com/r3e-network/dbft/consensus"
	"github.com/r3e-network/dbft/crypto"
	"github.com/r3e-network/dbft/internal/profiling"
	"github.com/r3e-network/dbft/ledger"
	"github.com/r3e-network/dbft/logging"
	"github.com/r3e-network/dbft/network"
	"github.com/r3e-network/dbft/stats"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a local consensus committee.",
	Long: `Run starts a committee of validators inside this process, connected by an
in-memory transport, and stops once the requested number of blocks committed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocal()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Uint32("nodes", 4, "number of validators in the committee")
	runCmd.Flags().Int("blocks", 10, "number of blocks to commit before stopping")
	runCmd.Flags().Duration("base-timeout", 100*time.Millisecond, "view timeout before backoff")
	runCmd.Flags().Duration("max-timeout", time.Minute, "upper bound on the view timeout")
	runCmd.Flags().Duration("timeout", 30*time.Second, "bail out if the committee has not finished by then")

	runCmd.Flags().String("cpu-profile", "", "file to save the cpu profile to")
	runCmd.Flags().String("mem-profile", "", "file to save the memory profile to")
	runCmd.Flags().String("trace", "", "file to save the execution trace to")
	runCmd.Flags().String("fgprof-profile", "", "file to save the wall-clock profile to")

	cobra.CheckErr(viper.BindPFlags(runCmd.Flags()))
}

func runLocal() error {
	logger := logging.New("cli")

	stopProfilers, err := profiling.Start(profiling.Options{
		CPUProfile:  viper.GetString("cpu-profile"),
		MemProfile:  viper.GetString("mem-profile"),
		Trace:       viper.GetString("trace"),
		FullProfile: viper.GetString("fgprof-profile"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if perr := stopProfilers(); perr != nil {
			logger.Errorf("failed to stop profilers: %v", perr)
		}
	}()

	nodes := viper.GetUint32("nodes")
	blocks := viper.GetInt("blocks")

	signers, verifier, err := crypto.GenerateCommittee(nodes)
	if err != nil {
		return err
	}

	bus := network.NewLocal()
	engines := make([]*consensus.Engine, nodes)
	stores := make([]*ledger.MemoryStore, nodes)
	recorders := make([]*stats.Recorder, nodes)

	for i := uint32(0); i < nodes; i++ {
		cfg := dbft.DefaultConfig()
		cfg.NodeIndex = dbft.ID(i)
		cfg.NodeCount = nodes
		cfg.BaseTimeout = viper.GetDuration("base-timeout")
		cfg.MaxTimeout = viper.GetDuration("max-timeout")

		stores[i] = ledger.NewMemoryStore()
		recorders[i] = stats.NewRecorder()
		engines[i], err = consensus.New(cfg, bus.Endpoint(cfg.NodeIndex), stores[i], signers[i], verifier,
			consensus.WithEventSink(recorders[i].Record),
		)
		if err != nil {
			return err
		}
	}
	// attach all handlers before any engine starts proposing
	for i := uint32(0); i < nodes; i++ {
		bus.Attach(dbft.ID(i), engines[i])
	}

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()

	var wg sync.WaitGroup
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if rerr := engines[i].Run(ctx); rerr != nil {
				logger.Errorf("engine %d: %v", i, rerr)
			}
		}(i)
	}

	start := time.Now()
	waitForBlocks(ctx, stores[0], blocks)
	elapsed := time.Since(start)
	cancel()
	wg.Wait()

	if stores[0].Len() < blocks {
		return fmt.Errorf("committed only %d of %d blocks before the deadline", stores[0].Len(), blocks)
	}

	fmt.Printf("committed %d blocks in %s\n", stores[0].Len(), elapsed.Round(time.Millisecond))
	fmt.Println("seat  blocks  viewchanges  timeouts  sent  received")
	for i, r := range recorders {
		s := r.Snapshot()
		fmt.Printf("%4d  %6d  %11d  %8d  %4d  %8d\n",
			i, s.BlocksCommitted, s.ViewChanges, s.Timeouts, s.MessagesSent, s.MessagesReceived)
	}
	return nil
}

func waitForBlocks(ctx context.Context, store *ledger.MemoryStore, blocks int) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if store.Len() >= blocks {
				return
			}
		}
	}
}
