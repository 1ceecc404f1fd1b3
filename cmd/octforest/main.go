// Command octforest drives the forest engine over the built-in macro
// meshes: construct a forest, repartition, then for each multigrid level
// balance, number nodes, extract the element connectivity and build the
// inter-level interpolation.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/notargets/octforest/comm"
	"github.com/notargets/octforest/forest"
)

/*
The box problem

Bottom surface      Top surface
12-------- 14       13 ------- 15
| \      / |        | \      / |
|  2 -- 3  |        |  6 -- 7  |
|  |    |  |        |  |    |  |
|  0 -- 1  |        |  4 -- 5  |
| /      \ |        | /      \ |
8 -------- 10       9 -------- 11
*/
const boxNpts = 16
const boxNelems = 7

var boxXpts = []float64{
	-.5, -.5, -.5,
	.5, -.5, -.5,
	-.5, .5, -.5,
	.5, .5, -.5,
	-.5, -.5, .5,
	.5, -.5, .5,
	-.5, .5, .5,
	.5, .5, .5,
	-1, -1, -1,
	-1, -1, 1,
	1, -1, -1,
	1, -1, 1,
	-1, 1, -1,
	-1, 1, 1,
	1, 1, -1,
	1, 1, 1,
}

var boxConn = []int{
	0, 1, 2, 3, 4, 5, 6, 7,
	8, 10, 0, 1, 9, 11, 4, 5,
	5, 11, 1, 10, 7, 15, 3, 14,
	7, 15, 3, 14, 6, 13, 2, 12,
	9, 13, 4, 6, 8, 12, 0, 2,
	10, 14, 8, 12, 1, 3, 0, 2,
	4, 5, 6, 7, 9, 11, 13, 15,
}

// The connector problem: a plate-like bracket of 15 blocks.
const connectorNpts = 52
const connectorNelems = 15

var connectorXpts = []float64{
	-0.375, -0.375, -0.125,
	0.375, -0.375, -0.125,
	-0.125, -0.125, -0.125,
	0.125, -0.125, -0.125,
	-0.125, 0.125, -0.125,
	0.125, 0.125, -0.125,
	-0.075, 0.25, -0.125,
	0.075, 0.25, -0.125,
	-0.375, 0.375, -0.125,
	0.375, 0.375, -0.125,
	-0.25, 0.475, -0.125,
	0.25, 0.475, -0.125,
	-0.25, 1.475, -0.125,
	0.25, 1.475, -0.125,
	-0.45, 1.675, -0.125,
	0.45, 1.675, -0.125,
	-0.3125, 1.875, -0.125,
	0.3125, 1.875, -0.125,
	-0.175, 1.825, -0.125,
	0.175, 1.825, -0.125,
	-0.45, 2.425, -0.125,
	0.45, 2.425, -0.125,
	-0.3125, 2.425, -0.125,
	0.3125, 2.425, -0.125,
	-0.175, 2.425, -0.125,
	0.175, 2.425, -0.125,
	-0.375, -0.375, 0.125,
	0.375, -0.375, 0.125,
	-0.125, -0.125, 0.125,
	0.125, -0.125, 0.125,
	-0.125, 0.125, 0.125,
	0.125, 0.125, 0.125,
	-0.075, 0.25, 0.125,
	0.075, 0.25, 0.125,
	-0.375, 0.375, 0.125,
	0.375, 0.375, 0.125,
	-0.25, 0.475, 0.125,
	0.25, 0.475, 0.125,
	-0.25, 1.475, 0.125,
	0.25, 1.475, 0.125,
	-0.45, 1.675, 0.125,
	0.45, 1.675, 0.125,
	-0.3125, 1.875, 0.125,
	0.3125, 1.875, 0.125,
	-0.175, 1.825, 0.125,
	0.175, 1.825, 0.125,
	-0.45, 2.425, 0.125,
	0.45, 2.425, 0.125,
	-0.3125, 2.425, 0.125,
	0.3125, 2.425, 0.125,
	-0.175, 2.425, 0.125,
	0.175, 2.425, 0.125,
}

var connectorConn = []int{
	0, 1, 2, 3, 26, 27, 28, 29,
	0, 2, 8, 4, 26, 28, 34, 30,
	3, 1, 5, 9, 29, 27, 31, 35,
	4, 5, 6, 7, 30, 31, 32, 33,
	6, 7, 10, 11, 32, 33, 36, 37,
	8, 4, 10, 6, 34, 30, 36, 32,
	7, 5, 11, 9, 33, 31, 37, 35,
	10, 11, 12, 13, 36, 37, 38, 39,
	12, 13, 18, 19, 38, 39, 44, 45,
	14, 12, 16, 18, 40, 38, 42, 44,
	13, 15, 19, 17, 39, 41, 45, 43,
	14, 16, 20, 22, 40, 42, 46, 48,
	16, 18, 22, 24, 42, 44, 48, 50,
	19, 17, 25, 23, 45, 43, 51, 49,
	17, 15, 23, 21, 43, 41, 49, 47,
}

type runConfig struct {
	npts      int
	nelems    int
	xpts      []float64
	conn      []int
	partition bool
	order     int
	levels    int
	nrand     int
	ranks     int
}

func main() {
	cfg := runConfig{order: 2, levels: 5, nrand: 50, ranks: 1}

	root := &cobra.Command{
		Use:   "octforest [box|connector] [partition] [order=N]",
		Short: "adaptive octree forest engine driver",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, a := range args {
				switch {
				case a == "box":
					cfg.npts, cfg.nelems = boxNpts, boxNelems
					cfg.xpts, cfg.conn = boxXpts, boxConn
				case a == "connector":
					cfg.npts, cfg.nelems = connectorNpts, connectorNelems
					cfg.xpts, cfg.conn = connectorXpts, connectorConn
				case a == "partition":
					cfg.partition = true
				case strings.HasPrefix(a, "order="):
					n, err := strconv.Atoi(strings.TrimPrefix(a, "order="))
					if err != nil {
						return fmt.Errorf("bad order token %q: %w", a, err)
					}
					if n < 2 {
						n = 2
					}
					if n > 3 {
						n = 3
					}
					cfg.order = n
				default:
					return fmt.Errorf("unknown token %q", a)
				}
			}
			if cfg.conn == nil {
				cfg.npts, cfg.nelems = boxNpts, boxNelems
				cfg.xpts, cfg.conn = boxXpts, boxConn
			}
			return run(cfg)
		},
	}

	root.Flags().IntVar(&cfg.levels, "levels", cfg.levels, "number of multigrid levels")
	root.Flags().IntVar(&cfg.nrand, "nrand", cfg.nrand, "random octants per block")
	root.Flags().IntVar(&cfg.ranks, "ranks", cfg.ranks, "in-process communicator size")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg runConfig) error {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	forest.SetLogger(logger)

	world := comm.NewWorld(cfg.ranks)
	errs := make([]error, cfg.ranks)
	var wg sync.WaitGroup
	for r := 0; r < cfg.ranks; r++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = runRank(world.Rank(rank), cfg, logger)
		}(r)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func runRank(c *comm.Comm, cfg runConfig, logger zerolog.Logger) error {
	rank := c.Rank()

	levels := make([]*forest.Forest, cfg.levels)
	levels[0] = forest.New(c)
	if err := levels[0].SetConnectivity(cfg.npts, cfg.conn, cfg.nelems, cfg.partition); err != nil {
		return err
	}
	levels[0].SetNodeLocations(cfg.xpts)
	if err := levels[0].CreateRandomTrees(cfg.nrand, 0, 5); err != nil {
		return err
	}

	if rank == 0 {
		nblocks, nfaces, nedges, nnodes, faceIDs := levels[0].Connectivity()
		logger.Info().Int("blocks", nblocks).Int("faces", nfaces).
			Int("edges", nedges).Int("nodes", nnodes).Msg("macro mesh")

		var idCount [8]int
		for b := range faceIDs {
			for _, id := range faceIDs[b] {
				if id >= 0 {
					idCount[id]++
				}
			}
		}
		logger.Info().Interface("face_id_count", idCount).Msg("boundary faces")
	}

	if err := levels[0].Repartition(); err != nil {
		return err
	}

	for lvl := 0; lvl < cfg.levels; lvl++ {
		f := levels[lvl]

		tbal := time.Now()
		if err := f.Balance(lvl == 0); err != nil {
			return err
		}
		balTime := time.Since(tbal)

		tnodes := time.Now()
		if err := f.CreateNodes(cfg.order); err != nil {
			return err
		}
		nodeTime := time.Since(tnodes)

		tmesh := time.Now()
		conn, numElements, err := f.CreateMeshConn()
		if err != nil {
			return err
		}
		meshTime := time.Since(tmesh)
		_ = conn

		nodeRange, err := f.OwnedNodeRange()
		if err != nil {
			return err
		}
		numNodes := nodeRange[rank+1] - nodeRange[rank]

		depPtr, depConn, depWeights, err := f.DepNodeConn()
		if err != nil {
			return err
		}
		_, _, _ = depPtr, depConn, depWeights

		if lvl > 0 {
			// The next-finer forest interpolates from this level
			ptr, iconn, weights, err := levels[lvl-1].CreateInterpolation(f)
			if err != nil {
				return err
			}
			_, _, _ = ptr, iconn, weights
		}

		logger.Info().Int("rank", rank).Int("level", lvl).
			Int("elements", numElements).Int("owned_nodes", numNodes).
			Int("dep_nodes", f.NumDepNodes()).
			Dur("balance", balTime).Dur("nodes", nodeTime).Dur("mesh", meshTime).
			Msg("level built")

		if lvl+1 < cfg.levels {
			coarse, err := f.Coarsen()
			if err != nil {
				return err
			}
			levels[lvl+1] = coarse
		}
	}
	return nil
}
