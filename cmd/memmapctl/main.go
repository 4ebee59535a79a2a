// memmapctl boots a MemMap against a synthetic machine description and
// prints its resulting page accounting — a smoke-test harness rather than
// anything that runs on real hardware, the same role the teacher's own
// test kernels play against biscuit's mem package.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"memmap"
	"memmap/buddy"
	"memmap/config"
	"memmap/diag"
	"memmap/ioprot"
	"memmap/mtrr"
	"memmap/numa"
	"memmap/ramtest"
	"memmap/sched"
	"memmap/vmap"

	"github.com/sirupsen/logrus"
)

func main() {
	gbFlag := flag.Uint64("gb", 8, "synthetic machine size in gigabytes")
	nodesFlag := flag.Int("nodes", 2, "number of synthetic NUMA nodes")
	profileFlag := flag.String("profile", "", "optional path to write a pprof page-accounting profile")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*gbFlag, *nodesFlag, *profileFlag, log); err != nil {
		log.WithError(err).Fatal("memmapctl failed")
	}
}

func run(gb uint64, numNodes int, profilePath string, log *logrus.Logger) error {
	totalPages := gb << 30 / config.PageSize
	topo := numa.NewTable(numNodes)
	perNode := totalPages / uint64(numNodes)
	for n := 0; n < numNodes; n++ {
		start := uint64(n) * perNode
		end := start + perNode - 1
		if n == numNodes-1 {
			end = totalPages - 1
		}
		topo.Add(n, start, end)
	}

	bios := []buddy.Range{{Start: 0, End: totalPages - 1}}
	cfg := config.Default()

	ctx, err := memmap.BeginBoot(cfg, bios, topo, mtrr.AllCachable{}, ramtest.AlwaysGood{}, log, 0, 4096, false)
	if err != nil {
		return err
	}

	mapper := vmap.NewScopedMapper(config.PageSize, 1<<16)
	bud := buddy.NewFake()
	io := ioprot.New()
	consumers := []memmap.CriticalConsumer{io.Consumer(mapper)}

	if err := ctx.FinishBoot(consumers, bud, mapper, sched.NopScheduler{}, io); err != nil {
		return err
	}

	mpn, err := ctx.AllocKernelPages(memmap.AllocRequest{NumPages: 1, Color: memmap.AnyColor})
	if err != nil {
		return err
	}
	fmt.Printf("allocated kernel page at mpn=%d\n", mpn)

	snap := ctx.Stats()
	fmt.Print(snap.String())

	if profilePath != "" {
		f, err := os.Create(profilePath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := diag.WriteProfile(f, snap, time.Now()); err != nil {
			return err
		}
		fmt.Printf("wrote profile to %s\n", profilePath)
	}
	return nil
}
