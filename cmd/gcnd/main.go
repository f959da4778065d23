// Command gcnd runs one Group Centric Networking node: the tree control
// plane, data plane, and local client endpoint, reachable over a TCP mesh
// link to its configured peers. Flag set mirrors gcn.cpp's getopt_long
// table.
package main

import (
	"context"
	"os"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/run"

	"github.com/outofforest/gcn"
	"github.com/outofforest/gcn/link/meshlink"
	"github.com/outofforest/gcn/trace"
	"github.com/outofforest/gcn/wire"
)

func main() {
	run.Run("gcnd", func(ctx context.Context) error {
		var (
			nodeID              uint64
			listenAddr          string
			localAddr           string
			peers               []string
			dataFile            string
			hashExpire          float64
			hashInterval        float64
			pullExpire          float64
			pullInterval        float64
			pathExpire          float64
			pathInterval        float64
			mcastEthernetHeader bool
			alwaysRebroadcast   bool
		)

		flags := pflag.NewFlagSet("gcnd", pflag.ContinueOnError)
		flags.Uint64VarP(&nodeID, "id", "i", 0, "node id (required)")
		flags.StringVarP(&listenAddr, "listen", "l", ":7654", "mesh link listen address")
		flags.StringVarP(&localAddr, "local", "L", "127.0.0.1:12345", "local control-channel listen address")
		flags.StringSliceVarP(&peers, "devices", "d", nil, "comma-separated mesh peer addresses to dial")
		flags.StringVarP(&dataFile, "datafile", "f", "", "DATAITEM trace output path")
		flags.Float64VarP(&hashExpire, "hashexpire", "e", gcn.DefaultHashExpire.Seconds(), "fingerprint table expiry, seconds")
		flags.Float64VarP(&hashInterval, "hashclean", "c", gcn.DefaultHashInterval.Seconds(), "fingerprint table sweep interval, seconds")
		flags.Float64VarP(&pullExpire, "pullexpire", "p", gcn.DefaultPullExpire.Seconds(), "remote subscriber expiry, seconds")
		flags.Float64VarP(&pullInterval, "pullclean", "t", gcn.DefaultPullInterval.Seconds(), "remote subscriber sweep interval, seconds")
		flags.Float64VarP(&pathExpire, "pathexpire", "r", gcn.DefaultPathExpire.Seconds(), "reverse-path table expiry, seconds")
		flags.Float64VarP(&pathInterval, "pathclean", "x", gcn.DefaultPathInterval.Seconds(), "reverse-path table sweep interval, seconds")
		flags.BoolVarP(&mcastEthernetHeader, "mcastethernetheader", "m", false, "recorded in the node config; the mesh link does not use it")
		flags.BoolVarP(&alwaysRebroadcast, "alwaysrebroadcast", "b", false, "as a group participant, rebroadcast new ADVERTISE/ACK-mode DATA even without a registered downstream subscriber")
		if err := flags.Parse(os.Args[1:]); err != nil {
			return err
		}

		log := logger.Get(ctx)

		if nodeID == 0 {
			log.Fatal("node id is required, use -i/--id")
		}

		config := gcn.Config{
			NodeID:              wire.NodeId(nodeID),
			LocalAddr:           localAddr,
			DataFile:            dataFile,
			HashExpire:          floatSeconds(hashExpire),
			HashInterval:        floatSeconds(hashInterval),
			PullExpire:          floatSeconds(pullExpire),
			PullInterval:        floatSeconds(pullInterval),
			PathExpire:          floatSeconds(pathExpire),
			PathInterval:        floatSeconds(pathInterval),
			McastEthernetHeader: mcastEthernetHeader,
			AlwaysRebroadcast:   alwaysRebroadcast,
		}

		tr, err := trace.Open(dataFile)
		if err != nil {
			return err
		}
		defer tr.Close()

		lk, err := meshlink.New(meshlink.Config{
			Listen: listenAddr,
			Peers:  lo.Uniq(peers),
		})
		if err != nil {
			return err
		}

		svc := gcn.New(config, lk, tr)

		log.Info("starting gcn node",
			zap.Uint64("nodeID", nodeID),
			zap.String("listen", listenAddr),
			zap.String("local", localAddr),
			zap.Strings("peers", peers))

		return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
			spawn("link", parallel.Fail, lk.Run)
			spawn("service", parallel.Fail, svc.Run)
			spawn("stats", parallel.Fail, func(ctx context.Context) error {
				return logStats(ctx, svc)
			})
			return nil
		})
	})
}

func floatSeconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// logStats periodically logs the node's operational counters, the Go
// analogue of gcnService's own stat-print timer.
func logStats(ctx context.Context, svc *gcn.Service) error {
	log := logger.Get(ctx)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st, err := svc.Stats(ctx)
			if err != nil {
				return err
			}
			log.Info("gcn stats", zap.String("counters", st.String()))
		}
	}
}
