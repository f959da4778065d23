// Command gcn-client-m2o is the many-to-one example client: every instance
// periodically unicasts a fixed-size message to one shared destination
// node, mirroring gcnClientManyToOne.h/.cpp.
package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/run"

	"github.com/outofforest/gcn/clientlib"
	"github.com/outofforest/gcn/wire"
)

func main() {
	run.Run("gcn-client-m2o", func(ctx context.Context) error {
		var (
			serverAddr string
			gid        uint64
			destID     uint64
			pushRate   float64
			msgSize    uint32
			stopCount  uint32
		)

		flags := pflag.NewFlagSet("gcn-client-m2o", pflag.ContinueOnError)
		flags.StringVarP(&serverAddr, "server", "s", clientlib.DefaultServerHost+":12345", "local gcnd control-channel address")
		flags.Uint64VarP(&gid, "gid", "g", 0, "group id")
		flags.Uint64VarP(&destID, "dest", "d", 0, "destination node id (required)")
		flags.Float64VarP(&pushRate, "pushrate", "r", 1.0, "message send interval, seconds")
		flags.Uint32VarP(&msgSize, "msgsize", "z", 64, "message payload size, bytes")
		flags.Uint32VarP(&stopCount, "stopcount", "n", 0, "stop after sending this many messages (0 = unbounded)")
		if err := flags.Parse(os.Args[1:]); err != nil {
			return err
		}

		log := logger.Get(ctx)

		if destID == 0 {
			log.Fatal("destination node id is required, use -d/--dest")
		}

		group := wire.GroupId(gid)
		dest := wire.NodeId(destID)

		client, err := clientlib.Start(ctx, clientlib.Config{
			ServerAddr: serverAddr,
			Group:      group,
		}, nil)
		if err != nil {
			return err
		}
		defer client.Stop()

		ticker := time.NewTicker(time.Duration(pushRate * float64(time.Second)))
		defer ticker.Stop()

		payload := make([]byte, msgSize)

		var counter uint32
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := client.SendMessage(group, payload, dest); err != nil {
					log.Error("send failed", zap.Error(err))
					continue
				}
				counter++
				if stopCount > 0 && counter >= stopCount {
					return nil
				}
			}
		}
	})
}
