// Command gcn-client is a generic example application on top of clientlib:
// it can listen on a group, periodically push fixed-size messages, or both,
// mirroring gcnClient.h/gcnClient.cpp's standalone test harness.
package main

import (
	"context"
	"fmt"
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
	run.Run("gcn-client", func(ctx context.Context) error {
		var (
			serverAddr   string
			gid          uint64
			listen       bool
			send         bool
			srcTTL       uint32
			announceRate float64
			pushRate     float64
			msgSize      uint32
			stopCount    uint32
			destNodeID   uint64
		)

		flags := pflag.NewFlagSet("gcn-client", pflag.ContinueOnError)
		flags.StringVarP(&serverAddr, "server", "s", clientlib.DefaultServerHost+":12345", "local gcnd control-channel address")
		flags.Uint64VarP(&gid, "gid", "g", 0, "group id")
		flags.BoolVarP(&listen, "listen", "L", true, "pull and print received messages")
		flags.BoolVarP(&send, "send", "S", false, "advertise and periodically push messages")
		flags.Uint32VarP(&srcTTL, "srcttl", "t", clientlib.DefaultSrcTTL, "advertise/data TTL when sending")
		flags.Float64VarP(&announceRate, "announcerate", "a", clientlib.DefaultAnnounceRate.Seconds(), "advertise interval, seconds")
		flags.Float64VarP(&pushRate, "pushrate", "r", 1.0, "message send interval, seconds")
		flags.Uint32VarP(&msgSize, "msgsize", "z", 64, "message payload size, bytes")
		flags.Uint32VarP(&stopCount, "stopcount", "n", 0, "stop after sending this many messages (0 = unbounded)")
		flags.Uint64VarP(&destNodeID, "dest", "d", 0, "unicast destination node id (0 = broadcast)")
		if err := flags.Parse(os.Args[1:]); err != nil {
			return err
		}

		log := logger.Get(ctx)
		group := wire.GroupId(gid)

		client, err := clientlib.Start(ctx, clientlib.Config{
			ServerAddr:   serverAddr,
			Group:        group,
			Pull:         listen,
			Advertise:    send,
			SrcTTL:       srcTTL,
			AnnounceRate: time.Duration(announceRate * float64(time.Second)),
		}, func(srcNode wire.NodeId, payload []byte) {
			fmt.Printf("recv group=%d from=node%03d size=%d\n", group, srcNode, len(payload))
		})
		if err != nil {
			return err
		}
		defer client.Stop()

		if !send {
			<-ctx.Done()
			return ctx.Err()
		}

		ticker := time.NewTicker(time.Duration(pushRate * float64(time.Second)))
		defer ticker.Stop()

		payload := make([]byte, msgSize)

		var sent uint32
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := client.SendMessage(group, payload, wire.NodeId(destNodeID)); err != nil {
					log.Error("send failed", zap.Error(err))
					continue
				}
				sent++
				if stopCount > 0 && sent >= stopCount {
					return nil
				}
			}
		}
	})
}
