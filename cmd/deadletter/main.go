package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/constants"
	"github.com/Do1K/b2b-point-service/internal/logger"
	"github.com/Do1K/b2b-point-service/internal/queue"
)

const usage = `usage: deadletter [flags] <command>

commands:
  list          列出已归档的发放任务
  replay <id>   重新投递指定任务
  replay-all    重新投递全部已归档任务

flags:
`

func main() {
	var (
		page     int
		pageSize int
	)
	flag.IntVar(&page, "page", 1, "页码")
	flag.IntVar(&pageSize, "page-size", 20, "每页数量")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if queue.NormalizeDriver(cfg.Queue.Driver) != constants.QueueDriverAsynq {
		stdLog.Fatalf("dead letters of driver %q are kept in topic %s, inspect them with kafka tooling",
			cfg.Queue.Driver, cfg.Queue.Kafka.DeadLetterTopic)
	}

	inspector := queue.NewDeadLetterInspector(&cfg.Queue)
	defer inspector.Close()

	switch flag.Arg(0) {
	case "list":
		items, err := inspector.List(page, pageSize)
		if err != nil {
			stdLog.Fatalf("list dead letters failed: %v", err)
		}
		encoder := json.NewEncoder(os.Stdout)
		for _, item := range items {
			if err := encoder.Encode(item); err != nil {
				stdLog.Fatalf("encode dead letter failed: %v", err)
			}
		}
		stdLog.Printf("%d dead letters on page %d", len(items), page)
	case "replay":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		if err := inspector.Replay(flag.Arg(1)); err != nil {
			stdLog.Fatalf("%v", err)
		}
		stdLog.Printf("replayed %s", flag.Arg(1))
	case "replay-all":
		n, err := inspector.ReplayAll()
		if err != nil {
			stdLog.Fatalf("%v", err)
		}
		stdLog.Printf("replayed %d dead letters", n)
	default:
		flag.Usage()
		os.Exit(2)
	}
}
