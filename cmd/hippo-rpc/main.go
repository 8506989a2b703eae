package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hippo4j-rpc/client"
	"hippo4j-rpc/codec"
	"hippo4j-rpc/handler"
	"hippo4j-rpc/logger"
	"hippo4j-rpc/middleware"
	"hippo4j-rpc/proxy"
	"hippo4j-rpc/registry"
	"hippo4j-rpc/server"
	"hippo4j-rpc/transport"
)

// addKey is the bound-function key served next to the reflective Calculator.
const addKey = "calc.add"

func main() {
	app := cli.NewApp()
	app.Name = "hippo-rpc"
	app.Usage = "serve and call a demo hippo4j-rpc calculator"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "log-level",
			Value:  "info",
			Usage:  "debug, info, warn or error",
			EnvVar: "HIPPO_RPC_LOG_LEVEL",
		},
		cli.BoolFlag{
			Name:   "dev",
			Usage:  "human readable development logging",
			EnvVar: "HIPPO_RPC_DEV",
		},
	}
	app.Before = func(c *cli.Context) error {
		l, err := logger.New(c.GlobalString("log-level"), c.GlobalBool("dev"))
		if err != nil {
			return err
		}
		logger.Set(l)
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "Bind a server exposing Calculator and " + addKey,
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:   "port, p",
					Usage:  "port to bind, 0 picks a free one",
					EnvVar: "HIPPO_RPC_PORT",
				},
				cli.Float64Flag{
					Name:   "rate",
					Usage:  "requests per second accepted, 0 disables limiting",
					EnvVar: "HIPPO_RPC_RATE",
				},
				cli.DurationFlag{
					Name:   "handler-timeout",
					Usage:  "fail requests whose handler runs longer, 0 disables it",
					EnvVar: "HIPPO_RPC_HANDLER_TIMEOUT",
				},
				cli.DurationFlag{
					Name:   "drain",
					Value:  server.DefaultDrainTimeout,
					Usage:  "how long close waits for in-flight requests",
					EnvVar: "HIPPO_RPC_DRAIN",
				},
				cli.StringFlag{
					Name:   "advertise-host",
					Value:  "127.0.0.1",
					Usage:  "host published next to the bound port",
					EnvVar: "HIPPO_RPC_ADVERTISE_HOST",
				},
			}, namingFlags()...),
			Action: serveCommand,
		},
		{
			Name:      "call",
			Usage:     "Call the calculator once",
			ArgsUsage: "add|div|sum A B",
			Flags:     clientFlags(),
			Action:    callCommand,
		},
		{
			Name:  "bench",
			Usage: "Issue many concurrent calls and report throughput",
			Flags: append(clientFlags(),
				cli.IntFlag{
					Name:  "n",
					Value: 10000,
					Usage: "total number of calls",
				},
				cli.IntFlag{
					Name:  "c",
					Value: 64,
					Usage: "concurrent callers",
				},
			),
			Action: benchCommand,
		},
		{
			Name:   "watch",
			Usage:  "Print the endpoints published for a service as they change",
			Flags:  namingFlags(),
			Action: watchCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clientFlags() []cli.Flag {
	return append([]cli.Flag{
		cli.StringFlag{
			Name:   "addr, a",
			Value:  "127.0.0.1:8080",
			Usage:  "server address",
			EnvVar: "HIPPO_RPC_ADDR",
		},
		cli.DurationFlag{
			Name:   "timeout",
			Value:  client.DefaultTimeout,
			Usage:  "response timeout",
			EnvVar: "HIPPO_RPC_TIMEOUT",
		},
		cli.IntFlag{
			Name:   "pool",
			Value:  transport.DefaultMaxConns,
			Usage:  "connections per address",
			EnvVar: "HIPPO_RPC_POOL",
		},
		cli.StringFlag{
			Name:   "codec",
			Value:  "json",
			Usage:  "json or gob",
			EnvVar: "HIPPO_RPC_CODEC",
		},
	}, namingFlags()...)
}

func serveCommand(c *cli.Context) error {
	log := logger.Named("hippo-rpc")

	var mws []middleware.Middleware
	mws = append(mws, middleware.LoggingMiddleware(logger.Named("access")))
	if r := c.Float64("rate"); r > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(r, int(r)+1))
	}
	if d := c.Duration("handler-timeout"); d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}

	instance := registry.NewDefaultInstance()
	conn := server.NewSimpleServerConnection(nil, server.WithDrainTimeout(c.Duration("drain")))
	opts := []server.SupportOption{
		server.WithConnection(conn),
		server.WithInstance(instance),
		server.WithSupportLogger(log),
	}
	if endpoints := c.String("etcd"); endpoints != "" {
		reg, err := newRegistry(endpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		opts = append(opts, server.WithNaming(reg, c.String("service"), c.String("advertise-host")))
	}

	sup := server.NewSupport(server.Port(c.Int("port")), opts...)
	if err := server.RegisterService[Calculator](sup, calculator{}); err != nil {
		return err
	}

	// Both dispatch styles share one chain: the bound key first, reflective calls after.
	conn.AddFirst(addKey, handler.Bind2(addKey, calculator{}.Add, handler.WithMiddleware(mws...)))
	take, err := handler.NewServerTakeHandler(sup.Classes(), instance, handler.WithMiddleware(mws...))
	if err != nil {
		return err
	}
	conn.AddLast("server-take", take)

	if err := sup.Bind(); err != nil {
		return err
	}
	log.Info("serving", zap.Int("port", sup.Port()),
		zap.String("class", registry.TypeName(reflect.TypeFor[Calculator]())))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return sup.Close()
}

func newClients(c *cli.Context) (*client.Support, error) {
	ct, err := codec.ParseType(c.String("codec"))
	if err != nil {
		return nil, err
	}
	return client.NewSupport(
		client.WithTimeout(c.Duration("timeout")),
		client.WithPoolOptions(transport.WithMaxConns(c.Int("pool")), transport.WithCodec(ct)),
	), nil
}

func intArgs(c *cli.Context) (int, int, error) {
	if len(c.Args()) != 3 {
		return 0, 0, cli.NewExitError("usage: "+c.Command.ArgsUsage, 2)
	}
	a, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(c.Args().Get(2))
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func callCommand(c *cli.Context) error {
	a, b, err := intArgs(c)
	if err != nil {
		return err
	}
	addr, err := targetAddr(c)
	if err != nil {
		return err
	}
	clients, err := newClients(c)
	if err != nil {
		return err
	}
	pc := proxy.NewContext(clients)
	defer pc.Close()

	var out int
	switch op := c.Args().First(); op {
	case "sum":
		out, err = client.Call[int](context.Background(), clients, addr, addKey, a, b)
	case "add", "div":
		calc, perr := proxy.Get(pc, addr, newCalculatorStub)
		if perr != nil {
			return perr
		}
		if op == "add" {
			out, err = calc.Add(a, b)
		} else {
			out, err = calc.Div(a, b)
		}
	default:
		return cli.NewExitError("unknown operation "+op, 2)
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func benchCommand(c *cli.Context) error {
	log := logger.Named("bench")
	addr, err := targetAddr(c)
	if err != nil {
		return err
	}
	clients, err := newClients(c)
	if err != nil {
		return err
	}
	pc := proxy.NewContext(clients)
	defer pc.Close()

	calc, err := proxy.Get(pc, addr, newCalculatorStub)
	if err != nil {
		return err
	}

	n := c.Int("n")
	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(c.Int("c"))

	start := time.Now()
	for i := 0; i < n; i++ {
		g.Go(func() error {
			sum, err := calc.Add(i, 1)
			if err != nil || sum != i+1 {
				failed.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	elapsed := time.Since(start)

	log.Info("bench finished",
		zap.Int("calls", n),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("qps", float64(n)/elapsed.Seconds()))
	return nil
}
