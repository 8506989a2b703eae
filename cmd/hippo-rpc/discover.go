package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"hippo4j-rpc/logger"
	"hippo4j-rpc/naming"
)

const etcdDialTimeout = 5 * time.Second

func namingFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:   "etcd",
			Usage:  "comma separated etcd endpoints holding published service addresses",
			EnvVar: "HIPPO_RPC_ETCD",
		},
		cli.StringFlag{
			Name:   "service",
			Value:  "calculator",
			Usage:  "service name the endpoint is published under",
			EnvVar: "HIPPO_RPC_SERVICE",
		},
	}
}

func newRegistry(endpoints string) (*naming.EtcdRegistry, error) {
	return naming.NewEtcdRegistry(strings.Split(endpoints, ","), etcdDialTimeout)
}

// pickAddr returns the first published endpoint. There is no balancing.
func pickAddr(service string, instances []naming.ServiceInstance) (string, error) {
	for _, in := range instances {
		if in.Addr != "" {
			return in.Addr, nil
		}
	}
	return "", fmt.Errorf("no endpoint published for service %q", service)
}

// targetAddr is --addr, or the first endpoint published for --service when --etcd is set.
func targetAddr(c *cli.Context) (string, error) {
	endpoints := c.String("etcd")
	if endpoints == "" {
		return c.String("addr"), nil
	}
	reg, err := newRegistry(endpoints)
	if err != nil {
		return "", err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), etcdDialTimeout)
	defer cancel()
	instances, err := reg.Discover(ctx, c.String("service"))
	if err != nil {
		return "", fmt.Errorf("discover %s: %w", c.String("service"), err)
	}
	addr, err := pickAddr(c.String("service"), instances)
	if err != nil {
		return "", err
	}
	logger.Named("naming").Debug("discovered endpoint", zap.String("service", c.String("service")), zap.String("addr", addr))
	return addr, nil
}

func watchCommand(c *cli.Context) error {
	endpoints := c.String("etcd")
	if endpoints == "" {
		return cli.NewExitError("watch needs --etcd", 2)
	}
	reg, err := newRegistry(endpoints)
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service := c.String("service")
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return err
	}
	printInstances(service, instances)
	for instances := range reg.Watch(ctx, service) {
		printInstances(service, instances)
	}
	return nil
}

func printInstances(service string, instances []naming.ServiceInstance) {
	addrs := make([]string, 0, len(instances))
	for _, in := range instances {
		addrs = append(addrs, in.Addr)
	}
	fmt.Fprintf(os.Stdout, "%s: [%s]\n", service, strings.Join(addrs, " "))
}
