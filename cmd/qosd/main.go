// Command qosd runs the multi-tenant QoS dispatcher as a standalone daemon:
// it wires the composite dispatcher to its ambient and domain collaborators
// (config, logging, Redis snapshotting, etcd leader election, and a
// Kubernetes executor) and drives a small demo workload so the wiring can
// be exercised end to end.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aresqos/qosd/pkg/config"
	"github.com/aresqos/qosd/pkg/dispatch"
	"github.com/aresqos/qosd/pkg/dispatch/dmclock"
	"github.com/aresqos/qosd/pkg/executor"
	"github.com/aresqos/qosd/pkg/logger"
	etcdstore "github.com/aresqos/qosd/pkg/store/etcd"
	redisstore "github.com/aresqos/qosd/pkg/store/redis"
	"github.com/google/uuid"
)

// workItem is the payload carried through the dispatcher: enough to submit
// an executor.Spec once it is dispatched.
type workItem struct {
	traceID string
	client  string
	image   string
	command []string
}

func main() {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		panic(fmt.Sprintf("qosd: invalid configuration: %v", err))
	}

	log := logger.Get()
	log.SetLevelStr(cfg.LogLevel)
	log.Info("starting qosd, system_throughput=%v min_cost=%v", cfg.SystemThroughput, cfg.MinCost)

	snapshots, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Error("redis unavailable, snapshots disabled: %v", err)
		snapshots = nil
	} else {
		defer snapshots.Close()
	}

	exec, err := executor.New(cfg.KubeConfigPath, cfg.Namespace)
	if err != nil {
		log.Error("kubernetes unavailable, dispatched items will not be submitted: %v", err)
		exec = nil
	}

	d := dispatch.New[workItem, string](cfg.SystemThroughput, cfg.MinCost, cfg.MaxTokensPerSub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	leader := runLeaderElection(ctx, cfg, log)
	go runPurgeLoop(ctx, d, snapshots, leader, cfg.PurgeInterval, log)

	seedDemoWorkload(d)

	for !d.Empty() {
		item, tier := d.Dequeue()
		log.Info("dispatched trace=%s client=%s tier=%s", item.traceID, item.client, tier)

		if exec == nil {
			continue
		}
		spec := executor.Spec{
			Name:    fmt.Sprintf("qosd-%s", item.traceID),
			Client:  item.client,
			Image:   item.image,
			Command: item.command,
		}
		if _, err := exec.Submit(ctx, spec); err != nil {
			log.Warn("failed to submit job for trace=%s: %v", item.traceID, err)
		}
	}

	log.Info("qosd drained its backlog, exiting")
}

// runLeaderElection campaigns for leadership in the background and returns
// a channel that is closed once this replica becomes leader. If etcd is
// unreachable, it degrades to "always leader" so a single-replica
// deployment still runs its purge ticker.
func runLeaderElection(ctx context.Context, cfg *config.Config, log *logger.Logger) <-chan struct{} {
	led := make(chan struct{})

	cli, err := etcdstore.New(cfg.EtcdEndpoints, cfg.EtcdDialTimeout)
	if err != nil {
		log.Error("etcd unavailable, assuming sole leadership: %v", err)
		close(led)
		return led
	}

	go func() {
		defer cli.Close()
		elector, err := cli.NewElector("/qosd/leader", 15)
		if err != nil {
			log.Error("failed to open election session, assuming sole leadership: %v", err)
			close(led)
			return
		}
		if err := elector.Campaign(ctx, uuid.NewString()); err != nil {
			log.Error("campaign failed, assuming sole leadership: %v", err)
			close(led)
			return
		}
		close(led)
		<-elector.Done()
	}()

	return led
}

// runPurgeLoop reclaims idle dmClock clients on a ticker, only once this
// replica holds leadership, and snapshots every active client's tag state
// to Redis right after each purge (spec.md §4.2, SPEC_FULL §11).
func runPurgeLoop(ctx context.Context, d *dispatch.Dispatcher[workItem, string], snapshots *redisstore.Client, leader <-chan struct{}, interval time.Duration, log *logger.Logger) {
	select {
	case <-leader:
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.PurgeIdleDmClock()
			log.Debug("purged idle dmclock clients")

			if snapshots == nil {
				continue
			}
			for _, snap := range d.Snapshot() {
				err := snapshots.PutSnapshot(ctx, snap.Client, "tag", snap, 5*time.Minute)
				if err != nil {
					log.Warn("failed to snapshot client %s: %v", snap.Client, err)
				}
			}
		}
	}
}

// seedDemoWorkload enqueues a handful of requests across all three tiers so
// the wiring can be observed without an external producer.
func seedDemoWorkload(d *dispatch.Dispatcher[workItem, string]) {
	d.EnqueueStrict("ops", 0, workItem{traceID: uuid.NewString(), client: "ops", image: "qosd/healthcheck:latest"})

	d.EnqueueDmClock("tenant-a", dmclock.SLO{Reserve: 100, Prop: 1}, 1,
		workItem{traceID: uuid.NewString(), client: "tenant-a", image: "tenant-a/batch:latest", command: []string{"run"}})
	d.EnqueueDmClock("tenant-b", dmclock.SLO{Reserve: 50, Prop: 1}, 1,
		workItem{traceID: uuid.NewString(), client: "tenant-b", image: "tenant-b/batch:latest", command: []string{"run"}})

	d.EnqueueTokenBucket("bulk-1", 1, 5, workItem{traceID: uuid.NewString(), client: "bulk-1", image: "bulk/etl:latest"})
	d.EnqueueTokenBucket("bulk-2", 2, 3, workItem{traceID: uuid.NewString(), client: "bulk-2", image: "bulk/etl:latest"})
}
