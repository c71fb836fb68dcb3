// Command devicesim runs a fleet of simulated phones that submit
// snapshots to a devicepulse server.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nicktill/devicepulse/pkg/client"
)

func main() {
	fs := pflag.NewFlagSet("devicesim", pflag.ContinueOnError)
	endpoint := fs.String("endpoint", client.DefaultEndpoint, "devicepulse server URL")
	apiKey := fs.String("api-key", "", "bearer token sent with each snapshot")
	devices := fs.Int("devices", 5, "number of simulated devices")
	every := fs.Duration("interval", 10*time.Second, "time between snapshots per device")
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("Invalid flags: %v", err)
	}
	if *devices <= 0 || *every <= 0 {
		log.Fatal("--devices and --interval must be positive")
	}

	c, err := client.New(client.Config{Endpoint: *endpoint, APIKey: *apiKey})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := client.NewQueue(c, client.QueueConfig{FlushEvery: *every / 2})
	queue.Start(ctx)

	fleet := make([]*device, *devices)
	for i := range fleet {
		fleet[i] = newDevice(i, *seed)
	}

	go simulate(ctx, fleet, queue, *every)

	log.Printf("Simulating %d devices against %s (one snapshot each every %v)", *devices, *endpoint, *every)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down simulator...")
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := queue.Stop(stopCtx); err != nil {
		log.Printf("Final flush failed, %d snapshots not sent: %v", queue.Pending(), err)
	}
	log.Printf("Simulator exited (%d snapshots dropped)", queue.Dropped())
}

// simulate enqueues one snapshot per device every interval
func simulate(ctx context.Context, fleet []*device, queue *client.Queue, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	rounds := 0
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, d := range fleet {
				queue.Add(client.Snapshot(d.id, now, d.tick()))
			}
			rounds++
			if rounds%10 == 0 {
				log.Printf("Round %d: %d pending, %d dropped", rounds, queue.Pending(), queue.Dropped())
			}
		}
	}
}
