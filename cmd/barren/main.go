// Barren — CLI entry point.
//
// This tool runs a loopback demonstration of the packet engine: two
// managers wired through an in-memory substrate pair, with optional
// network-condition simulation (loss, latency, jitter, reordering) on the
// sending side.
//
// It can be launched interactively (no flags) or non-interactively via
// CLI flags (-count, -size, -loss, -latency, -jitter, -reorder).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	barren "github.com/YuhIcey/Barren-Engine"
	"github.com/YuhIcey/Barren-Engine/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	count := flag.Int("count", 0, "Number of payloads to send (0 = interactive mode)")
	size := flag.Int("size", 256, "Payload size in bytes")
	loss := flag.Float64("loss", 0, "Simulated loss probability, 0~1")
	latency := flag.Int("latency", 0, "Simulated base latency in ms")
	jitter := flag.Int("jitter", 0, "Simulated jitter in ms")
	reorder := flag.Float64("reorder", 0, "Simulated reorder probability, 0~1")
	seed := flag.Int64("seed", 1, "Simulator PRNG seed")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Barren Engine — v%s", version))
	pterm.Println()

	if *count == 0 {
		interactive(ctx, *seed)
		return
	}

	if err := runDemo(ctx, demoParams{
		count:   *count,
		size:    *size,
		loss:    *loss,
		latency: time.Duration(*latency) * time.Millisecond,
		jitter:  time.Duration(*jitter) * time.Millisecond,
		reorder: *reorder,
		seed:    *seed,
	}); err != nil {
		util.LogError("demo failed: %v", err)
		os.Exit(1)
	}
}

func interactive(ctx context.Context, seed int64) {
	countStr, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultValue("1000").
		Show("Payloads to send")
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		util.LogError("invalid count: %s", countStr)
		return
	}

	lossStr, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultValue("0.3").
		Show("Simulated loss (0~1)")
	loss, err := strconv.ParseFloat(lossStr, 64)
	if err != nil || loss < 0 || loss >= 1 {
		util.LogError("invalid loss: %s", lossStr)
		return
	}

	if err := runDemo(ctx, demoParams{
		count:   count,
		size:    256,
		loss:    loss,
		latency: 20 * time.Millisecond,
		jitter:  5 * time.Millisecond,
		reorder: 0.1,
		seed:    seed,
	}); err != nil {
		util.LogError("demo failed: %v", err)
	}
}

type demoParams struct {
	count   int
	size    int
	loss    float64
	latency time.Duration
	jitter  time.Duration
	reorder float64
	seed    int64
}

func runDemo(ctx context.Context, p demoParams) error {
	cfg := barren.DefaultConfig()
	cfg.Compression = true

	sender, err := barren.NewManager(cfg)
	if err != nil {
		return err
	}
	receiver, err := barren.NewManager(cfg)
	if err != nil {
		return err
	}

	received := make(chan []byte, p.count)
	receiver.SetMessageCallback(func(id uint64, payload []byte) {
		received <- payload
	})

	a, b := barren.NewLoopbackPair()
	sim := &barren.SimCondition{
		Loss:    p.loss,
		Latency: p.latency,
		Jitter:  p.jitter,
		Reorder: p.reorder,
		Enabled: true,
	}

	sender.Start()
	receiver.Start()
	defer sender.Stop()
	defer receiver.Stop()

	if _, err := receiver.Accept("demo-peer", b); err != nil {
		return err
	}
	id, err := sender.ConnectOpts("demo-peer", a, barren.DialOptions{Sim: sim, SimSeed: p.seed})
	if err != nil {
		return err
	}

	if err := awaitConnected(ctx, sender, id); err != nil {
		return err
	}
	util.LogInfo("connected, sending %d payloads of %d bytes (loss=%.2f)", p.count, p.size, p.loss)

	qos := barren.QoSReliable
	qos.MaxRetries = 10
	start := time.Now()
	payload := make([]byte, p.size)
	for i := 0; i < p.count; i++ {
		for {
			err := sender.Send(id, payload, qos)
			if err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}

	for got := 0; got < p.count; {
		select {
		case <-received:
			got++
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(30 * time.Second):
			return fmt.Errorf("timed out with %d/%d delivered", got, p.count)
		}
	}
	elapsed := time.Since(start)

	stats, _ := sender.Stats(id)
	rtt, _ := sender.RTT(id)
	pterm.Println()
	pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"delivered", "elapsed", "packets sent", "bytes sent", "lost", "rtt"},
		{
			strconv.Itoa(p.count),
			elapsed.Truncate(time.Millisecond).String(),
			strconv.FormatUint(stats.PacketsSent, 10),
			strconv.FormatUint(stats.BytesSent, 10),
			strconv.FormatUint(stats.PacketsLost, 10),
			rtt.Truncate(time.Microsecond).String(),
		},
	}).Render()
	return nil
}

func awaitConnected(ctx context.Context, mgr *barren.Manager, id uint64) error {
	deadline := time.After(5 * time.Second)
	for {
		if state, ok := mgr.State(id); ok && state == barren.StateConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("handshake did not complete")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
