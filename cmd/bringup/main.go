// Command bringup boots an interrupt controller on a simulated machine and
// exercises it: wired lines, IPI channels, and timer FIQs, with optional
// keyboard control, soak rounds, latency tracing, and device tree output.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	aic "github.com/tinyrange/aic"
	"github.com/tinyrange/aic/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bringup: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "YAML machine description (default: a t8103-like board)")
	verbose := fs.Bool("verbose", false, "Enable debug logging")
	dtbPath := fs.String("dtb", "", "Write the board's device tree blob to this path")
	soak := fs.Int("soak", 0, "Deliver this many rounds of interrupts instead of the demo")
	interactive := fs.Bool("interactive", false, "Drive the board from the keyboard instead of the demo")
	tracePath := fs.String("trace", "", "Record delivery latencies to this path")
	dumpPath := fs.String("dump", "", "Summarize a latency trace file and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *dumpPath != "" {
		return dump(*dumpPath)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	b, err := boot(cfg, log)
	if err != nil {
		return err
	}
	log.Info("bringup: board is up", "controller", b.c.String(), "devices", len(b.devices))

	if *dtbPath != "" {
		blob, err := aic.BuildFDT(b.deviceTree())
		if err != nil {
			return fmt.Errorf("build device tree: %w", err)
		}
		if err := os.WriteFile(*dtbPath, blob, 0644); err != nil {
			return fmt.Errorf("write device tree: %w", err)
		}
		log.Info("bringup: wrote device tree", "path", *dtbPath, "bytes", len(blob))
	}

	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			return fmt.Errorf("create trace file: %w", err)
		}
		defer f.Close()
		stream, err := trace.Open(f)
		if err != nil {
			return err
		}
		defer stream.Close()
		log.Info("bringup: tracing latencies", "path", *tracePath)
	}

	switch {
	case *interactive:
		err = b.runInteractive()
	case *soak > 0:
		err = b.runSoak(*soak)
	default:
		err = b.runDemo()
	}
	if err != nil {
		return err
	}

	b.printStats()
	return nil
}

// runDemo delivers one interrupt of every kind, raising each wired line
// once from its wire and once through the software set register, and
// checks the counts.
func (b *board) runDemo() error {
	for _, dev := range b.devices {
		b.raise(dev)
		slog.Debug("bringup: delivered", "device", dev.name, "line", dev.line, "cpu", dev.cpu)
	}
	for _, dev := range b.devices {
		if err := b.trigger(dev); err != nil {
			return fmt.Errorf("soft trigger %s: %w", dev.name, err)
		}
		slog.Debug("bringup: soft-triggered", "device", dev.name, "line", dev.line)
	}
	for cpu := 0; cpu < b.cfg.CPUs; cpu++ {
		if err := b.broadcast(cpu); err != nil {
			return err
		}
	}
	b.fireTimer(0)

	for _, dev := range b.devices {
		if dev.count != 2 {
			return fmt.Errorf("device %s delivered %d times, want 2", dev.name, dev.count)
		}
	}
	if want := b.cfg.CPUs * (b.cfg.CPUs - 1); b.ipiCount != want {
		return fmt.Errorf("IPI deliveries = %d, want %d", b.ipiCount, want)
	}
	if b.timerCount != 1 {
		return fmt.Errorf("timer deliveries = %d, want 1", b.timerCount)
	}
	return nil
}

// runSoak hammers every source for the requested number of rounds.
func (b *board) runSoak(rounds int) error {
	bar := progressbar.Default(int64(rounds), "soak")
	for i := 0; i < rounds; i++ {
		for _, dev := range b.devices {
			b.raise(dev)
		}
		if err := b.broadcast(i % b.cfg.CPUs); err != nil {
			return err
		}
		b.fireTimer(i % b.cfg.CPUs)
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	for _, dev := range b.devices {
		if dev.count != rounds {
			return fmt.Errorf("device %s delivered %d times, want %d", dev.name, dev.count, rounds)
		}
	}
	return nil
}

// runInteractive drives the board from a raw console.
func (b *board) runInteractive() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive mode needs a terminal on stdin")
	}
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("enable raw mode: %w", err)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	fmt.Printf("%s\r\n", b.c)
	fmt.Printf("keys: 1-%d raise a device line, i broadcast an IPI, t fire the timer,\r\n", len(b.devices))
	fmt.Printf("      s print counters, q quit\r\n")

	var buf [1]byte
	for {
		if _, err := os.Stdin.Read(buf[:]); err != nil {
			return err
		}
		switch c := buf[0]; {
		case c >= '1' && int(c-'1') < len(b.devices):
			dev := b.devices[c-'1']
			b.raise(dev)
			fmt.Printf("%s line %d delivered on CPU %d, count %d\r\n",
				dev.name, dev.line, dev.desc.EffectiveAffinity().First(), dev.count)
		case c == 'i':
			if err := b.broadcast(0); err != nil {
				return err
			}
			fmt.Printf("IPI broadcast from CPU 0, %d received so far\r\n", b.ipiCount)
		case c == 't':
			b.fireTimer(0)
			fmt.Printf("timer fired on CPU 0, count %d\r\n", b.timerCount)
		case c == 's':
			st := b.c.Stats()
			fmt.Printf("events=%d hw=%d ipi-sent=%d ipi-recv=%d fiq-polls=%d spurious=%d\r\n",
				st.Events, st.HW, st.IPISent, st.IPIReceived, st.FIQPolls, st.Spurious)
		case c == 'q', c == 3: // Ctrl-C
			return nil
		}
	}
}

// printStats reports per-source delivery counts and the controller's own
// counters.
func (b *board) printStats() {
	for _, dev := range b.devices {
		fmt.Printf("% 8s line=% 4d cpu=%d delivered=% 8d\n", dev.name, dev.line, dev.cpu, dev.count)
	}
	fmt.Printf("% 8s channel=0 delivered=% 8d (desc count %d)\n", "ipi", b.ipiCount, b.ipiDesc.Count())
	fmt.Printf("% 8s source=%d delivered=% 8d (desc count %d)\n", "timer", aic.TimerGuestVirt, b.timerCount, b.timerDesc.Count())

	st := b.c.Stats()
	fmt.Printf("events=%d hw=%d ipi-sent=%d ipi-recv=%d fiq-polls=%d timer-fiqs=%d spurious=%d\n",
		st.Events, st.HW, st.IPISent, st.IPIReceived, st.FIQPolls, st.TimerFIQs, st.Spurious)
}

// latencyRecord accumulates per-kind statistics while reading a trace.
type latencyRecord struct {
	Kind  string
	Count int
	Sum   time.Duration
	Min   time.Duration
	Max   time.Duration
}

func (r *latencyRecord) Add(d time.Duration) {
	r.Count++
	r.Sum += d
	if r.Min == 0 || d < r.Min {
		r.Min = d
	}
	if d > r.Max {
		r.Max = d
	}
}

func (r *latencyRecord) String() string {
	return fmt.Sprintf("% 8s count=% 8d min=% 12s max=% 12s avg=% 12s",
		r.Kind, r.Count, r.Min, r.Max, r.Sum/time.Duration(r.Count))
}

// dump prints per-kind latency summaries from a trace file.
func dump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records := map[string]*latencyRecord{}
	var order []string
	if err := trace.ReadAll(f, func(kind string, cpu int, latency time.Duration) error {
		r, ok := records[kind]
		if !ok {
			r = &latencyRecord{Kind: kind}
			records[kind] = r
			order = append(order, kind)
		}
		r.Add(latency)
		return nil
	}); err != nil {
		return fmt.Errorf("read trace %q: %w", path, err)
	}
	for _, kind := range order {
		fmt.Println(records[kind])
	}
	return nil
}
