package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-tty"

	"tranquil/src/hardware/bcm2711"
	"tranquil/src/joy"
	"tranquil/src/lib/trust"
	"tranquil/src/lib/upbeat"
)

var configFlag = flag.String("config", "", "board file (yaml), built in defaults when empty")
var ttyFlag = flag.String("tty", "", "tty to use as the console, overrides the board file")
var ticksFlag = flag.Uint64("ticks", 0, "stop after this many timer ticks, 0 runs until 'q'")

const ctrlC = 3

// stopReq is why the runner is going down and what to exit with.
type stopReq struct {
	reason string
	code   int
}

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg := joy.DefaultConfig()
	if *configFlag != "" {
		c, err := joy.LoadConfig(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 2
		}
		cfg = c
	}
	dev := cfg.Console.Device
	if *ttyFlag != "" {
		dev = *ttyFlag
	}
	term, err := openTTY(dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open console %q: %v\n", dev, err)
		return 2
	}
	defer term.Close()
	restore, err := term.Raw()
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to put console in raw mode: %v\n", err)
		return 2
	}
	defer restore()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stopCh := make(chan stopReq, 1)
	stop := func(r stopReq) {
		select {
		case stopCh <- r:
		default:
		}
	}

	board := bcm2711.NewBoard(cfg.Board, term.Output(), cfg.Console.Baud)
	board.UART.WithContext(ctx)
	console := joy.NewConsole(board, board.UARTBase())
	log := trust.New(trust.SinkWriter{Sink: console}, cfg.LogMask()).With("boot", uuid.NewString())

	cpu := joy.NewHostCPU(board.GIC, joy.WithQuantum(cfg.Host.Quantum))
	k := joy.NewKernel(cpu,
		joy.WithLogger(log),
		joy.WithConsole(console),
		joy.WithFrameAllocator(joy.NewFrameAllocator(uintptr(cfg.Memory.Low), cfg.Pages())),
		joy.WithHalter(joy.HalterFunc(func(reason string) {
			stop(stopReq{reason: "halted: " + reason, code: 1})
		})),
	)
	banner(log, cfg, board)

	console.OnKey(func(c byte) {
		switch c {
		case 'q', ctrlC:
			stop(stopReq{reason: "quit"})
		case '\r':
			console.WriteString("\n")
		default:
			console.Putc(c)
		}
	})

	go func() {
		err := joy.KernelMain(k, joy.Devices{
			Router:  joy.NewRouter(k, board),
			Timer:   joy.NewSystemTimer(k, board, board.SysTimerBase(), cfg.Timer.Interval),
			Console: console,
		})
		if err != nil {
			log.Errorf("%v", err)
			stop(stopReq{reason: "boot failed", code: 1})
		}
	}()
	go runClock(ctx, board, k, cfg.Host, stop)
	go readKeys(term, board)
	if *configFlag != "" {
		go func() {
			err := joy.WatchConfig(ctx, *configFlag, log, func(c *joy.Config) {
				old := k.SetLogLevel(c.LogMask())
				log.Infof("log level %s -> %s", trust.MaskToString(old), c.Log.Level)
			})
			if err != nil {
				log.Warnf("%v", err)
			}
		}()
	}

	var req stopReq
	select {
	case req = <-stopCh:
	case <-ctx.Done():
		req = stopReq{reason: "signal"}
	}
	log.Infof("stopping (%s) after %d ticks, %d switches, %d refills",
		req.reason, k.Ticks(), k.Switches(), k.Refills())
	cancel()
	cpu.Shutdown()
	return req.code
}

func openTTY(dev string) (*tty.TTY, error) {
	if dev == "" {
		return tty.Open()
	}
	return tty.OpenDevice(dev)
}

func banner(log *trust.Logger, cfg *joy.Config, board *bcm2711.Board) {
	log.Infof("tranquil on board model %d, peripherals at %#x", cfg.Board, board.Base)
	if cfg.Revision != "" {
		log.Infof("revision %s: %s", cfg.Revision, upbeat.BoardRevisionDecode(cfg.Revision))
	}
	pages := cfg.Pages()
	log.Infof("paging memory %s in %s frames at %#x",
		humanize.IBytes(uint64(pages)*joy.PageSize), humanize.Comma(int64(pages)), cfg.Memory.Low)
	log.Infof("timer tick every %dus, host clock %dus per %v",
		cfg.Timer.Interval, cfg.Host.Clock, cfg.Host.Quantum)
}

// runClock is the passage of time on the board: every quantum the system
// timer moves forward by the configured clock.
func runClock(ctx context.Context, board *bcm2711.Board, k *joy.Kernel, host joy.HostConfig, stop func(stopReq)) {
	q := host.Quantum
	if q <= 0 {
		q = time.Millisecond
	}
	t := time.NewTicker(q)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			board.Timer.Advance(host.Clock)
			if *ticksFlag > 0 && k.Ticks() >= *ticksFlag {
				stop(stopReq{reason: "tick limit"})
				return
			}
		}
	}
}

// readKeys puts every byte typed on the console onto the uart's receive line.
func readKeys(term *tty.TTY, board *bcm2711.Board) {
	var data [1]byte
	for {
		n, err := term.Input().Read(data[:])
		if err != nil {
			return
		}
		if n == 1 {
			board.UART.Receive(data[0])
		}
	}
}
