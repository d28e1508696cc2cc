package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// runConsole drives the probe by hand. Commands:
//
//	send [co temp pm2.5]  publish one reading, synthetic or explicit
//	auto <interval>       publish synthetically on a timer
//	stop                  stop the timer
//	status                show baseline values and topic
//	help                  print this list
//	quit                  exit
func runConsole(ctx context.Context, p *probe) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "probe> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	c := &console{probe: p, rl: rl}
	defer c.stopAuto()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if quit := c.handle(fields[0], fields[1:]); quit {
			return nil
		}
	}
}

type console struct {
	probe *probe
	rl    *readline.Instance

	autoCancel context.CancelFunc
}

// handle runs one command; it reports whether the console should exit.
func (c *console) handle(cmd string, args []string) bool {
	switch cmd {
	case "send":
		c.send(args)
	case "auto":
		c.startAuto(args)
	case "stop":
		c.stopAuto()
		fmt.Fprintln(c.rl.Stdout(), "timer stopped")
	case "status":
		fmt.Fprintf(c.rl.Stdout(), "device %s on topic %s\nbaseline co=%.2fppm temp=%.1f°C pm2.5=%.1fµg/m³\n",
			c.probe.deviceID, c.probe.topic, c.probe.co, c.probe.temp, c.probe.pm25)
	case "help":
		c.printHelp()
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(c.rl.Stdout(), "unknown command %q, try help\n", cmd)
	}
	return false
}

func (c *console) send(args []string) {
	payload := c.probe.synthetic()

	if len(args) == 3 {
		vals := make([]float64, 3)
		for i, arg := range args {
			v, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				fmt.Fprintf(c.rl.Stdout(), "bad value %q: %v\n", arg, err)
				return
			}
			vals[i] = v
		}
		payload.CarbonMonoxidePPM = vals[0]
		payload.TemperatureCelsius = vals[1]
		payload.PM25 = vals[2]
	} else if len(args) != 0 {
		fmt.Fprintln(c.rl.Stdout(), "usage: send [co temp pm2.5]")
		return
	}

	if err := c.probe.publish(payload); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "publish failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "sent co=%.2f temp=%.1f pm2.5=%.1f\n",
		payload.CarbonMonoxidePPM, payload.TemperatureCelsius, payload.PM25)
}

func (c *console) startAuto(args []string) {
	interval := 5 * time.Second
	if len(args) == 1 {
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			fmt.Fprintf(c.rl.Stdout(), "bad interval %q\n", args[0])
			return
		}
		interval = d
	}

	c.stopAuto()

	ctx, cancel := context.WithCancel(context.Background())
	c.autoCancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.probe.publish(c.probe.synthetic()); err != nil {
					fmt.Fprintf(c.rl.Stdout(), "publish failed: %v\n", err)
				}
			}
		}
	}()

	fmt.Fprintf(c.rl.Stdout(), "publishing every %s\n", interval)
}

func (c *console) stopAuto() {
	if c.autoCancel != nil {
		c.autoCancel()
		c.autoCancel = nil
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.rl.Stdout(), `commands:
  send [co temp pm2.5]  publish one reading, synthetic unless values given
  auto [interval]       publish synthetically on a timer (default 5s)
  stop                  stop the timer
  status                show baseline values and topic
  help                  show this list
  quit                  exit
`)
}
