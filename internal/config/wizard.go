package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MarinX/keylogger"
	"github.com/fatih/color"

	"github.com/dooshek/keymon/internal/logger"
	"github.com/dooshek/keymon/internal/types"
)

const probeTimeout = 10 * time.Second

// Prober waits for one key press and returns its name.
type Prober func(ctx context.Context) (string, error)

// RunWizard asks for the main options on the terminal and saves them to
// path (or the default config file).
func RunWizard(path string) error {
	return runWizard(os.Stdin, color.Output, probeKeyboard, path)
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(question, def string) (string, error) {
	cyan := color.New(color.FgCyan)
	cyan.Fprintf(p.out, "\n%s ", question)
	if def != "" {
		fmt.Fprintf(p.out, "[%s]: ", def)
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, strings.TrimSpace(line))
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (p *prompter) yesNo(question string, def bool) (bool, error) {
	d := "y/N"
	if def {
		d = "Y/n"
	}
	for {
		answer, err := p.ask(question, d)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "y/n":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

func (p *prompter) choice(question string, options []string, def string) (string, error) {
	for {
		answer, err := p.ask(fmt.Sprintf("%s (%s)", question, strings.Join(options, "/")), def)
		if err != nil {
			return "", err
		}
		for _, o := range options {
			if strings.EqualFold(answer, o) {
				return o, nil
			}
		}
		fmt.Fprintf(p.out, "Please pick one of %s.\n", strings.Join(options, ", "))
	}
}

func (p *prompter) number(question string, def float64, min, max float64) (float64, error) {
	for {
		answer, err := p.ask(question, strconv.FormatFloat(def, 'g', -1, 64))
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(answer, 64)
		if err == nil && v >= min && v <= max {
			return v, nil
		}
		fmt.Fprintf(p.out, "Please enter a number between %g and %g.\n", min, max)
	}
}

func runWizard(in io.Reader, out io.Writer, probe Prober, path string) error {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	bold.Fprintln(out, "\n⌨️  Welcome to the keymon configuration wizard!")
	fmt.Fprintln(out, "\nThis wizard sets up which indicators are shown and how they behave.")
	fmt.Fprintln(out, "Press Enter to keep the default shown in brackets.")

	p := &prompter{in: bufio.NewReader(in), out: out}

	backend, err := p.choice("Capture backend", []string{types.BackendAuto, types.BackendX11, types.BackendEvdev}, types.BackendAuto)
	if err != nil {
		return err
	}

	if backend != types.BackendX11 && probe != nil {
		test, err := p.yesNo("Test keyboard device access now?", false)
		if err != nil {
			return err
		}
		if test {
			yellow.Fprintf(out, "Press any key within %v...\n", probeTimeout)
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			name, err := probe(ctx)
			cancel()
			if err != nil {
				logger.Warnf("Keyboard probe failed: %v", err)
				yellow.Fprintln(out, "Could not read the keyboard device. Add your user to the input group:")
				fmt.Fprintln(out, "  sudo usermod -a -G input $USER   (then log out and back in)")
			} else {
				green.Fprintf(out, "Got %s, device access works.\n", name)
			}
		}
	}

	meta, err := p.yesNo("Show the Meta/Super indicator?", false)
	if err != nil {
		return err
	}
	oldKeys, err := p.number("How many previous keys to keep on screen?", 0, 0, 16)
	if err != nil {
		return err
	}
	onlyCombo, err := p.yesNo("Only show keys pressed together with a modifier?", false)
	if err != nil {
		return err
	}
	sticky, err := p.yesNo("Keep modifiers shown until pressed again (sticky)?", false)
	if err != nil {
		return err
	}
	keyTimeout, err := p.number("Seconds before a released key fades", 0.5, 0.05, 10)
	if err != nil {
		return err
	}
	kind, err := p.choice("Renderer", []string{types.RendererAuto, types.RendererConsole, types.RendererScreen, types.RendererNone}, types.RendererAuto)
	if err != nil {
		return err
	}

	config := &types.Config{
		Capture: types.CaptureConfig{Backend: backend},
		Indicators: types.IndicatorsConfig{
			Meta:    types.Bool(meta),
			OldKeys: types.Int(int(oldKeys)),
		},
		Behavior: types.BehaviorConfig{
			OnlyCombo:  onlyCombo,
			Sticky:     sticky,
			KeyTimeout: keyTimeout,
		},
		Renderer: types.RendererConfig{Kind: kind},
	}

	if err := SaveConfig(path, config); err != nil {
		logger.Error("Failed to save config", err)
		return err
	}

	green.Fprintln(out, "\n✅ Configuration saved successfully!")
	return nil
}

// probeKeyboard reads the first keyboard device until a key goes down.
func probeKeyboard(ctx context.Context) (string, error) {
	keyboards := keylogger.FindAllKeyboardDevices()
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found")
	}

	kbd, err := keylogger.New(keyboards[0])
	if err != nil {
		return "", fmt.Errorf("failed to initialize keylogger: %w", err)
	}
	defer kbd.Close()

	events := kbd.Read()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case e, ok := <-events:
			if !ok {
				return "", fmt.Errorf("keyboard device closed")
			}
			if e.Type == keylogger.EvKey && e.KeyPress() {
				return e.KeyString(), nil
			}
		}
	}
}
