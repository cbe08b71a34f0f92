package ui

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// IsTerminal reports whether w writes to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Wait runs fn while showing message next to a spinner on out.
//
// When out is not a terminal the message is printed once and fn runs without animation.
// fn is expected to return once ctx is done.
func Wait[T any](ctx context.Context, out io.Writer, message string, fn func(context.Context) (T, error)) (T, error) {
	if !IsTerminal(out) {
		fmt.Fprintln(out, message)
		return fn(ctx)
	}

	var (
		val  T
		err  error
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		val, err = fn(ctx)
	}()

	p := tea.NewProgram(newWaitModel(message, done),
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	if _, perr := p.Run(); perr != nil {
		// The spinner is cosmetic; keep waiting for the real result.
		fmt.Fprintln(out, message)
	}
	<-done
	return val, err
}

type waitDoneMsg struct{}

// waitModel renders a single spinner line until done is closed.
type waitModel struct {
	spinner  spinner.Model
	message  string
	done     <-chan struct{}
	finished bool
}

func newWaitModel(message string, done <-chan struct{}) waitModel {
	return waitModel{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(NewStyle("#7D56F4"))),
		message: message,
		done:    done,
	}
}

func (m waitModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		<-m.done
		return waitDoneMsg{}
	})
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case waitDoneMsg:
		m.finished = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m waitModel) View() string {
	if m.finished {
		return ""
	}
	return fmt.Sprintf("%s %s\n", m.spinner.View(), m.message)
}
