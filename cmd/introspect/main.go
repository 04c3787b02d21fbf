// Command introspect is the CLI front end for the remote process
// introspection engine: attach to a PID, inspect its link map and symbol
// cache, resolve symbols, run diagnostic remote calls, and walk its heap.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/zboralski/introspect/internal/config"
	"github.com/zboralski/introspect/internal/heapwalk"
	"github.com/zboralski/introspect/internal/introlog"
	"github.com/zboralski/introspect/internal/session"
	"github.com/zboralski/introspect/internal/trace"
	"github.com/zboralski/introspect/internal/uiformat"
)

var (
	verbose bool
	quiet   bool
	watch   bool
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "introspect: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "introspect",
		Short: "Remote process introspection via ptrace",
		Long: `introspect attaches to a live process and lets you inspect its shared-object
link map, resolve symbols, run diagnostic remote function calls, and walk its
managed heap, all without the target's cooperation.

Examples:
  introspect attach 1234       # show the link map (load bias + soname per module)
  introspect heap 1234         # stream drained heap allocations
  introspect heap 1234 --watch # live-updating table of allocations
  introspect symbol 1234 malloc
  introspect call 1234 /lib/libc.so.6 mmap 0 4096 3 34 -1 0
  introspect info 1234`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", cfg.Verbose, "verbose debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "quiet mode (results only)")

	rootCmd.AddCommand(attachCmd(), heapCmd(), symbolCmd(), callCmd(), infoCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initLogging() {
	if verbose {
		introlog.Init(true)
	} else {
		introlog.Init(false)
	}
}

func parsePID(arg string) (int, error) {
	pid, err := strconv.Atoi(arg)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", arg)
	}
	return pid, nil
}

func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attach and print the tracee's link map (no symbol-cache summary)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			s, err := session.New(pid)
			if err != nil {
				return err
			}
			defer s.Close()

			mods := s.Modules()
			if !quiet {
				fmt.Printf("%s  pid=%d  %d loaded modules\n", uiformat.Address(0), pid, len(mods))
			}
			for _, m := range mods {
				fmt.Printf("  %s  %s\n", uiformat.Address(m.LoadBias), m.Soname)
			}
			return nil
		},
	}
}

func heapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heap <pid>",
		Short: "Walk the tracee's heap and report allocations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			s, err := session.New(pid)
			if err != nil {
				return err
			}
			defer s.Close()

			if watch {
				return runHeapWatch(s)
			}
			return runHeapStream(s)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "show a live-updating table instead of streamed text")
	return cmd
}

func runHeapStream(s *session.ProcessSession) error {
	count := 0
	err := s.HeapIterate(func(a heapwalk.Allocation) {
		count++
		if !quiet {
			ev := trace.NewEvent(a.Base, "heap", "", fmt.Sprintf("%d bytes", a.Length))
			trace.DefaultEnricher(ev)
			fmt.Printf("%s  %s  %s\n", uiformat.Address(a.Base), uiformat.Tag(ev.PrimaryTag()), ev.Detail)
		}
	})
	if quiet {
		fmt.Printf("%d allocations\n", count)
	}
	return err
}

func runHeapWatch(s *session.ProcessSession) error {
	m := newHeapModel()
	p := tea.NewProgram(m)

	// The heap walk issues ptrace requests, so it stays on this goroutine (the
	// one session.New pinned to the attaching OS thread); the UI runs beside it.
	runErr := make(chan error, 1)
	go func() {
		_, err := p.Run()
		runErr <- err
	}()

	walkErr := s.HeapIterate(func(a heapwalk.Allocation) {
		p.Send(allocationMsg(a))
	})
	p.Send(doneMsg{})

	if err := <-runErr; err != nil {
		return err
	}
	return walkErr
}

type allocationMsg heapwalk.Allocation
type doneMsg struct{}

type heapModel struct {
	table table.Model
	total int
}

func newHeapModel() heapModel {
	cols := []table.Column{
		{Title: "Base", Width: 18},
		{Title: "Length", Width: 10},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(20))
	return heapModel{table: t}
}

func (m heapModel) Init() tea.Cmd { return nil }

func (m heapModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case allocationMsg:
		m.total++
		rows := m.table.Rows()
		rows = append(rows, table.Row{uiformat.Address(msg.Base), strconv.FormatUint(msg.Length, 10)})
		m.table.SetRows(rows)
	case doneMsg:
		// Leave the final table on screen; user quits with q/ctrl+c.
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m heapModel) View() string {
	return fmt.Sprintf("%s\ntotal: %d   (q to quit)\n", m.table.View(), m.total)
}

func symbolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symbol <pid> <name>",
		Short: "Resolve one symbol in the tracee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			s, err := session.New(pid)
			if err != nil {
				return err
			}
			defer s.Close()

			addr, err := s.GetSymbolAddress(args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", uiformat.Address(addr), args[1])
			return nil
		},
	}
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <pid> <lib> <func> [args...]",
		Short: "Run a diagnostic remote call in the tracee",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			libPath, funcName := args[1], args[2]

			var callArgs []uint64
			for _, a := range args[3:] {
				v, err := strconv.ParseUint(a, 0, 64)
				if err != nil {
					iv, ierr := strconv.ParseInt(a, 0, 64)
					if ierr != nil {
						return fmt.Errorf("invalid argument %q: %w", a, err)
					}
					v = uint64(iv)
				}
				callArgs = append(callArgs, v)
			}

			s, err := session.New(pid)
			if err != nil {
				return err
			}
			defer s.Close()

			funcAddr, err := s.LocateLibFunc(libPath, funcName)
			if err != nil {
				return err
			}
			ret, err := s.Call(funcAddr, callArgs, nil)
			if err != nil {
				return err
			}
			ev := trace.NewEvent(funcAddr, "call", funcName, fmt.Sprintf("args=%v ret=0x%x", callArgs, ret))
			trace.DefaultEnricher(ev)
			fmt.Printf("%s  %s %s  = %s\n", uiformat.Address(funcAddr), uiformat.Tag(ev.PrimaryTag()), funcName, uiformat.Address(ret))
			return nil
		},
	}
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pid>",
		Short: "Show session info for a target process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			if !session.Exists(pid) {
				return fmt.Errorf("no such process: %d", pid)
			}

			s, err := session.New(pid)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Printf("session: %s\n", s.ID)
			fmt.Printf("pid:     %d\n", s.PID)
			fmt.Printf("modules: %d\n", len(s.Modules()))

			started := time.Now()
			ptrSize, _ := s.QueryDataLayout(session.PointerSize)
			fmt.Printf("pointer size: %d bytes  (queried in %s)\n", ptrSize, time.Since(started))
			return nil
		},
	}
}
