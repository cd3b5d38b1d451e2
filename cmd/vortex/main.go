// Command vortex is the single-binary CLI and daemon entrypoint: it both
// drives the Session Daemon as a long-lived background process and acts as
// the client issuing RPC commands against it, the way the teacher's
// cmd/vulcan binary wires config, backend registry, engine, and API server
// together in one main().
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/vortexlab/vortex/internal/backend"
	"github.com/vortexlab/vortex/internal/backend/execbackend"
	"github.com/vortexlab/vortex/internal/config"
	"github.com/vortexlab/vortex/internal/daemon"
	"github.com/vortexlab/vortex/internal/devtemplate"
	"github.com/vortexlab/vortex/internal/eventlog"
	"github.com/vortexlab/vortex/internal/lifecycle"
	"github.com/vortexlab/vortex/internal/metrics"
	"github.com/vortexlab/vortex/internal/model"
	"github.com/vortexlab/vortex/internal/session"
	"github.com/vortexlab/vortex/internal/workspace"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == daemon.RunDaemonArg {
		runDaemonForeground()
		return
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := daemon.EnsureRunning(ctx, cfg.Paths.DaemonSocket)
	if err != nil {
		log.Fatalf("connect to daemon: %v", err)
	}
	defer client.Close()

	if err := dispatchCommand(ctx, cfg, client, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "vortex:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: vortex <command> [args]

commands:
  run <image> [--name n] [--memory mb] [--cpus n] [--persistent]
  list
  stop <session>
  cleanup <session>
  template <name>
  templates
  shell <session>
  metrics <session>
  parallel <image> <n>
  dev [--workspace name] [--init] [--list]
  workspace {create,list,delete,info,import} ...`)
}

// dispatchCommand implements the CLI surface from SPEC_FULL.md's
// "SUPPLEMENTED FEATURES" and spec.md §8's CLI summary, translating each
// subcommand into one or more daemon RPC calls.
func dispatchCommand(ctx context.Context, cfg config.Config, c *daemon.Client, cmd string, args []string) error {
	switch cmd {
	case "run":
		return cmdRun(ctx, cfg, c, args)
	case "list":
		return cmdList(c)
	case "stop":
		return cmdStop(c, args)
	case "cleanup":
		return cmdCleanup(c, args)
	case "template":
		return cmdTemplate(args)
	case "templates":
		return cmdTemplates()
	case "shell":
		return cmdShell(c, args)
	case "metrics":
		return cmdMetrics(cfg, c, args)
	case "parallel":
		return cmdParallel(ctx, cfg, c, args)
	case "dev":
		return cmdDev(ctx, cfg, c, args)
	case "workspace":
		return cmdWorkspace(ctx, cfg, c, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdRun(ctx context.Context, cfg config.Config, c *daemon.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("run: expected an image reference")
	}
	image := args[0]
	rest := args[1:]

	name := ""
	memory := cfg.DefaultMemoryMB
	cpus := cfg.DefaultCPUs
	persistent := false

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--name":
			i++
			if i < len(rest) {
				name = rest[i]
			}
		case "--memory":
			i++
			if i < len(rest) {
				v, err := strconv.Atoi(rest[i])
				if err != nil {
					return fmt.Errorf("run: invalid --memory value: %w", err)
				}
				memory = v
			}
		case "--cpus":
			i++
			if i < len(rest) {
				v, err := strconv.Atoi(rest[i])
				if err != nil {
					return fmt.Errorf("run: invalid --cpus value: %w", err)
				}
				cpus = v
			}
		case "--persistent":
			persistent = true
		}
	}

	spec := model.VmSpec{Image: image, MemoryMB: memory, CPUs: cpus}
	sess, err := c.CreateSession(spec, name, persistent)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Printf("created session %s (vm %s), state %s\n", sess.ID, sess.VmID, sess.State.Tag)
	return nil
}

func cmdList(c *daemon.Client) error {
	sessions, err := c.ListSessions()
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\t%s\t%s\n", s.ID, s.Name, s.VmID, s.State.Tag)
	}
	return nil
}

func cmdStop(c *daemon.Client, args []string) error {
	id, err := requireID(args, "stop")
	if err != nil {
		return err
	}
	sess, err := c.StopSession(id)
	if err != nil {
		return err
	}
	fmt.Printf("session %s is now %s\n", sess.ID, sess.State.Tag)
	return nil
}

func cmdCleanup(c *daemon.Client, args []string) error {
	id, err := requireID(args, "cleanup")
	if err != nil {
		return err
	}
	return c.DeleteSession(id)
}

func cmdTemplate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("template: expected a template name")
	}
	cat := devtemplate.New()
	t, err := cat.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\nbase image: %s\ntools: %v\nports: %v\n", t.Name, t.Description, t.BaseImage, t.Tools, t.DefaultPorts)
	return nil
}

func cmdTemplates() error {
	cat := devtemplate.New()
	for _, t := range cat.List() {
		fmt.Printf("%s\t%s\n", t.Name, t.Description)
	}
	return nil
}

func cmdShell(c *daemon.Client, args []string) error {
	id, err := requireID(args, "shell")
	if err != nil {
		return err
	}
	return c.AttachSession(id, os.Getpid())
}

// cmdMetrics implements the supplemented `vortex metrics <session>`
// feature: it reports the session's live session state plus, if an event
// log is reachable at the configured path, the persisted event history for
// its current vm id (SPEC_FULL.md "SUPPLEMENTED FEATURES").
func cmdMetrics(cfg config.Config, c *daemon.Client, args []string) error {
	id, err := requireID(args, "metrics")
	if err != nil {
		return err
	}
	sess, err := c.GetSession(id)
	if err != nil {
		return err
	}
	fmt.Printf("session %s: vm %s, state %s\n", sess.ID, sess.VmID, sess.State.Tag)

	if sess.VmID == "" {
		return nil
	}

	store, err := eventlog.Open(cfg.Paths.EventLogDB)
	if err != nil {
		fmt.Printf("(event history unavailable: %v)\n", err)
		return nil
	}
	defer store.Close()

	events, err := store.ForVM(context.Background(), sess.VmID)
	if err != nil {
		fmt.Printf("(event history unavailable: %v)\n", err)
		return nil
	}
	for _, e := range events {
		fmt.Printf("  %s  %s  %s\n", e.At.Format(time.RFC3339), e.Tag, e.Message)
	}
	return nil
}

// cmdParallel implements the supplemented `vortex parallel` feature: fan a
// single spec out to n concurrently created, non-persistent sessions and
// report pass/fail per session, exercising the Lifecycle Manager's per-id
// serialization guarantee under concurrent load (SPEC_FULL.md
// "SUPPLEMENTED FEATURES").
func cmdParallel(ctx context.Context, cfg config.Config, _ *daemon.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("parallel: expected an image and a count")
	}
	image := args[0]
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return fmt.Errorf("parallel: invalid count %q", args[1])
	}

	spec := model.VmSpec{Image: image, MemoryMB: cfg.DefaultMemoryMB, CPUs: cfg.DefaultCPUs}

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := daemon.EnsureRunning(ctx, cfg.Paths.DaemonSocket)
			if err != nil {
				results[i] = err
				return
			}
			defer c.Close()
			_, err = c.CreateSession(spec, "", false)
			results[i] = err
		}(i)
	}
	wg.Wait()

	failures := 0
	for i, err := range results {
		if err != nil {
			failures++
			fmt.Printf("session %d: FAILED: %v\n", i, err)
		} else {
			fmt.Printf("session %d: ok\n", i)
		}
	}
	if failures > 0 {
		return fmt.Errorf("parallel: %d/%d sessions failed", failures, n)
	}
	return nil
}

// cmdDev implements `vortex dev [--workspace name] [--init] [--list]`: it
// composes the Workspace Manager, the dev-template catalog, and the
// Session Manager in one step (SPEC_FULL.md "SUPPLEMENTED FEATURES").
func cmdDev(ctx context.Context, cfg config.Config, c *daemon.Client, args []string) error {
	wsMgr, err := workspace.New(cfg.Paths.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("dev: %w", err)
	}

	if containsFlag(args, "--list") {
		for _, w := range wsMgr.List() {
			fmt.Printf("%s\t%s\t%s\n", w.ID, w.Name, w.Config.Template)
		}
		return nil
	}

	name := flagValue(args, "--workspace")
	if name == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("dev: %w", err)
		}
		name = filepath.Base(cwd)
	}

	ws, err := wsMgr.FindByName(name)
	if err != nil {
		if !containsFlag(args, "--init") {
			return fmt.Errorf("dev: workspace %q not found (use --init to create it)", name)
		}
		ws, err = wsMgr.Create(name, "python", "dev")
		if err != nil {
			return fmt.Errorf("dev: %w", err)
		}
	}

	cat := devtemplate.New()
	tmpl, err := cat.Get(ws.Config.Template)
	if err != nil {
		return fmt.Errorf("dev: %w", err)
	}
	spec, err := workspace.ToVmSpec(ws, tmpl)
	if err != nil {
		return fmt.Errorf("dev: %w", err)
	}

	sess, err := c.CreateSession(spec, name, true)
	if err != nil {
		return fmt.Errorf("dev: %w", err)
	}
	if err := wsMgr.Touch(ws.ID); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to update workspace last-used time: %v\n", err)
	}

	return c.AttachSession(sess.ID, os.Getpid())
}

func cmdWorkspace(ctx context.Context, cfg config.Config, c *daemon.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("workspace: expected a subcommand")
	}
	wsMgr, err := workspace.New(cfg.Paths.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		if len(rest) < 2 {
			return fmt.Errorf("workspace create: expected <name> <template>")
		}
		ws, err := wsMgr.Create(rest[0], rest[1], "manual")
		if err != nil {
			return err
		}
		fmt.Printf("created workspace %s (%s)\n", ws.ID, ws.Name)
		return nil

	case "list":
		for _, ws := range wsMgr.List() {
			fmt.Printf("%s\t%s\t%s\n", ws.ID, ws.Name, ws.Config.Template)
		}
		return nil

	case "delete":
		if len(rest) < 1 {
			return fmt.Errorf("workspace delete: expected <id>")
		}
		return wsMgr.Delete(rest[0])

	case "info":
		if len(rest) < 1 {
			return fmt.Errorf("workspace info: expected <id>")
		}
		ws, err := wsMgr.Get(rest[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\nname: %s\npath: %s\ntemplate: %s\nworkdir: %s\n",
			ws.ID, ws.Name, ws.Path, ws.Config.Template, ws.Config.PreferredWorkdir)
		return nil

	case "import":
		if len(rest) < 2 {
			return fmt.Errorf("workspace import: expected <name> <schema.json>")
		}
		ws, err := wsMgr.CreateFromExternal(rest[0], rest[1], "import")
		if err != nil {
			return err
		}
		fmt.Printf("imported workspace %s (%s, template %s)\n", ws.ID, ws.Name, ws.Config.Template)
		return nil

	default:
		return fmt.Errorf("workspace: unknown subcommand %q", sub)
	}
}

func requireID(args []string, cmd string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("%s: expected a session id", cmd)
	}
	return args[0], nil
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func containsFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

// runDaemonForeground is the hidden re-exec target spawned by
// daemon.EnsureRunning: it builds the full dependency graph and runs the
// daemon Server until an OS signal arrives (spec §4.4 "Auto-spawn client").
func runDaemonForeground() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := os.MkdirAll(cfg.Paths.Home, 0o700); err != nil {
		log.Fatalf("create home dir: %v", err)
	}

	provider := backend.NewProvider()
	execCfg := execbackend.LoadConfig()
	if cfg.DefaultBackend != "" && os.Getenv("VORTEX_BACKEND_NAME") == "" {
		execCfg.BackendName = cfg.DefaultBackend
	}
	provider.Register(execbackend.New(execCfg, logger))

	lc := lifecycle.NewManager(provider, cfg.Limits, logger)

	store, err := eventlog.Open(cfg.Paths.EventLogDB)
	if err != nil {
		logger.Error("failed to open event log, continuing without persisted history", "error", err)
	} else {
		defer store.Close()
		lc.AddEventHandler(store)
	}
	lc.AddEventHandler(metricsEventHandler{})

	sessions, err := session.NewManager(cfg.Paths.SessionsFile, lc, logger)
	if err != nil {
		log.Fatalf("load sessions: %v", err)
	}

	srv := daemon.NewServer(cfg.Paths.DaemonSocket, sessions, lc, logger)

	debugAddr := "127.0.0.1:9090"
	debugSrv := metrics.NewDebugServer(debugAddr, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			logger.Error("daemon server exited with error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := debugSrv.Run(ctx); err != nil {
			logger.Error("debug server exited with error", "error", err)
		}
	}()
	wg.Wait()
}

// metricsEventHandler adapts the Lifecycle Manager's event fan-out to the
// metrics package's prometheus counters.
type metricsEventHandler struct{}

func (metricsEventHandler) Name() string { return "metrics" }

func (metricsEventHandler) Handle(e model.VmEvent) error {
	switch e.Tag {
	case model.EventCreated:
		metrics.RecordVMCreated("success")
	case model.EventError:
		metrics.RecordVMCreated("error")
	}
	return nil
}
