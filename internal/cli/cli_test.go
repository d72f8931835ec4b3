package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"prefork.dev/internal/config"
	"prefork.dev/internal/dirs"
	"prefork.dev/internal/logs"
	"prefork.dev/internal/process"
	"prefork.dev/internal/supervisor"
)

// resetGlobals resets package-level state between tests to avoid cross-test contamination.
func resetGlobals(t *testing.T) {
	t.Helper()
	oldConfig := globalConfig
	t.Cleanup(func() {
		globalConfig = oldConfig
	})
	globalConfig = ""
}

// execute runs the command tree with args and returns combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test-version")
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

// deadPID returns the pid of a process that has already exited.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to run true: %v", err)
	}
	return cmd.Process.Pid
}

// captureStderr runs fn with os.Stderr redirected and returns what it wrote.
func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	old := os.Stderr
	os.Stderr = w
	defer func() { os.Stderr = old }()

	done := make(chan []byte)
	go func() {
		b, _ := io.ReadAll(r)
		done <- b
	}()

	fn()
	w.Close()
	out := <-done
	r.Close()
	return string(out)
}

// ---------------------------------------------------------------------------
// Cobra command-tree tests
// ---------------------------------------------------------------------------

func TestRootHelp(t *testing.T) {
	resetGlobals(t)
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	for _, sub := range []string{"run", "stop", "reload", "status", "logs", "init"} {
		if !strings.Contains(out, sub) {
			t.Errorf("root --help output should mention %q subcommand", sub)
		}
	}
	if strings.Contains(out, "\n  worker ") {
		t.Error("worker subcommand should be hidden from help")
	}
}

func TestSubcommandHelp(t *testing.T) {
	for _, sub := range []string{"run", "worker", "stop", "reload", "status", "logs", "init"} {
		t.Run(sub, func(t *testing.T) {
			resetGlobals(t)
			if _, err := execute(t, sub, "--help"); err != nil {
				t.Fatalf("%s --help should exit 0, got error: %v", sub, err)
			}
		})
	}
}

func TestRunFlags(t *testing.T) {
	cmd := newRootCmd("test-version")
	runCmd, _, err := cmd.Find([]string{"run"})
	if err != nil {
		t.Fatalf("Find run failed: %v", err)
	}
	f := runCmd.Flags().Lookup("daemon")
	if f == nil {
		t.Fatal("run command should have --daemon flag")
	}
	if f.DefValue != "false" {
		t.Errorf("--daemon default = %q, want false", f.DefValue)
	}
	if runCmd.Flags().Lookup("stdio") == nil {
		t.Error("run command should have --stdio flag")
	}
}

func TestRunRejectsDaemonWithStdio(t *testing.T) {
	resetGlobals(t)
	_, err := execute(t, "run", "--daemon", "--stdio")
	if err == nil || !strings.Contains(err.Error(), "--stdio") {
		t.Errorf("expected --stdio/--daemon conflict error, got %v", err)
	}
}

func TestWorkerRequiresSlot(t *testing.T) {
	resetGlobals(t)
	_, err := execute(t, "worker")
	if err == nil {
		t.Fatal("expected error when --slot is missing")
	}
	if !strings.Contains(err.Error(), "slot") {
		t.Errorf("error should mention slot, got %v", err)
	}
}

func TestLogsFlags(t *testing.T) {
	cmd := newRootCmd("test-version")
	logsCmd, _, err := cmd.Find([]string{"logs"})
	if err != nil {
		t.Fatalf("Find logs failed: %v", err)
	}

	for _, name := range []string{"lines", "filter"} {
		if logsCmd.Flags().Lookup(name) == nil {
			t.Errorf("logs command should have --%s flag", name)
		}
	}
}

func TestUnknownSubcommand(t *testing.T) {
	resetGlobals(t)
	if _, err := execute(t, "badcmd"); err == nil {
		t.Fatal("expected error for unknown subcommand, got nil")
	}
}

func TestConfigFlagPersistent(t *testing.T) {
	cmd := newRootCmd("test-version")

	pf := cmd.PersistentFlags().Lookup("config")
	if pf == nil {
		t.Fatal("--config should be registered as a persistent flag on the root command")
	}
	if pf.DefValue != "" {
		t.Errorf("--config default should be empty, got %q", pf.DefValue)
	}

	found, _, err := cmd.Find([]string{"status"})
	if err != nil {
		t.Fatalf("Find status failed: %v", err)
	}
	if found.InheritedFlags().Lookup("config") == nil {
		t.Error("status subcommand should inherit --config persistent flag from root")
	}
}

func TestConfigFlagBeforeSubcommand(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	_, err := execute(t, "--config=nonexistent.yaml", "status")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if globalConfig != "nonexistent.yaml" {
		t.Errorf("globalConfig = %q, want %q", globalConfig, "nonexistent.yaml")
	}
}

// ---------------------------------------------------------------------------
// Command behaviour
// ---------------------------------------------------------------------------

func TestLogName(t *testing.T) {
	tests := []struct {
		target  string
		want    string
		wantErr bool
	}{
		{"0", "worker-0", false},
		{"12", "worker-12", false},
		{"supervisor", logs.SupervisorLog, false},
		{"-1", "", true},
		{"worker", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, err := logName(tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("logName(%q) error = %v, wantErr %v", tt.target, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("logName(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestLogsCommand(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())
	if err := logs.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	content := "starting\njob done\njob failed\njob done\n"
	if err := os.WriteFile(logs.GetLogPath(logs.WorkerLog(1)), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}

	out, err := execute(t, "logs", "1", "--lines", "2")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if out != "job failed\njob done\n" {
		t.Errorf("logs --lines 2 output = %q", out)
	}

	out, err = execute(t, "logs", "1", "--filter", "failed")
	if err != nil {
		t.Fatalf("logs failed: %v", err)
	}
	if out != "job failed\n" {
		t.Errorf("logs --filter output = %q", out)
	}

	if _, err := execute(t, "logs", "nope"); exitCode(err) != 1 {
		t.Errorf("logs with bad target should exit 1, got %v", err)
	}
}

func TestInitCommand(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	if _, err := execute(t, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := os.Stat(config.InitPath); err != nil {
		t.Fatalf("init should create %s: %v", config.InitPath, err)
	}

	if _, err := execute(t, "init"); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, "init", "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}

	cfg, found, err := config.Load("")
	if err != nil {
		t.Fatalf("Load after init failed: %v", err)
	}
	if !found {
		t.Error("Load should find the config written by init")
	}
	if cfg.Workers < 1 {
		t.Errorf("starter config workers = %d", cfg.Workers)
	}
}

func TestInitCustomPath(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	if _, err := execute(t, "--config", "custom.yaml", "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := os.Stat("custom.yaml"); err != nil {
		t.Errorf("init should honour --config: %v", err)
	}
}

func TestStatusNotRunning(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	out, err := execute(t, "status")
	if exitCode(err) != 1 {
		t.Fatalf("status without a supervisor should exit 1, got %v", err)
	}
	if !strings.Contains(out, "[STOPPED]") {
		t.Errorf("status output should report stopped, got %q", out)
	}
}

func TestStatusRunning(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	cfg := config.Defaults()
	start := time.Now().Add(-time.Hour)
	if err := process.WritePIDFile(cfg.PIDFile, process.PIDFileData{
		PID:       os.Getpid(),
		RunID:     "run-abc",
		StartTime: start,
	}); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"[RUNNING]", "run-abc", "1 hour ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output should contain %q, got %q", want, out)
		}
	}
}

func TestStopStalePIDFile(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	cfg := config.Defaults()
	if err := process.WritePIDFile(cfg.PIDFile, process.PIDFileData{PID: deadPID(t), RunID: "stale"}); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	if _, err := execute(t, "stop"); err != nil {
		t.Fatalf("stop with a stale pid file should succeed, got %v", err)
	}
	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Errorf("stale pid file should be removed, stat err = %v", err)
	}
}

func TestStopSignalsSupervisor(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	sleeper := exec.Command("sleep", "30")
	if err := sleeper.Start(); err != nil {
		t.Fatalf("failed to start sleep: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		_ = sleeper.Wait()
		close(waited)
	}()
	t.Cleanup(func() {
		_ = sleeper.Process.Kill()
		<-waited
	})

	cfg := config.Defaults()
	if err := process.WritePIDFile(cfg.PIDFile, process.PIDFileData{PID: sleeper.Process.Pid}); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	if _, err := execute(t, "stop"); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process should have exited after stop")
	}
}

func TestReloadNotRunning(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	if _, err := execute(t, "reload"); exitCode(err) != 1 {
		t.Errorf("reload without a supervisor should exit 1, got %v", err)
	}
}

func TestSupervisorLogMirroredToStderr(t *testing.T) {
	t.Chdir(t.TempDir())

	stderr := captureStderr(t, func() {
		w, closeLog, err := supervisorLogWriter(false)
		if err != nil {
			t.Errorf("supervisorLogWriter failed: %v", err)
			return
		}
		fmt.Fprintln(w, "pool started")
		closeLog()
	})
	if !strings.Contains(stderr, "pool started") {
		t.Errorf("foreground log should reach stderr, got %q", stderr)
	}

	lines, err := logs.ReadLog(logs.SupervisorLog, logs.ReadOptions{})
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(lines) != 1 || lines[0] != "pool started" {
		t.Errorf("supervisor.log = %v", lines)
	}
}

func TestDaemonizeFailureLogged(t *testing.T) {
	t.Chdir(t.TempDir())

	captureStderr(t, func() {
		reportDaemonizeFailure(config.Defaults(), errors.New("setsid: operation not permitted"))
	})

	lines, err := logs.ReadLog(logs.SupervisorLog, logs.ReadOptions{Filter: "failed to daemonize"})
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "setsid: operation not permitted") {
		t.Errorf("daemonize failure should be in supervisor.log, got %v", lines)
	}
}

func TestRunReportsLogSetupFailure(t *testing.T) {
	resetGlobals(t)
	t.Chdir(t.TempDir())

	// A file where the state directory belongs makes the log unopenable.
	if err := os.WriteFile(dirs.StateDir, nil, 0644); err != nil {
		t.Fatalf("failed to create blocking file: %v", err)
	}

	var runErr error
	stderr := captureStderr(t, func() {
		_, runErr = execute(t, "run")
	})
	if exitCode(runErr) != 1 {
		t.Fatalf("run should exit 1, got %v", runErr)
	}
	if !strings.Contains(stderr, "Error:") {
		t.Errorf("run should explain the failure on stderr, got %q", stderr)
	}
}

func TestPrintSnapshot(t *testing.T) {
	now := time.Now()
	snap := supervisor.PoolSnapshot{
		Workers:    2,
		Generation: 3,
		Jobs:       1234567,
		Accepting:  true,
		StartedAt:  now.Add(-2 * time.Hour),
		Slots: []supervisor.SlotSnapshot{
			{Slot: 0, PID: 4100, Alive: true, StartedAt: now.Add(-90 * time.Second), Heartbeat: now.Add(-1500 * time.Millisecond), Jobs: 1234},
			{Slot: 1, PID: 4101, Alive: false, Respawns: 2},
		},
	}

	buf := new(bytes.Buffer)
	printSnapshot(buf, snap, now)
	out := buf.String()

	for _, want := range []string{
		"2 workers, generation 3",
		"1,234,567 jobs since 2 hours ago",
		"SLOT",
		"4100",
		"1.5s ago",
		"1m30s",
		"1,234",
		"down",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("snapshot output should contain %q, got:\n%s", want, out)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m30s"},
		{-time.Second, "0ms"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
