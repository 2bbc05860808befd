package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/aula/internal/config"
)

const (
	daemonBinary = "aulad"
	pidFile      = "aulad.pid"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the aula daemon in the background",
		RunE:  runStart,
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Stop the aula daemon",
		RunE:  runStop,
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE:  runStatus,
	}
	logsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon logs",
		RunE:  runLogs,
	}
)

func daemonAddr() string {
	return fmt.Sprintf("http://%s:%d", cfg.Daemon.Bind, cfg.Daemon.Port)
}

func aulaDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	return config.Dir()
}

func runStart(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if isRunning() {
		fmt.Fprintln(out, "Daemon is already running")
		return nil
	}

	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("setup aula directory: %w", err)
	}

	binary, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	daemon := exec.Command(binary)
	daemon.Dir = dir
	configureDaemonProcess(daemon)

	if err := daemon.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Fprint(out, "Starting daemon...")
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if isRunning() {
			fmt.Fprintf(out, " ok\nDaemon running at %s\n", daemonAddr())
			return nil
		}
	}
	fmt.Fprintln(out, " failed")
	return fmt.Errorf("daemon failed to start (check logs with 'aula logs')")
}

func runStop(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !isRunning() {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	dir, err := aulaDir()
	if err != nil {
		return err
	}
	pid, err := readPID(filepath.Join(dir, pidFile))
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Fprint(out, "Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isRunning() {
			fmt.Fprintln(out, " ok")
			return nil
		}
	}
	fmt.Fprintln(out, " failed")
	return fmt.Errorf("daemon did not stop gracefully")
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PID: %w", err)
	}
	return pid, nil
}

// daemonStatus mirrors the /v1/status response
type daemonStatus struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Storage       string   `json:"storage"`
	LLMProviders  []string `json:"llm_providers"`
	UptimeSeconds int      `json:"uptime_seconds"`
	EventQueue    bool     `json:"event_queue"`
	EventLog      bool     `json:"event_log"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !isRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	resp, err := http.Get(daemonAddr() + "/v1/status")
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("parse status: %w", err)
	}
	printStatus(out, status)
	return nil
}

func printStatus(w io.Writer, s daemonStatus) {
	fmt.Fprintf(w, "Status:    %s\n", s.Status)
	fmt.Fprintf(w, "Version:   %s\n", s.Version)
	fmt.Fprintf(w, "Storage:   %s\n", s.Storage)
	fmt.Fprintf(w, "Providers: %s\n", strings.Join(s.LLMProviders, ", "))
	fmt.Fprintf(w, "Uptime:    %s\n", time.Duration(s.UptimeSeconds)*time.Second)
	fmt.Fprintf(w, "Events:    queue=%s log=%s\n", onOff(s.EventQueue), onOff(s.EventLog))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir, err := aulaDir()
	if err != nil {
		return err
	}
	logPath := filepath.Join(dir, "logs", "aulad.log")

	file, err := os.Open(logPath)
	if os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No log file found. Start the daemon first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	return tail(file, 4096, cmd.OutOrStdout())
}

// tail copies the complete lines within the last n bytes of f
func tail(f *os.File, n int64, w io.Writer) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	if offset > 0 {
		_, _ = reader.ReadString('\n')
	}
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

// isRunning checks if the daemon answers its health endpoint
func isRunning() bool {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(daemonAddr() + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findDaemonBinary locates aulad in PATH or next to this binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath(daemonBinary); err == nil {
		return path, nil
	}
	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), daemonBinary)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s binary not found (build with 'go build ./cmd/aulad')", daemonBinary)
}
