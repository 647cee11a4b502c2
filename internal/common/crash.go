package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is the directory where crash files are written.
// Set during application initialization.
var CrashLogDir = "./logs"

// InstallCrashHandler sets the crash file directory and makes sure it exists.
// Call at the very start of main().
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
	}
}

// WriteCrashFile writes a crash report to a file. Call from panic recovery
// handlers; the report survives even when the log pipeline is the casualty.
// Returns the path to the crash file.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	timestamp := time.Now().Format("2006-01-02T15-04-05")
	filename := fmt.Sprintf("crash-%s.log", timestamp)
	crashPath := filepath.Join(CrashLogDir, filename)

	var report bytes.Buffer

	report.WriteString("=== INDAGO CRASH REPORT ===\n")
	report.WriteString(fmt.Sprintf("Time: %s\n", time.Now().Format(time.RFC3339)))
	report.WriteString(fmt.Sprintf("Version: %s\n", GetFullVersion()))
	report.WriteString("\n")

	report.WriteString("=== PANIC VALUE ===\n")
	report.WriteString(fmt.Sprintf("%v\n", panicVal))
	report.WriteString("\n")

	report.WriteString("=== STACK TRACE ===\n")
	report.WriteString(stackTrace)
	report.WriteString("\n")

	report.WriteString("=== ALL GOROUTINES ===\n")
	report.WriteString(GetAllGoroutineStacks())
	report.WriteString("\n")

	report.WriteString("=== SYSTEM INFO ===\n")
	report.WriteString(fmt.Sprintf("NumGoroutine: %d\n", runtime.NumGoroutine()))
	report.WriteString(fmt.Sprintf("NumCPU: %d\n", runtime.NumCPU()))
	report.WriteString(fmt.Sprintf("GOOS: %s\n", runtime.GOOS))
	report.WriteString(fmt.Sprintf("GOARCH: %s\n", runtime.GOARCH))

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	report.WriteString(fmt.Sprintf("Alloc: %d MB\n", memStats.Alloc/1024/1024))
	report.WriteString(fmt.Sprintf("TotalAlloc: %d MB\n", memStats.TotalAlloc/1024/1024))
	report.WriteString(fmt.Sprintf("Sys: %d MB\n", memStats.Sys/1024/1024))
	report.WriteString(fmt.Sprintf("NumGC: %d\n", memStats.NumGC))
	report.WriteString("\n")

	report.WriteString("=== END CRASH REPORT ===\n")

	// Unbuffered file IO; buffered writers may never flush in a crash path
	file, err := os.OpenFile(crashPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create crash file: %v\n", err)
		fmt.Fprintf(os.Stderr, "%s", report.String())
		return ""
	}

	_, err = file.Write(report.Bytes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n", err)
		fmt.Fprintf(os.Stderr, "%s", report.String())
	}

	file.Sync()
	file.Close()

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
	fmt.Fprintf(os.Stderr, "Panic: %v\n", panicVal)

	return crashPath
}

// GetAllGoroutineStacks returns stack traces for all goroutines
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
		if len(buf) > 64*1024*1024 {
			return string(buf[:runtime.Stack(buf, true)])
		}
	}
}

// GetStackTrace returns the current goroutine's stack trace
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile is a deferred recovery handler for main: it writes a
// crash file and exits non-zero instead of dying with a bare panic trace.
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}
