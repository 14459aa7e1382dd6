// Package process runs one-shot helper executables such as the
// microcontroller firmware updater.
//
// A Runner starts the binary in its own process group, logs its output line
// by line, and reports the exit status through Config.OnExit. Stats gives a
// live view (pid, uptime, output tail) while the binary runs.
// Stop terminates the whole group (SIGTERM, then SIGKILL after a grace
// period).
//
//	r := process.NewRunner(process.Config{
//	    Name:   "arduino-flash",
//	    Binary: "/opt/utilities/bin/ninja_update_arduino",
//	    Args:   []string{"-f", "V12"},
//	    OnExit: func(res process.Result) { log.Printf("exit %d", res.ExitCode) },
//	})
//	if err := r.Start(ctx); err != nil {
//	    return err
//	}
package process
