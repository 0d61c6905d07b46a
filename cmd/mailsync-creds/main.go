// mailsync-creds validates a remotepassfile outside the main process: it
// checks the file exists, is not group/world readable, and has a
// non-empty first line, then prints "ok" and exits 0 — or prints the
// problem and exits 1. Packaging scripts run this after writing out a
// remotepassfile so a bad file is caught before mailsync ever starts.
package main

import (
	"bufio"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: mailsync-creds <remotepassfile>")
		os.Exit(1)
	}
	if err := validate(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "mailsync-creds: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0077 != 0 {
		return fmt.Errorf("%s is readable by group or others (mode %04o); chmod 600 it", path, info.Mode().Perm())
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return fmt.Errorf("%s is empty", path)
	}
	if scanner.Text() == "" {
		return fmt.Errorf("%s's first line is empty", path)
	}
	return nil
}
