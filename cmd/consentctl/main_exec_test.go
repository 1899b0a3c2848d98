package main

import (
	"bytes"
	"os"
	"testing"
)

// TestMainDirect tests the actual main() function by overriding osExit
func TestMainDirect(t *testing.T) {
	origExit := osExit
	origArgs := os.Args
	defer func() {
		osExit = origExit
		os.Args = origArgs
	}()

	t.Run("main success path", func(t *testing.T) {
		exitCalled := false
		osExit = func(code int) { exitCalled = true }
		os.Args = []string{"consentctl", "template", "--key", "general"}

		main()

		if exitCalled {
			t.Fatal("osExit should not be called on success")
		}
	})

	t.Run("main error path calls osExit", func(t *testing.T) {
		exitCalled := false
		exitCode := 0
		osExit = func(code int) {
			exitCalled = true
			exitCode = code
		}
		os.Args = []string{"consentctl"} // no command

		main()

		if !exitCalled {
			t.Fatal("osExit should be called on error")
		}
		if exitCode != 1 {
			t.Fatalf("expected exit code 1, got %d", exitCode)
		}
	})
}

func TestUsage(t *testing.T) {
	var out bytes.Buffer
	usage(&out)
	if out.Len() == 0 {
		t.Fatal("expected usage output")
	}
}
