//go:build mage

package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/magefile/mage/mg"
)

// executeCmd runs a command, capturing its combined output. With stream set
// (or mage -v) the output is also echoed live; otherwise it is only dumped
// when the command fails.
func executeCmd(stream bool, command string, args ...string) (string, error) {
	fmt.Printf("Executing: %s %s\n", command, strings.Join(args, " "))

	var output bytes.Buffer
	cmd := exec.Command(command, args...)

	if stream || mg.Verbose() {
		cmd.Stdout = io.MultiWriter(&output, os.Stdout)
		cmd.Stderr = io.MultiWriter(&output, os.Stderr)
	} else {
		cmd.Stdout = &output
		cmd.Stderr = &output
	}

	if err := cmd.Run(); err != nil {
		if !stream && !mg.Verbose() {
			fmt.Println("... failed command output:")
			fmt.Println(output.String())
		}
		return "", fmt.Errorf("error executing %s: %w", command, err)
	}

	return output.String(), nil
}
