// Command eggsync records egg-defect detections locally and syncs them to
// the cloud when the device is online.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/eggsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
