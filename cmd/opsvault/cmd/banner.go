package cmd

import (
	"fmt"
)

const banner = `
                                    _ _
   ___  _ __  _____   ____ _ _   _| | |_
  / _ \| '_ \/ __\ \ / / _` + "`" + ` | | | | | __|
 | (_) | |_) \__ \\ V / (_| | |_| | | |_
  \___/| .__/|___/ \_/ \__,_|\__,_|_|\__|
       |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Operational secrets vault - Version %s\x1b[0m\n\n", Version)
}
