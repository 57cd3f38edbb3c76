package main

import "github.com/sentinelops/onboard-wizard/cmd"

func main() {
	cmd.Execute()
}
