package main

import "github.com/smallbiznis/gatekeeper/cmd/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
