package main

import "storagemesh/cmd"

func main() {
	cmd.Execute()
}
