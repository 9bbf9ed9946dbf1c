package main

import "github.com/bizflycloud/crisis-stream/cmd"

func main() {
	cmd.Execute()
}
