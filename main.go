package main

import "github.com/iamthebestcoderalive/coldfront-guardian/cmd"

func main() {
	cmd.Execute()
}
