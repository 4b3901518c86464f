// Command vulndash serves the vulnerability dashboard and its terminal client.
package main

import "github.com/ashureev/vulndash/internal/cli"

func main() {
	cli.Execute()
}
