// Command medipay runs the prescription cost tracker.
package main

import "medipay/internal/cli"

func main() {
	cli.Execute()
}
