// Command crawlkit is the CLI front-end for the crawl engine.
package main

import "github.com/cantrace/crawlkit/internal/cli"

func main() {
	cli.Execute()
}
