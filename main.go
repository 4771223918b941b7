// Command harvester crawls a catalog category, publishes each listing to a durable queue
// and persists queued listings idempotently.
package main

import (
	"github.com/JakeFAU/catalog-harvester/cmd"
)

func main() {
	cmd.Execute()
}
